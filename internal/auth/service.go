package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
	"recruitd.org/internal/store"
)

const minPasswordLen = 8

// CodeIssuer provisions the personal codes every recruiter starts with.
type CodeIssuer interface {
	EnsurePersonal(ctx context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error)
}

// Service registers users and issues bearer sessions.
type Service struct {
	store  store.Store
	signer *Signer
	codes  CodeIssuer
	admins map[string]bool
	now    func() time.Time
}

type Option func(*Service)

// WithAdminEmails makes registrations with these addresses admins.
func WithAdminEmails(emails ...string) Option {
	return func(s *Service) {
		for _, e := range emails {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				s.admins[e] = true
			}
		}
	}
}

func WithCodeIssuer(c CodeIssuer) Option {
	return func(s *Service) { s.codes = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(st store.Store, signer *Signer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		signer: signer,
		admins: map[string]bool{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	Rank      string `json:"rank"`
	StationID string `json:"station_id"`
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

// Register creates a recruiter account, provisions its personal codes and
// returns a session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, fmt.Errorf("%w: email is invalid", domain.ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return Session{}, fmt.Errorf("%w: full_name is required", domain.ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	u := domain.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Rank:         strings.TrimSpace(in.Rank),
		Role:         domain.RoleRecruiter,
		StationID:    strings.TrimSpace(in.StationID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.admins[email] {
		u.Role = domain.RoleAdmin
	}
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		if u.StationID != "" {
			if _, err := tx.Station(ctx, u.StationID); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: unknown station", domain.ErrInvalidInput)
				}
				return err
			}
		}
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return Session{}, err
	}
	if s.codes != nil {
		for _, kind := range []domain.Kind{domain.KindApplication, domain.KindSurvey} {
			if _, err := s.codes.EnsurePersonal(ctx, u.ID, kind); err != nil {
				return Session{}, fmt.Errorf("issue personal %s code: %w", kind, err)
			}
		}
	}
	return s.session(u)
}

// Login verifies credentials and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u domain.User
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.UserByEmail(ctx, email)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

// Authenticate resolves a bearer token to the user's current record.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return domain.User{}, err
	}
	var u domain.User
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.User(ctx, claims.Subject)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ErrInvalidToken
	}
	return u, err
}

func (s *Service) session(u domain.User) (Session, error) {
	token, expiresAt, err := s.signer.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}
