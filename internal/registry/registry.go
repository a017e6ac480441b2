// Package registry issues and resolves identity codes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
	"recruitd.org/internal/store"
)

const (
	maxIssueAttempts = 5
	maxLabelLen      = 120
)

type Registry struct {
	store   store.Store
	now     func() time.Time
	newCode func() (string, error)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCodeSource overrides the random code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(r *Registry) { r.newCode = fn }
}

func New(s store.Store, opts ...Option) *Registry {
	r := &Registry{store: s, now: time.Now, newCode: ids.Code}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IssuePersonal binds a new personal code of the given kind to owner. An
// owner holds at most one personal code per kind.
func (r *Registry) IssuePersonal(ctx context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error) {
	if !kind.Valid() {
		return domain.IdentityCode{}, fmt.Errorf("%w: unknown code kind %q", domain.ErrInvalidInput, kind)
	}
	return r.issue(ctx, domain.IdentityCode{OwnerID: ownerID, Kind: kind})
}

// EnsurePersonal returns the owner's personal code, issuing it if missing.
func (r *Registry) EnsurePersonal(ctx context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error) {
	var existing domain.IdentityCode
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		existing, err = tx.PersonalCode(ctx, ownerID, kind)
		return err
	})
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.IdentityCode{}, err
	}
	c, err := r.IssuePersonal(ctx, ownerID, kind)
	if errors.Is(err, domain.ErrDuplicateOwnerBinding) {
		// Lost a race with a concurrent issuer; theirs is the binding.
		return r.EnsurePersonal(ctx, ownerID, kind)
	}
	return c, err
}

// IssueLocation binds a new labelled location code to owner.
func (r *Registry) IssueLocation(ctx context.Context, ownerID string, kind domain.Kind, label string) (domain.IdentityCode, error) {
	if !kind.Valid() {
		return domain.IdentityCode{}, fmt.Errorf("%w: unknown code kind %q", domain.ErrInvalidInput, kind)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return domain.IdentityCode{}, fmt.Errorf("%w: label is required", domain.ErrInvalidInput)
	}
	if len(label) > maxLabelLen {
		return domain.IdentityCode{}, fmt.Errorf("%w: label too long", domain.ErrInvalidInput)
	}
	return r.issue(ctx, domain.IdentityCode{OwnerID: ownerID, Kind: kind, Location: true, Label: label})
}

func (r *Registry) issue(ctx context.Context, c domain.IdentityCode) (domain.IdentityCode, error) {
	if strings.TrimSpace(c.OwnerID) == "" {
		return domain.IdentityCode{}, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return domain.IdentityCode{}, err
		}
		c.Code = code
		c.CreatedAt = r.now().UTC()
		err = r.store.Atomically(ctx, func(tx store.Tx) error {
			if _, err := tx.User(ctx, c.OwnerID); err != nil {
				return err
			}
			return tx.InsertCode(ctx, c)
		})
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.IdentityCode{}, err
		}
		return c, nil
	}
	return domain.IdentityCode{}, fmt.Errorf("issue code: %d collisions in a row", maxIssueAttempts)
}

// Resolve looks a code up. It does not check whether the owner still exists.
func (r *Registry) Resolve(ctx context.Context, code string) (domain.IdentityCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.IdentityCode{}, domain.ErrNotFound
	}
	var c domain.IdentityCode
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.Code(ctx, code)
		return err
	})
	return c, err
}

// List returns every code bound to owner, oldest first.
func (r *Registry) List(ctx context.Context, ownerID string) ([]domain.IdentityCode, error) {
	var out []domain.IdentityCode
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListCodes(ctx, ownerID)
		return err
	})
	return out, err
}

// Revoke removes a location code. Submissions already attributed through it
// keep the raw code. Personal codes cannot be revoked.
func (r *Registry) Revoke(ctx context.Context, actor domain.User, code string) error {
	return r.store.Atomically(ctx, func(tx store.Tx) error {
		c, err := tx.Code(ctx, code)
		if err != nil {
			return err
		}
		if c.OwnerID != actor.ID && !actor.IsAdmin() {
			return domain.ErrUnauthorized
		}
		if !c.Location {
			return fmt.Errorf("%w: personal codes cannot be revoked", domain.ErrInvalidInput)
		}
		return tx.DeleteCode(ctx, code)
	})
}

// PublicInfo is what an anonymous visitor learns about a code.
type PublicInfo struct {
	Code      string       `json:"code"`
	Kind      domain.Kind  `json:"kind"`
	Location  bool         `json:"location"`
	Label     string       `json:"label,omitempty"`
	Recruiter RecruiterRef `json:"recruiter"`
}

type RecruiterRef struct {
	ID       string          `json:"id"`
	FullName string          `json:"full_name"`
	Rank     string          `json:"rank,omitempty"`
	Station  *domain.Station `json:"station,omitempty"`
}

// Lookup resolves a code for its landing page. A code whose owner no longer
// exists is reported as not found.
func (r *Registry) Lookup(ctx context.Context, code string) (PublicInfo, error) {
	var info PublicInfo
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		c, err := tx.Code(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		owner, err := tx.User(ctx, c.OwnerID)
		if err != nil {
			return err
		}
		info = PublicInfo{
			Code:     c.Code,
			Kind:     c.Kind,
			Location: c.Location,
			Label:    c.Label,
			Recruiter: RecruiterRef{
				ID:       owner.ID,
				FullName: owner.FullName,
				Rank:     owner.Rank,
			},
		}
		if owner.StationID != "" {
			if st, err := tx.Station(ctx, owner.StationID); err == nil {
				info.Recruiter.Station = &st
			}
		}
		return nil
	})
	return info, err
}
