// Package attribution records submissions and scans and decides who gets
// credit for them.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
	"recruitd.org/internal/notify"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/store"
)

const maxIdempotencyKeyLen = 128

type Resolver struct {
	store store.Store
	now   func() time.Time
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func New(s store.Store, opts ...Option) *Resolver {
	r := &Resolver{store: s, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Input is an inbound application or survey. Code, SessionUserID, ScanID and
// IdempotencyKey are optional.
type Input struct {
	Kind           domain.Kind
	Applicant      domain.Applicant
	Rating         int
	Feedback       string
	Code           string
	SessionUserID  string
	ScanID         string
	IdempotencyKey string
	IPAddress      string
}

func (in Input) validate() error {
	if in.Kind != "" && !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, in.Kind)
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key too long", domain.ErrInvalidInput)
	}
	if in.Rating < 0 || in.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrInvalidInput)
	}
	return nil
}

// Submit attributes and stores a submission. Attribution priority is a code
// whose owner still exists, then the authenticated session, then none. A
// repeated idempotency key returns the original submission together with
// domain.ErrDuplicateSubmission.
func (r *Resolver) Submit(ctx context.Context, in Input) (domain.Submission, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if err := in.validate(); err != nil {
		return domain.Submission{}, err
	}
	now := r.now().UTC()
	sub := domain.Submission{
		ID:             ids.New(),
		Kind:           in.Kind,
		Applicant:      trimApplicant(in.Applicant),
		Rating:         in.Rating,
		Feedback:       strings.TrimSpace(in.Feedback),
		Source:         domain.SourceUnattributed,
		Code:           in.Code,
		IdempotencyKey: in.IdempotencyKey,
		Status:         domain.StatusProspect,
		IPAddress:      in.IPAddress,
		CreatedAt:      now,
	}

	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		if sub.IdempotencyKey != "" {
			_, err := tx.SubmissionByIdempotencyKey(ctx, sub.IdempotencyKey)
			if err == nil {
				return domain.ErrDuplicateSubmission
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		owner, codeKind, err := r.attribute(ctx, tx, in, &sub)
		if err != nil {
			return err
		}
		if sub.Kind == "" {
			sub.Kind = codeKind
		}
		if sub.Kind == "" {
			sub.Kind = domain.KindApplication
		}
		if sub.Kind == domain.KindApplication && (sub.Applicant.FirstName == "" || sub.Applicant.LastName == "") {
			return fmt.Errorf("%w: first_name and last_name are required", domain.ErrInvalidInput)
		}

		var scan *domain.ScanEvent
		if sub.Source.ViaCode() {
			if scan, err = r.pendingScan(ctx, tx, sub.Code, sub.Kind, in.ScanID); err != nil {
				return err
			}
			if scan != nil {
				sub.ScanID = scan.ID
			}
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		if scan != nil {
			if err := tx.ConvertScan(ctx, scan.ID, sub.ID); err != nil {
				return err
			}
		}
		if owner != nil {
			ev := notify.NewEvent(domain.EventSubmissionAttributed, owner.Email, map[string]string{
				"submission_id":  sub.ID,
				"kind":           string(sub.Kind),
				"source":         string(sub.Source),
				"code":           sub.Code,
				"applicant_name": strings.TrimSpace(sub.Applicant.FirstName + " " + sub.Applicant.LastName),
			}, now)
			if err := tx.Enqueue(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		return r.original(ctx, sub.IdempotencyKey, err)
	}
	if err != nil {
		return domain.Submission{}, err
	}
	obs.SubmissionRecorded(string(sub.Source))
	obs.Logger().Info("submission recorded",
		zap.String("submission_id", sub.ID),
		zap.String("source", string(sub.Source)),
		zap.String("owner_id", sub.OwnerID),
	)
	return sub, nil
}

// original loads the submission that first used key. The insert may have
// lost a race rather than hit the pre-check, so it is always reloaded.
func (r *Resolver) original(ctx context.Context, key string, cause error) (domain.Submission, error) {
	var existing domain.Submission
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		existing, err = tx.SubmissionByIdempotencyKey(ctx, key)
		return err
	})
	if err != nil {
		return domain.Submission{}, cause
	}
	return existing, cause
}

// attribute fills Source and OwnerID. It returns the credited owner, if any,
// and the kind of the resolved code.
func (r *Resolver) attribute(ctx context.Context, tx store.Tx, in Input, sub *domain.Submission) (*domain.User, domain.Kind, error) {
	var codeKind domain.Kind
	if in.Code != "" {
		c, err := tx.Code(ctx, in.Code)
		switch {
		case err == nil:
			codeKind = c.Kind
			owner, err := tx.User(ctx, c.OwnerID)
			if err == nil {
				sub.OwnerID = owner.ID
				sub.Source = domain.SourceCodeScan
				if c.Kind == domain.KindSurvey {
					sub.Source = domain.SourceSurvey
				}
				return &owner, codeKind, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, "", err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return nil, "", err
		}
	}
	if in.SessionUserID != "" {
		owner, err := tx.User(ctx, in.SessionUserID)
		if err == nil {
			sub.OwnerID = owner.ID
			sub.Source = domain.SourceDirectEntry
			return &owner, codeKind, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, codeKind, nil
}

// pendingScan picks the scan event a code submission converts: the given
// scan when it belongs to the code and is unconverted, otherwise the latest
// unconverted scan of the code.
func (r *Resolver) pendingScan(ctx context.Context, tx store.Tx, code string, kind domain.Kind, scanID string) (*domain.ScanEvent, error) {
	if scanID != "" {
		s, err := tx.Scan(ctx, scanID)
		if err == nil && s.Code == code && s.SubmissionID == "" {
			return &s, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	s, err := tx.LatestUnconvertedScan(ctx, code, kind)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type ScanInput struct {
	Code      string
	IPAddress string
	UserAgent string
	Referrer  string
}

// RecordScan logs a visit to a code's landing page.
func (r *Resolver) RecordScan(ctx context.Context, in ScanInput) (domain.ScanEvent, error) {
	var scan domain.ScanEvent
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		c, err := tx.Code(ctx, strings.TrimSpace(in.Code))
		if err != nil {
			return err
		}
		scan = domain.ScanEvent{
			ID:        ids.New(),
			Code:      c.Code,
			OwnerID:   c.OwnerID,
			Kind:      c.Kind,
			IPAddress: in.IPAddress,
			UserAgent: truncate(in.UserAgent, 512),
			Referrer:  truncate(in.Referrer, 512),
			ScannedAt: r.now().UTC(),
		}
		return tx.InsertScan(ctx, scan)
	})
	return scan, err
}

func trimApplicant(a domain.Applicant) domain.Applicant {
	return domain.Applicant{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Email:     strings.ToLower(strings.TrimSpace(a.Email)),
		Phone:     strings.TrimSpace(a.Phone),
		ZipCode:   strings.TrimSpace(a.ZipCode),
	}
}

// truncate caps s at n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.ToValidUTF8(s[:n], "")
}
