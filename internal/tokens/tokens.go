// Package tokens mints and redeems single-use approval tokens. Both
// operations run inside the caller's transaction so that consuming a token
// and acting on it commit together.
package tokens

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
	DefaultTTL   = 7 * 24 * time.Hour
	mintAttempts = 3
)

type Manager struct {
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTokenSource(fn func() (string, error)) Option {
	return func(m *Manager) { m.newToken = fn }
}

// NewManager returns a Manager minting tokens valid for ttl (DefaultTTL when
// ttl is not positive).
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{ttl: ttl, now: time.Now, newToken: ids.Token}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Mint creates a token for the request and stores it through tx.
func (m *Manager) Mint(ctx context.Context, tx store.Tokens, requestID string, kind domain.RequestKind) (domain.ApprovalToken, error) {
	now := m.now().UTC()
	for attempt := 0; attempt < mintAttempts; attempt++ {
		raw, err := m.newToken()
		if err != nil {
			return domain.ApprovalToken{}, err
		}
		tok := domain.ApprovalToken{
			Token:       raw,
			RequestID:   requestID,
			RequestKind: kind,
			ExpiresAt:   now.Add(m.ttl),
			CreatedAt:   now,
		}
		err = tx.InsertToken(ctx, tok)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.ApprovalToken{}, err
		}
		return tok, nil
	}
	return domain.ApprovalToken{}, fmt.Errorf("mint token: %d collisions in a row", mintAttempts)
}

// Check reports why a token can no longer be used, if it cannot.
func Check(tok domain.ApprovalToken, now time.Time) error {
	if tok.Consumed() {
		return domain.ErrTokenAlreadyConsumed
	}
	if tok.Expired(now) {
		return domain.ErrTokenExpired
	}
	return nil
}

// Redeem validates and consumes a token. A concurrent redemption that loses
// the conditional update gets domain.ErrTokenAlreadyConsumed.
func (m *Manager) Redeem(ctx context.Context, tx store.Tokens, raw string) (domain.ApprovalToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ApprovalToken{}, domain.ErrTokenInvalid
	}
	tok, err := tx.Token(ctx, raw)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ApprovalToken{}, domain.ErrTokenInvalid
	}
	if err != nil {
		return domain.ApprovalToken{}, err
	}
	now := m.now().UTC()
	if err := Check(tok, now); err != nil {
		return tok, err
	}
	if err := tx.ConsumeToken(ctx, raw, now); err != nil {
		return tok, err
	}
	tok.ConsumedAt = &now
	return tok, nil
}
