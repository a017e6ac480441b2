package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/store"
)

// LatestRequest returns the user's most recent request of kind.
func (e *Engine) LatestRequest(ctx context.Context, userID string, kind domain.RequestKind) (domain.Request, error) {
	var req domain.Request
	err := e.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.LatestRequest(ctx, userID, kind)
		return err
	})
	return req, err
}

// RequestView is a request joined with the requesting user, for admins.
type RequestView struct {
	domain.Request
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// ListRequests lists requests of kind, optionally filtered by status. Admin only.
func (e *Engine) ListRequests(ctx context.Context, actorID string, kind domain.RequestKind, status domain.RequestStatus) ([]RequestView, error) {
	out := []RequestView{}
	err := e.store.Atomically(ctx, func(tx store.Tx) error {
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		reqs, err := tx.ListRequests(ctx, kind, status)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			v := RequestView{Request: r}
			if u, err := tx.User(ctx, r.UserID); err == nil {
				v.UserName, v.UserEmail = u.FullName, u.Email
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// PendingCounts reports pending requests per kind. Admin only.
func (e *Engine) PendingCounts(ctx context.Context, actorID string) (map[domain.RequestKind]int, error) {
	var counts map[domain.RequestKind]int
	err := e.store.Atomically(ctx, func(tx store.Tx) error {
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		var err error
		counts, err = tx.CountPending(ctx)
		return err
	})
	return counts, err
}

// ExpireStale closes pending requests whose approval token has lapsed and
// returns how many requests it closed.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	var due []domain.ApprovalToken
	err := e.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.ExpiredTokens(ctx, e.now().UTC(), reaperBatch)
		return err
	})
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, tok := range due {
		res, err := e.Apply(ctx, expireRequest{Token: tok})
		if err != nil {
			obs.Logger().Warn("expire request failed", zap.String("request_id", tok.RequestID), zap.Error(err))
			continue
		}
		if res.event != "" {
			closed++
		}
	}
	return closed, nil
}

// RunReaper calls ExpireStale every interval until ctx ends. A non-positive
// interval disables it.
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.ExpireStale(ctx)
			if err != nil {
				obs.Logger().Error("reaper pass failed", zap.Error(err))
				continue
			}
			if n > 0 {
				obs.Logger().Info("expired stale requests", zap.Int("count", n))
			}
		}
	}
}
