// Package notify renders outbox events and delivers them with retries.
// Events are written by the workflow and attribution packages inside
// their own transactions; the dispatcher only reads the outbox.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/store"
)

const (
	defaultBatch       = 50
	defaultMaxAttempts = 8
	defaultLease       = time.Minute
	defaultBaseDelay   = 30 * time.Second
	defaultMaxDelay    = time.Hour
	maxErrorLen        = 500
	parallelSends      = 4
)

type Dispatcher struct {
	store       store.Store
	sender      Sender
	batch       int
	maxAttempts int
	lease       time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
}

type Option func(*Dispatcher)

func WithBatch(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithMaxAttempts sets how many failed sends mark an event dead.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBackoff(base, limit time.Duration) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseDelay = base
		}
		if limit >= base && limit > 0 {
			d.maxDelay = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(s store.Store, sender Sender, opts ...Option) *Dispatcher {
	if sender == nil {
		sender = LogSender{}
	}
	d := &Dispatcher{
		store:       s,
		sender:      sender,
		batch:       defaultBatch,
		maxAttempts: defaultMaxAttempts,
		lease:       defaultLease,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunOnce leases a batch of due events, sends them and records the outcome.
// It returns how many were delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var due []domain.Event
	err := d.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.Lease(ctx, d.now().UTC(), d.batch, d.lease)
		return err
	})
	if err != nil || len(due) == 0 {
		return 0, err
	}

	results := make([]error, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelSends)
	for i := range due {
		g.Go(func() error {
			results[i] = d.sender.Send(gctx, due[i])
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for i, e := range due {
		if err := d.record(ctx, e, results[i]); err != nil {
			return sent, err
		}
		if results[i] == nil {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) record(ctx context.Context, e domain.Event, sendErr error) error {
	now := d.now().UTC()
	if sendErr == nil {
		obs.NotificationDelivered(string(e.Kind), "sent")
		return d.store.Atomically(ctx, func(tx store.Tx) error {
			return tx.MarkSent(ctx, e.ID, now)
		})
	}
	e.Attempts++
	e.LastError = truncate(sendErr.Error(), maxErrorLen)
	result := "retry"
	if e.Attempts >= d.maxAttempts {
		e.Status = domain.EventDead
		result = "dead"
		obs.Logger().Error("notification dead-lettered",
			zap.String("event_id", e.ID), zap.String("kind", string(e.Kind)), zap.Int("attempts", e.Attempts), zap.Error(sendErr))
	} else {
		e.NextAttemptAt = now.Add(d.Backoff(e.Attempts))
		obs.Logger().Warn("notification send failed",
			zap.String("event_id", e.ID), zap.Int("attempts", e.Attempts), zap.Time("next_attempt_at", e.NextAttemptAt), zap.Error(sendErr))
	}
	obs.NotificationDelivered(string(e.Kind), result)
	return d.store.Atomically(ctx, func(tx store.Tx) error {
		return tx.MarkFailed(ctx, e)
	})
}

// Backoff is the delay before retry number attempts+1: base doubled per
// failure, capped at the max delay.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	delay := d.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxDelay {
			return d.maxDelay
		}
	}
	return delay
}

// Run drains the outbox every interval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			obs.Logger().Error("dispatch pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
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
