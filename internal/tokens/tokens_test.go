package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
	"recruitd.org/internal/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMintDefaultsToSevenDays(t *testing.T) {
	st := memory.New()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(0, WithClock(c.now))
	ctx := context.Background()

	var tok domain.ApprovalToken
	require.NoError(t, st.Atomically(ctx, func(tx store.Tx) error {
		var err error
		tok, err = m.Mint(ctx, tx, "req-1", domain.RequestEscalation)
		return err
	}))
	require.Equal(t, c.t.Add(7*24*time.Hour), tok.ExpiresAt)
	require.NotEmpty(t, tok.Token)
}

func TestRedeemOutcomes(t *testing.T) {
	st := memory.New()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, WithClock(c.now))
	ctx := context.Background()

	var live, stale domain.ApprovalToken
	require.NoError(t, st.Atomically(ctx, func(tx store.Tx) error {
		var err error
		if live, err = m.Mint(ctx, tx, "req-1", domain.RequestEscalation); err != nil {
			return err
		}
		stale, err = m.Mint(ctx, tx, "req-2", domain.RequestTransfer)
		return err
	}))

	redeem := func(raw string) error {
		return st.Atomically(ctx, func(tx store.Tx) error {
			_, err := m.Redeem(ctx, tx, raw)
			return err
		})
	}

	require.ErrorIs(t, redeem("nope"), domain.ErrTokenInvalid)
	require.ErrorIs(t, redeem(""), domain.ErrTokenInvalid)
	require.NoError(t, redeem(live.Token))
	require.ErrorIs(t, redeem(live.Token), domain.ErrTokenAlreadyConsumed)

	c.t = c.t.Add(2 * time.Hour)
	require.ErrorIs(t, redeem(stale.Token), domain.ErrTokenExpired)
}

func TestCheckPrefersConsumedOverExpired(t *testing.T) {
	now := time.Now()
	consumed := now.Add(-time.Minute)
	tok := domain.ApprovalToken{ExpiresAt: now.Add(-time.Hour), ConsumedAt: &consumed}
	require.ErrorIs(t, Check(tok, now), domain.ErrTokenAlreadyConsumed)
}
