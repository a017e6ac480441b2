package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

func TestAtomicallyRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, domain.User{ID: "u1", Email: "a@example.com", Role: domain.RoleRecruiter}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.Atomically(ctx, func(tx store.Tx) error {
		_, err := tx.User(ctx, "u1")
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSinglePendingRequestPerKind(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Atomically(ctx, func(tx store.Tx) error {
		if err := tx.InsertRequest(ctx, domain.Request{ID: "r1", Kind: domain.RequestEscalation, UserID: "u1", Status: domain.RequestPending, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, domain.Request{ID: "r2", Kind: domain.RequestTransfer, UserID: "u1", Status: domain.RequestPending, CreatedAt: now}); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, domain.Request{ID: "r3", Kind: domain.RequestEscalation, UserID: "u1", Status: domain.RequestPending, CreatedAt: now})
	})
	require.ErrorIs(t, err, domain.ErrRequestAlreadyPending)
}

func TestConsumeTokenOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertToken(ctx, domain.ApprovalToken{Token: "tok", RequestID: "r1", ExpiresAt: now.Add(time.Hour)})
	}))
	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		return tx.ConsumeToken(ctx, "tok", now)
	}))
	err := s.Atomically(ctx, func(tx store.Tx) error {
		return tx.ConsumeToken(ctx, "tok", now)
	})
	require.ErrorIs(t, err, domain.ErrTokenAlreadyConsumed)
}

func TestTallyCountsUnscannedSubmissions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertScan(ctx, domain.ScanEvent{ID: "s1", Code: "c1", OwnerID: "u1", Kind: domain.KindApplication, ScannedAt: now}))
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "a", Kind: domain.KindApplication, Source: domain.SourceCodeScan, OwnerID: "u1", Code: "c1", ScanID: "s1", CreatedAt: now}))
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "b", Kind: domain.KindSurvey, Source: domain.SourceSurvey, OwnerID: "u1", Code: "c1", CreatedAt: now}))
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "c", Kind: domain.KindApplication, Source: domain.SourceDirectEntry, OwnerID: "u1", CreatedAt: now}))
		return nil
	}))

	var tallies []store.CodeTally
	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		var err error
		tallies, err = tx.Tally(ctx, store.Scope{OwnerIDs: []string{"u1"}})
		return err
	}))
	require.Equal(t, []store.CodeTally{{Code: "c1", OwnerID: "u1", Scans: 1, Applications: 1, Surveys: 1, Unscanned: 1}}, tallies)
}
