package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
	"recruitd.org/internal/store/memory"
)

func TestRate(t *testing.T) {
	require.Equal(t, 0.0, Rate(0, 0))
	require.Equal(t, 0.0, Rate(3, 0))
	require.Equal(t, 0.5, Rate(1, 2))
	require.Equal(t, 1.0, Rate(5, 2))
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Atomically(ctx, func(tx store.Tx) error {
		users := []domain.User{
			{ID: "a", Email: "a@x", FullName: "A", Role: domain.RoleRecruiter, StationID: "st-1"},
			{ID: "b", Email: "b@x", FullName: "B", Role: domain.RoleRecruiter, StationID: "st-2"},
		}
		for _, u := range users {
			require.NoError(t, tx.CreateUser(ctx, u))
		}
		require.NoError(t, tx.InsertCode(ctx, domain.IdentityCode{Code: "pa", OwnerID: "a", Kind: domain.KindApplication, CreatedAt: now}))
		require.NoError(t, tx.InsertCode(ctx, domain.IdentityCode{Code: "la", OwnerID: "a", Kind: domain.KindSurvey, Location: true, Label: "Mall", CreatedAt: now}))
		require.NoError(t, tx.InsertCode(ctx, domain.IdentityCode{Code: "pb", OwnerID: "b", Kind: domain.KindApplication, CreatedAt: now}))

		for i, id := range []string{"s1", "s2", "s3", "s4"} {
			require.NoError(t, tx.InsertScan(ctx, domain.ScanEvent{ID: id, Code: "pa", OwnerID: "a", Kind: domain.KindApplication, ScannedAt: now.Add(time.Duration(i) * time.Minute)}))
		}
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "x1", Kind: domain.KindApplication, Source: domain.SourceCodeScan, OwnerID: "a", Code: "pa", ScanID: "s1", CreatedAt: now}))
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "x2", Kind: domain.KindSurvey, Source: domain.SourceSurvey, OwnerID: "a", Code: "la", CreatedAt: now}))
		require.NoError(t, tx.InsertSubmission(ctx, domain.Submission{ID: "x3", Kind: domain.KindApplication, Source: domain.SourceDirectEntry, OwnerID: "b", CreatedAt: now}))
		return nil
	}))
	return st
}

func TestConversionsForRecruiter(t *testing.T) {
	agg := New(seed(t))
	report, err := agg.Conversions(context.Background(), domain.User{ID: "a", Role: domain.RoleRecruiter, StationID: "st-1"})
	require.NoError(t, err)

	want := []OwnerStats{{
		OwnerID:   "a",
		OwnerName: "A",
		StationID: "st-1",
		Codes: []CodeStats{
			{Code: "la", Label: "Mall", Kind: domain.KindSurvey, Location: true, Counts: Counts{Scans: 1, SurveysFromScans: 1, ConversionRate: 1}},
			{Code: "pa", Label: domain.DefaultCodeLabel, Kind: domain.KindApplication, Counts: Counts{Scans: 4, ApplicationsFromScans: 1, ConversionRate: 0.25}},
		},
		Counts: Counts{Scans: 5, ApplicationsFromScans: 1, SurveysFromScans: 1, ConversionRate: 0.4},
	}}
	if diff := cmp.Diff(want, report.Owners, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("owners mismatch (-want +got):\n%s", diff)
	}
	require.InDelta(t, 0.4, report.Totals.ConversionRate, 1e-9)
}

func TestConversionsWithoutScansIsZero(t *testing.T) {
	agg := New(seed(t))
	report, err := agg.Conversions(context.Background(), domain.User{ID: "b", Role: domain.RoleRecruiter, StationID: "st-2"})
	require.NoError(t, err)
	require.Empty(t, report.Owners)
	require.Equal(t, 0.0, report.Totals.ConversionRate)
}

func TestConversionsAdminSeesAllAndCaches(t *testing.T) {
	st := seed(t)
	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	agg := New(st, WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))
	admin := domain.User{ID: "root", Role: domain.RoleAdmin}
	ctx := context.Background()

	first, err := agg.Conversions(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, 5, first.Totals.Scans)

	require.NoError(t, st.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertScan(ctx, domain.ScanEvent{ID: "s9", Code: "pb", OwnerID: "b", Kind: domain.KindApplication, ScannedAt: now})
	}))
	cached, err := agg.Conversions(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, 5, cached.Totals.Scans)

	now = now.Add(2 * time.Minute)
	fresh, err := agg.Conversions(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, 6, fresh.Totals.Scans)
	require.Len(t, fresh.Owners, 2)
}
