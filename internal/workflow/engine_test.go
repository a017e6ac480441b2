package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
	"recruitd.org/internal/store/memory"
	"recruitd.org/internal/tokens"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	st    *memory.Store
	eng   *Engine
	clock *clock
	ctx   context.Context
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:    memory.New(),
		clock: &clock{t: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
		ctx:   context.Background(),
	}
	require.NoError(t, f.st.Atomically(f.ctx, func(tx store.Tx) error {
		for _, s := range []domain.Station{
			{ID: "st-1", Code: "1A1", Name: "Alpha"},
			{ID: "st-2", Code: "1B2", Name: "Bravo"},
			{ID: "st-3", Code: "1C3", Name: "Charlie"},
		} {
			if err := tx.UpsertStation(f.ctx, s); err != nil {
				return err
			}
		}
		for _, u := range []domain.User{
			{ID: "rec", Email: "rec@example.com", FullName: "Rec", Role: domain.RoleRecruiter, StationID: "st-1"},
			{ID: "cmdr", Email: "cmdr@example.com", FullName: "Cmdr", Role: domain.RoleCommander, StationID: "st-2"},
			{ID: "boss", Email: "boss@example.com", FullName: "Boss", Role: domain.RoleAdmin},
		} {
			if err := tx.CreateUser(f.ctx, u); err != nil {
				return err
			}
		}
		return nil
	}))
	tm := tokens.NewManager(24*time.Hour, tokens.WithClock(f.clock.now), tokens.WithTokenSource(func() (string, error) {
		f.seq++
		return fmt.Sprintf("tok-%d", f.seq), nil
	}))
	f.eng = New(f.st, tm, WithClock(f.clock.now), WithPublicBaseURL("https://crm.example.com/"), WithAdminEmail("ops@example.com"))
	return f
}

func (f *fixture) user(t *testing.T, id string) domain.User {
	t.Helper()
	var u domain.User
	require.NoError(t, f.st.Atomically(f.ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.User(f.ctx, id)
		return err
	}))
	return u
}

func (f *fixture) request(t *testing.T, id string) domain.Request {
	t.Helper()
	var r domain.Request
	require.NoError(t, f.st.Atomically(f.ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.Request(f.ctx, id)
		return err
	}))
	return r
}

func (f *fixture) token(t *testing.T, raw string) domain.ApprovalToken {
	t.Helper()
	var tok domain.ApprovalToken
	require.NoError(t, f.st.Atomically(f.ctx, func(tx store.Tx) error {
		var err error
		tok, err = tx.Token(f.ctx, raw)
		return err
	}))
	return tok
}

func TestEscalationApprovedByLink(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)
	require.Equal(t, domain.RolePendingCommander, res.User.Role)
	require.Equal(t, "st-1", res.Request.RequestedStationID)

	var created []domain.Event
	for _, e := range f.st.Events() {
		if e.Kind == domain.EventRoleRequestCreated {
			created = append(created, e)
		}
	}
	require.Len(t, created, 2)
	require.ElementsMatch(t, []string{"boss@example.com", "ops@example.com"}, []string{created[0].Recipient, created[1].Recipient})
	link, err := url.Parse(created[0].Data["approve_url"])
	require.NoError(t, err)
	require.Equal(t, "crm.example.com", link.Host)
	require.Equal(t, approvalRoute, link.Path)
	require.Equal(t, "tok-1", link.Query().Get("token"))
	require.Equal(t, "approve", link.Query().Get("action"))

	out, err := f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: true})
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, out.Request.Status)
	require.Equal(t, linkReviewer, out.Request.ReviewedBy)
	require.Equal(t, domain.RoleCommander, f.user(t, "rec").Role)
	require.True(t, f.token(t, "tok-1").Consumed())
}

func TestSecondEscalationRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)
	_, err = f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.ErrorIs(t, err, domain.ErrRequestAlreadyPending)

	_, err = f.eng.Apply(f.ctx, RequestEscalation{UserID: "cmdr", Justification: "covering leave"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestConcurrentRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			_, err := f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: approve})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrTokenAlreadyConsumed):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, lost)
}

func TestDenyRevertsPendingRole(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)

	out, err := f.eng.Apply(f.ctx, Decide{Token: "tok-1", Notes: " not yet "})
	require.NoError(t, err)
	require.Equal(t, domain.RequestDenied, out.Request.Status)
	require.Equal(t, "not yet", f.request(t, res.Request.ID).ReviewNotes)
	require.Equal(t, domain.RoleRecruiter, f.user(t, "rec").Role)

	last := f.st.Events()[len(f.st.Events())-1]
	require.Equal(t, domain.EventRoleRequestDenied, last.Kind)
	require.Equal(t, "rec@example.com", last.Recipient)
}

func TestExpiredTokenLeavesRequestUntilReaped(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)

	f.clock.advance(25 * time.Hour)
	_, err = f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: true})
	require.ErrorIs(t, err, domain.ErrTokenExpired)
	require.True(t, f.request(t, res.Request.ID).Pending())
	require.Equal(t, domain.RolePendingCommander, f.user(t, "rec").Role)

	n, err := f.eng.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	req := f.request(t, res.Request.ID)
	require.Equal(t, domain.RequestExpired, req.Status)
	require.Equal(t, expiredNote, req.ReviewNotes)
	require.Equal(t, domain.RoleRecruiter, f.user(t, "rec").Role)

	n, err = f.eng.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: true})
	require.ErrorIs(t, err, domain.ErrTokenAlreadyConsumed)
}

func TestExpiredTransferIsDenied(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestTransfer{UserID: "rec", StationID: "st-3", Reason: "moved"})
	require.NoError(t, err)
	f.clock.advance(48 * time.Hour)

	n, err := f.eng.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, domain.RequestDenied, f.request(t, res.Request.ID).Status)
	require.Equal(t, "st-1", f.user(t, "rec").StationID)
}

func TestCommanderTransferDemotes(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(f.ctx, RequestTransfer{UserID: "cmdr", StationID: "st-2", Reason: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.eng.Apply(f.ctx, RequestTransfer{UserID: "cmdr", StationID: "st-3"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.eng.Apply(f.ctx, RequestTransfer{UserID: "cmdr", StationID: "st-3", Reason: "family move"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleCommander, f.user(t, "cmdr").Role)

	out, err := f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: true})
	require.NoError(t, err)
	require.Equal(t, "st-3", out.User.StationID)
	require.Equal(t, domain.RoleRecruiter, out.User.Role)
}

func TestEscalationRequiresJustification(t *testing.T) {
	f := newFixture(t)
	for _, j := range []string{"", "   "} {
		_, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: j})
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	require.Equal(t, domain.RoleRecruiter, f.user(t, "rec").Role)
	_, err := f.eng.LatestRequest(f.ctx, "rec", domain.RequestEscalation)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdminDirectMoveDemotesCommander(t *testing.T) {
	f := newFixture(t)
	out, err := f.eng.Apply(f.ctx, AdminSetStation{ActorID: "boss", UserID: "cmdr", StationID: "st-3"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleRecruiter, out.User.Role)
	require.Equal(t, true, out.fields["demoted"])

	u := f.user(t, "cmdr")
	require.Equal(t, "st-3", u.StationID)
	require.Equal(t, domain.RoleRecruiter, u.Role)

	// Reassigning the same station changes nothing.
	out, err = f.eng.Apply(f.ctx, AdminSetStation{ActorID: "boss", UserID: "rec", StationID: "st-1"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleRecruiter, out.User.Role)
	require.Equal(t, false, out.fields["demoted"])
}

func TestAdminDirectChangeMakesApprovalStale(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)

	_, err = f.eng.Apply(f.ctx, AdminSetStation{ActorID: "boss", UserID: "rec", StationID: "st-3"})
	require.NoError(t, err)

	_, err = f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: true})
	require.ErrorIs(t, err, domain.ErrStaleRequest)
	require.True(t, f.request(t, res.Request.ID).Pending())
	require.False(t, f.token(t, "tok-1").Consumed())
	require.Equal(t, domain.RolePendingCommander, f.user(t, "rec").Role)

	// Denial still goes through.
	_, err = f.eng.Apply(f.ctx, Decide{Token: "tok-1"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleRecruiter, f.user(t, "rec").Role)
}

func TestAdminDecisionConsumesLink(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Apply(f.ctx, RequestTransfer{UserID: "rec", StationID: "st-2", Reason: "closer to home"})
	require.NoError(t, err)

	_, err = f.eng.Apply(f.ctx, Decide{RequestID: res.Request.ID, ActorID: "rec", Approve: true})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Apply(f.ctx, Decide{Kind: domain.RequestEscalation, RequestID: res.Request.ID, ActorID: "boss", Approve: true})
	require.ErrorIs(t, err, domain.ErrNotFound)

	out, err := f.eng.Apply(f.ctx, Decide{Kind: domain.RequestTransfer, RequestID: res.Request.ID, ActorID: "boss", Approve: true})
	require.NoError(t, err)
	require.Equal(t, "boss", out.Request.ReviewedBy)
	require.Equal(t, "st-2", f.user(t, "rec").StationID)

	_, err = f.eng.Apply(f.ctx, Decide{Token: "tok-1", Approve: false})
	require.ErrorIs(t, err, domain.ErrTokenAlreadyConsumed)
	_, err = f.eng.Apply(f.ctx, Decide{RequestID: res.Request.ID, ActorID: "boss"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestAdminSetStationRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(f.ctx, AdminSetStation{ActorID: "cmdr", UserID: "rec", StationID: "st-3"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Apply(f.ctx, AdminSetStation{ActorID: "ghost", UserID: "rec", StationID: "st-3"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.eng.Apply(f.ctx, AdminSetStation{ActorID: "boss", UserID: "rec", StationID: "nowhere"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Equal(t, "st-1", f.user(t, "rec").StationID)

	// Admins requesting a transfer are moved directly.
	res, err := f.eng.Apply(f.ctx, RequestTransfer{UserID: "boss", StationID: "st-2"})
	require.NoError(t, err)
	require.Nil(t, res.Request)
	require.Equal(t, "st-2", res.User.StationID)
}

func TestListAndCounts(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(f.ctx, RequestEscalation{UserID: "rec", Justification: "covering leave"})
	require.NoError(t, err)
	_, err = f.eng.Apply(f.ctx, RequestTransfer{UserID: "cmdr", StationID: "st-1", Reason: "swap"})
	require.NoError(t, err)

	_, err = f.eng.PendingCounts(f.ctx, "rec")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	counts, err := f.eng.PendingCounts(f.ctx, "boss")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.RequestEscalation])
	require.Equal(t, 1, counts[domain.RequestTransfer])

	views, err := f.eng.ListRequests(f.ctx, "boss", domain.RequestTransfer, domain.RequestPending)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "Cmdr", views[0].UserName)

	latest, err := f.eng.LatestRequest(f.ctx, "rec", domain.RequestEscalation)
	require.NoError(t, err)
	require.True(t, latest.Pending())
	_, err = f.eng.LatestRequest(f.ctx, "rec", domain.RequestTransfer)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunReaperStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.eng.RunReaper(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
