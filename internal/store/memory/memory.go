// Package memory is an in-process Store. Transactions are serialized by a
// single mutex and applied copy-on-write, so a failed unit of work leaves no
// trace.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

type Store struct {
	mu   sync.Mutex
	data *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Atomically(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type state struct {
	users       map[string]domain.User
	stations    map[string]domain.Station
	codes       map[string]domain.IdentityCode
	scans       map[string]domain.ScanEvent
	submissions map[string]domain.Submission
	notes       map[string][]domain.Note
	sorb        map[string]domain.SORBProfile
	requests    map[string]domain.Request
	tokens      map[string]domain.ApprovalToken
	events      map[string]domain.Event
}

func newState() *state {
	return &state{
		users:       map[string]domain.User{},
		stations:    map[string]domain.Station{},
		codes:       map[string]domain.IdentityCode{},
		scans:       map[string]domain.ScanEvent{},
		submissions: map[string]domain.Submission{},
		notes:       map[string][]domain.Note{},
		sorb:        map[string]domain.SORBProfile{},
		requests:    map[string]domain.Request{},
		tokens:      map[string]domain.ApprovalToken{},
		events:      map[string]domain.Event{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:       cloneMap(s.users),
		stations:    cloneMap(s.stations),
		codes:       cloneMap(s.codes),
		scans:       cloneMap(s.scans),
		submissions: cloneMap(s.submissions),
		notes:       make(map[string][]domain.Note, len(s.notes)),
		sorb:        cloneMap(s.sorb),
		requests:    cloneMap(s.requests),
		tokens:      cloneMap(s.tokens),
		events:      cloneMap(s.events),
	}
	for k, v := range s.notes {
		c.notes[k] = append([]domain.Note(nil), v...)
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type tx struct {
	st *state
}

var _ store.Tx = (*tx)(nil)

// --- users ---

func (t *tx) CreateUser(_ context.Context, u domain.User) error {
	for _, existing := range t.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrEmailTaken
		}
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *tx) User(_ context.Context, id string) (domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (t *tx) UserForUpdate(ctx context.Context, id string) (domain.User, error) {
	return t.User(ctx, id)
}

func (t *tx) UserByEmail(_ context.Context, email string) (domain.User, error) {
	for _, u := range t.st.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (t *tx) UsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	return t.filterUsers(func(u domain.User) bool { return u.Role == role }), nil
}

func (t *tx) UsersByStation(_ context.Context, stationID string) ([]domain.User, error) {
	return t.filterUsers(func(u domain.User) bool { return u.StationID == stationID }), nil
}

func (t *tx) filterUsers(keep func(domain.User) bool) []domain.User {
	var out []domain.User
	for _, u := range t.st.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) SetUserAccess(_ context.Context, id string, role domain.Role, stationID string, at time.Time) error {
	u, ok := t.st.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Role = role
	u.StationID = stationID
	u.UpdatedAt = at
	t.st.users[id] = u
	return nil
}

// --- stations ---

func (t *tx) UpsertStation(_ context.Context, s domain.Station) error {
	t.st.stations[s.ID] = s
	return nil
}

func (t *tx) Station(_ context.Context, id string) (domain.Station, error) {
	s, ok := t.st.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrNotFound
	}
	return s, nil
}

func (t *tx) ListStations(_ context.Context) ([]domain.Station, error) {
	out := make([]domain.Station, 0, len(t.st.stations))
	for _, s := range t.st.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// --- codes ---

func (t *tx) InsertCode(_ context.Context, c domain.IdentityCode) error {
	if _, ok := t.st.codes[c.Code]; ok {
		return store.ErrCodeTaken
	}
	if !c.Location {
		for _, existing := range t.st.codes {
			if !existing.Location && existing.OwnerID == c.OwnerID && existing.Kind == c.Kind {
				return domain.ErrDuplicateOwnerBinding
			}
		}
	}
	t.st.codes[c.Code] = c
	return nil
}

func (t *tx) Code(_ context.Context, code string) (domain.IdentityCode, error) {
	c, ok := t.st.codes[code]
	if !ok {
		return domain.IdentityCode{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *tx) PersonalCode(_ context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error) {
	for _, c := range t.st.codes {
		if !c.Location && c.OwnerID == ownerID && c.Kind == kind {
			return c, nil
		}
	}
	return domain.IdentityCode{}, domain.ErrNotFound
}

func (t *tx) ListCodes(_ context.Context, ownerID string) ([]domain.IdentityCode, error) {
	var out []domain.IdentityCode
	for _, c := range t.st.codes {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) DeleteCode(_ context.Context, code string) error {
	if _, ok := t.st.codes[code]; !ok {
		return domain.ErrNotFound
	}
	delete(t.st.codes, code)
	return nil
}

// --- scans ---

func (t *tx) InsertScan(_ context.Context, s domain.ScanEvent) error {
	t.st.scans[s.ID] = s
	return nil
}

func (t *tx) Scan(_ context.Context, id string) (domain.ScanEvent, error) {
	s, ok := t.st.scans[id]
	if !ok {
		return domain.ScanEvent{}, domain.ErrNotFound
	}
	return s, nil
}

func (t *tx) LatestUnconvertedScan(_ context.Context, code string, kind domain.Kind) (domain.ScanEvent, error) {
	var (
		best  domain.ScanEvent
		found bool
	)
	for _, s := range t.st.scans {
		if s.Code != code || s.Kind != kind || s.SubmissionID != "" {
			continue
		}
		if !found || s.ScannedAt.After(best.ScannedAt) || (s.ScannedAt.Equal(best.ScannedAt) && s.ID > best.ID) {
			best, found = s, true
		}
	}
	if !found {
		return domain.ScanEvent{}, domain.ErrNotFound
	}
	return best, nil
}

func (t *tx) ConvertScan(_ context.Context, scanID, submissionID string) error {
	s, ok := t.st.scans[scanID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.SubmissionID != "" {
		return domain.ErrInvalidStateTransition
	}
	s.SubmissionID = submissionID
	t.st.scans[scanID] = s
	return nil
}

// --- submissions ---

func (t *tx) InsertSubmission(_ context.Context, s domain.Submission) error {
	if s.IdempotencyKey != "" {
		for _, existing := range t.st.submissions {
			if existing.IdempotencyKey == s.IdempotencyKey {
				return domain.ErrDuplicateSubmission
			}
		}
	}
	t.st.submissions[s.ID] = s
	return nil
}

func (t *tx) Submission(_ context.Context, id string) (domain.Submission, error) {
	s, ok := t.st.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return s, nil
}

func (t *tx) SubmissionByIdempotencyKey(_ context.Context, key string) (domain.Submission, error) {
	for _, s := range t.st.submissions {
		if key != "" && s.IdempotencyKey == key {
			return s, nil
		}
	}
	return domain.Submission{}, domain.ErrNotFound
}

func (t *tx) ListSubmissions(_ context.Context, scope store.Scope, limit int) ([]domain.Submission, error) {
	var out []domain.Submission
	for _, s := range t.st.submissions {
		if scope.All || (s.OwnerID != "" && scope.Contains(s.OwnerID)) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) SetSubmissionStatus(_ context.Context, id string, status domain.Status) error {
	s, ok := t.st.submissions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	t.st.submissions[id] = s
	return nil
}

func (t *tx) Tally(_ context.Context, scope store.Scope) ([]store.CodeTally, error) {
	byCode := map[string]*store.CodeTally{}
	get := func(code, owner string) *store.CodeTally {
		ct, ok := byCode[code]
		if !ok {
			ct = &store.CodeTally{Code: code, OwnerID: owner}
			byCode[code] = ct
		}
		return ct
	}
	for _, s := range t.st.scans {
		if scope.Contains(s.OwnerID) {
			get(s.Code, s.OwnerID).Scans++
		}
	}
	for _, s := range t.st.submissions {
		if !s.Source.ViaCode() || s.Code == "" || !scope.Contains(s.OwnerID) {
			continue
		}
		ct := get(s.Code, s.OwnerID)
		if s.Kind == domain.KindSurvey {
			ct.Surveys++
		} else {
			ct.Applications++
		}
		if s.ScanID == "" {
			ct.Unscanned++
		}
	}
	out := make([]store.CodeTally, 0, len(byCode))
	for _, ct := range byCode {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// --- notes ---

func (t *tx) AppendNote(_ context.Context, n domain.Note) error {
	t.st.notes[n.SubmissionID] = append(t.st.notes[n.SubmissionID], n)
	return nil
}

func (t *tx) ListNotes(_ context.Context, submissionID string) ([]domain.Note, error) {
	src := t.st.notes[submissionID]
	out := make([]domain.Note, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

func (t *tx) PutSORB(_ context.Context, p domain.SORBProfile) error {
	t.st.sorb[p.SubmissionID] = p
	return nil
}

func (t *tx) SORB(_ context.Context, submissionID string) (domain.SORBProfile, error) {
	p, ok := t.st.sorb[submissionID]
	if !ok {
		return domain.SORBProfile{}, domain.ErrNotFound
	}
	return p, nil
}

// --- requests ---

func (t *tx) InsertRequest(_ context.Context, r domain.Request) error {
	if r.Status == domain.RequestPending {
		for _, existing := range t.st.requests {
			if existing.UserID == r.UserID && existing.Kind == r.Kind && existing.Pending() {
				return domain.ErrRequestAlreadyPending
			}
		}
	}
	t.st.requests[r.ID] = r
	return nil
}

func (t *tx) Request(_ context.Context, id string) (domain.Request, error) {
	r, ok := t.st.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrNotFound
	}
	return r, nil
}

func (t *tx) PendingRequest(_ context.Context, userID string, kind domain.RequestKind) (domain.Request, error) {
	for _, r := range t.st.requests {
		if r.UserID == userID && r.Kind == kind && r.Pending() {
			return r, nil
		}
	}
	return domain.Request{}, domain.ErrNotFound
}

func (t *tx) LatestRequest(_ context.Context, userID string, kind domain.RequestKind) (domain.Request, error) {
	reqs := t.sortedRequests(func(r domain.Request) bool { return r.UserID == userID && r.Kind == kind })
	if len(reqs) == 0 {
		return domain.Request{}, domain.ErrNotFound
	}
	return reqs[0], nil
}

func (t *tx) ListRequests(_ context.Context, kind domain.RequestKind, status domain.RequestStatus) ([]domain.Request, error) {
	return t.sortedRequests(func(r domain.Request) bool {
		return r.Kind == kind && (status == "" || r.Status == status)
	}), nil
}

func (t *tx) sortedRequests(keep func(domain.Request) bool) []domain.Request {
	var out []domain.Request
	for _, r := range t.st.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *tx) CountPending(_ context.Context) (map[domain.RequestKind]int, error) {
	out := map[domain.RequestKind]int{domain.RequestEscalation: 0, domain.RequestTransfer: 0}
	for _, r := range t.st.requests {
		if r.Pending() {
			out[r.Kind]++
		}
	}
	return out, nil
}

func (t *tx) CloseRequest(_ context.Context, r domain.Request) error {
	existing, ok := t.st.requests[r.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !existing.Pending() {
		return domain.ErrInvalidStateTransition
	}
	existing.Status = r.Status
	existing.ReviewedBy = r.ReviewedBy
	existing.ReviewedAt = r.ReviewedAt
	existing.ReviewNotes = r.ReviewNotes
	t.st.requests[r.ID] = existing
	return nil
}

// --- tokens ---

func (t *tx) InsertToken(_ context.Context, tok domain.ApprovalToken) error {
	if _, ok := t.st.tokens[tok.Token]; ok {
		return store.ErrCodeTaken
	}
	t.st.tokens[tok.Token] = tok
	return nil
}

func (t *tx) Token(_ context.Context, token string) (domain.ApprovalToken, error) {
	tok, ok := t.st.tokens[token]
	if !ok {
		return domain.ApprovalToken{}, domain.ErrNotFound
	}
	return tok, nil
}

func (t *tx) ConsumeToken(_ context.Context, token string, at time.Time) error {
	tok, ok := t.st.tokens[token]
	if !ok {
		return domain.ErrNotFound
	}
	if tok.Consumed() {
		return domain.ErrTokenAlreadyConsumed
	}
	consumed := at
	tok.ConsumedAt = &consumed
	t.st.tokens[token] = tok
	return nil
}

func (t *tx) ConsumeRequestTokens(_ context.Context, requestID string, at time.Time) error {
	for k, tok := range t.st.tokens {
		if tok.RequestID == requestID && !tok.Consumed() {
			consumed := at
			tok.ConsumedAt = &consumed
			t.st.tokens[k] = tok
		}
	}
	return nil
}

func (t *tx) ExpiredTokens(_ context.Context, now time.Time, limit int) ([]domain.ApprovalToken, error) {
	var out []domain.ApprovalToken
	for _, tok := range t.st.tokens {
		if !tok.Consumed() && tok.Expired(now) {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- outbox ---

func (t *tx) Enqueue(_ context.Context, e domain.Event) error {
	t.st.events[e.ID] = e
	return nil
}

func (t *tx) Lease(_ context.Context, now time.Time, limit int, leaseFor time.Duration) ([]domain.Event, error) {
	var due []domain.Event
	for _, e := range t.st.events {
		if e.Status == domain.EventPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		e := t.st.events[due[i].ID]
		e.NextAttemptAt = now.Add(leaseFor)
		t.st.events[e.ID] = e
	}
	return due, nil
}

func (t *tx) MarkSent(_ context.Context, id string, at time.Time) error {
	e, ok := t.st.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	sent := at
	e.Status = domain.EventSent
	e.SentAt = &sent
	e.Attempts++
	t.st.events[id] = e
	return nil
}

func (t *tx) MarkFailed(_ context.Context, e domain.Event) error {
	if _, ok := t.st.events[e.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.events[e.ID] = e
	return nil
}

// Events returns a snapshot of the outbox.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.data.events))
	for _, e := range s.data.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
