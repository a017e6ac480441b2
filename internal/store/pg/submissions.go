package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

const submissionColumns = `id, kind, first_name, last_name, email, phone, zip_code, rating, feedback, source,
	coalesce(owner_id, ''), coalesce(code, ''), coalesce(scan_id, ''), coalesce(idempotency_key, ''),
	status, ip_address, legacy_notes, created_at`

func scanSubmission(r rowScanner) (domain.Submission, error) {
	var s domain.Submission
	a := &s.Applicant
	err := r.Scan(&s.ID, &s.Kind, &a.FirstName, &a.LastName, &a.Email, &a.Phone, &a.ZipCode, &s.Rating, &s.Feedback, &s.Source,
		&s.OwnerID, &s.Code, &s.ScanID, &s.IdempotencyKey, &s.Status, &s.IPAddress, &s.LegacyNotes, &s.CreatedAt)
	return s, err
}

func (t *tx) InsertSubmission(ctx context.Context, s domain.Submission) error {
	a := s.Applicant
	_, err := t.tx.ExecContext(ctx, `
		insert into submissions(id, kind, first_name, last_name, email, phone, zip_code, rating, feedback, source,
			owner_id, code, scan_id, idempotency_key, status, ip_address, legacy_notes, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,nullif($11,''),nullif($12,''),nullif($13,''),nullif($14,''),$15,$16,$17,$18)
	`, s.ID, s.Kind, a.FirstName, a.LastName, a.Email, a.Phone, a.ZipCode, s.Rating, s.Feedback, s.Source,
		s.OwnerID, s.Code, s.ScanID, s.IdempotencyKey, s.Status, s.IPAddress, s.LegacyNotes, s.CreatedAt)
	return mapError(err)
}

func (t *tx) Submission(ctx context.Context, id string) (domain.Submission, error) {
	s, err := scanSubmission(t.tx.QueryRowContext(ctx, `select `+submissionColumns+` from submissions where id=$1`, id))
	return s, mapError(err)
}

func (t *tx) SubmissionByIdempotencyKey(ctx context.Context, key string) (domain.Submission, error) {
	if key == "" {
		return domain.Submission{}, domain.ErrNotFound
	}
	s, err := scanSubmission(t.tx.QueryRowContext(ctx, `select `+submissionColumns+` from submissions where idempotency_key=$1`, key))
	return s, mapError(err)
}

// scopeClause renders an owner filter for col starting at placeholder
// number next. The zero scope matches nothing.
func scopeClause(col string, scope store.Scope, next int) (string, []any) {
	if scope.All {
		return "true", nil
	}
	if len(scope.OwnerIDs) == 0 {
		return "false", nil
	}
	marks := make([]string, len(scope.OwnerIDs))
	args := make([]any, len(scope.OwnerIDs))
	for i, id := range scope.OwnerIDs {
		marks[i] = "$" + strconv.Itoa(next+i)
		args[i] = id
	}
	return col + " in (" + strings.Join(marks, ",") + ")", args
}

func (t *tx) ListSubmissions(ctx context.Context, scope store.Scope, limit int) ([]domain.Submission, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	where, args := scopeClause("owner_id", scope, 2)
	rows, err := t.tx.QueryContext(ctx, `
		select `+submissionColumns+` from submissions
		where `+where+`
		order by created_at desc, id desc
		limit $1
	`, append([]any{limit}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) SetSubmissionStatus(ctx context.Context, id string, status domain.Status) error {
	return requireRow(t.tx.ExecContext(ctx, `update submissions set status=$2 where id=$1`, id, status))
}

func (t *tx) Tally(ctx context.Context, scope store.Scope) ([]store.CodeTally, error) {
	byCode := map[string]*store.CodeTally{}
	get := func(code, owner string) *store.CodeTally {
		ct, ok := byCode[code]
		if !ok {
			ct = &store.CodeTally{Code: code, OwnerID: owner}
			byCode[code] = ct
		}
		return ct
	}

	where, args := scopeClause("owner_id", scope, 1)
	rows, err := t.tx.QueryContext(ctx, `
		select code, owner_id, count(*)
		from scan_events
		where `+where+`
		group by code, owner_id
	`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var code, owner string
		var n int
		if err := rows.Scan(&code, &owner, &n); err != nil {
			rows.Close()
			return nil, err
		}
		get(code, owner).Scans += n
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = t.tx.QueryContext(ctx, `
		select code, owner_id,
			count(*) filter (where kind = 'application'),
			count(*) filter (where kind = 'survey'),
			count(*) filter (where scan_id is null)
		from submissions
		where source in ('code_scan', 'survey') and code is not null and owner_id is not null and `+where+`
		group by code, owner_id
	`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var code, owner string
		var apps, surveys, unscanned int
		if err := rows.Scan(&code, &owner, &apps, &surveys, &unscanned); err != nil {
			rows.Close()
			return nil, err
		}
		ct := get(code, owner)
		ct.Applications += apps
		ct.Surveys += surveys
		ct.Unscanned += unscanned
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	out := make([]store.CodeTally, 0, len(byCode))
	for _, ct := range byCode {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *tx) AppendNote(ctx context.Context, n domain.Note) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into submission_notes(id, submission_id, author_id, author_name, body, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.SubmissionID, n.AuthorID, n.AuthorName, n.Text, n.CreatedAt)
	return mapError(err)
}

func (t *tx) ListNotes(ctx context.Context, submissionID string) ([]domain.Note, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id, submission_id, author_id, author_name, body, created_at
		from submission_notes
		where submission_id=$1
		order by created_at desc, id desc
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Note{}
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.SubmissionID, &n.AuthorID, &n.AuthorName, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *tx) PutSORB(ctx context.Context, p domain.SORBProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode sorb profile: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into sorb_profiles(submission_id, profile, updated_at)
		values ($1,$2,$3)
		on conflict (submission_id) do update
		set profile = excluded.profile, updated_at = excluded.updated_at
	`, p.SubmissionID, raw, p.UpdatedAt)
	return mapError(err)
}

func (t *tx) SORB(ctx context.Context, submissionID string) (domain.SORBProfile, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx, `select profile from sorb_profiles where submission_id=$1`, submissionID).Scan(&raw)
	if err != nil {
		return domain.SORBProfile{}, mapError(err)
	}
	var p domain.SORBProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.SORBProfile{}, fmt.Errorf("decode sorb profile: %w", err)
	}
	p.SubmissionID = submissionID
	return p, nil
}
