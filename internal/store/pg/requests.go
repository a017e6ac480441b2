package pg

import (
	"context"
	"database/sql"
	"time"

	"recruitd.org/internal/domain"
)

const requestColumns = `id, kind, user_id, coalesce(current_station_id, ''), requested_station_id, reason, status,
	coalesce(reviewed_by, ''), reviewed_at, review_notes, created_at`

func scanRequest(r rowScanner) (domain.Request, error) {
	var (
		req      domain.Request
		reviewed sql.NullTime
	)
	err := r.Scan(&req.ID, &req.Kind, &req.UserID, &req.CurrentStationID, &req.RequestedStationID, &req.Reason, &req.Status,
		&req.ReviewedBy, &reviewed, &req.ReviewNotes, &req.CreatedAt)
	req.ReviewedAt = timePtr(reviewed)
	return req, err
}

func (t *tx) InsertRequest(ctx context.Context, r domain.Request) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into role_requests(id, kind, user_id, current_station_id, requested_station_id, reason, status, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.Kind, r.UserID, nullIfEmpty(r.CurrentStationID), r.RequestedStationID, r.Reason, r.Status, r.CreatedAt)
	return mapError(err)
}

func (t *tx) Request(ctx context.Context, id string) (domain.Request, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `select `+requestColumns+` from role_requests where id=$1`, id))
	return r, mapError(err)
}

func (t *tx) PendingRequest(ctx context.Context, userID string, kind domain.RequestKind) (domain.Request, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `
		select `+requestColumns+` from role_requests
		where user_id=$1 and kind=$2 and status='pending'
	`, userID, kind))
	return r, mapError(err)
}

func (t *tx) LatestRequest(ctx context.Context, userID string, kind domain.RequestKind) (domain.Request, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `
		select `+requestColumns+` from role_requests
		where user_id=$1 and kind=$2
		order by created_at desc, id desc
		limit 1
	`, userID, kind))
	return r, mapError(err)
}

func (t *tx) ListRequests(ctx context.Context, kind domain.RequestKind, status domain.RequestStatus) ([]domain.Request, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+requestColumns+` from role_requests
		where kind=$1 and ($2 = '' or status=$2)
		order by created_at desc, id desc
	`, kind, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) CountPending(ctx context.Context) (map[domain.RequestKind]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select kind, count(*) from role_requests where status='pending' group by kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.RequestKind]int{domain.RequestEscalation: 0, domain.RequestTransfer: 0}
	for rows.Next() {
		var kind domain.RequestKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (t *tx) CloseRequest(ctx context.Context, r domain.Request) error {
	res, err := t.tx.ExecContext(ctx, `
		update role_requests
		set status=$2, reviewed_by=$3, reviewed_at=$4, review_notes=$5
		where id=$1 and status='pending'
	`, r.ID, r.Status, nullIfEmpty(r.ReviewedBy), nullTime(r.ReviewedAt), r.ReviewNotes)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := t.Request(ctx, r.ID); err != nil {
		return err
	}
	return domain.ErrInvalidStateTransition
}

const tokenColumns = `token, request_id, request_kind, expires_at, consumed_at, created_at`

func scanToken(r rowScanner) (domain.ApprovalToken, error) {
	var (
		tok      domain.ApprovalToken
		consumed sql.NullTime
	)
	err := r.Scan(&tok.Token, &tok.RequestID, &tok.RequestKind, &tok.ExpiresAt, &consumed, &tok.CreatedAt)
	tok.ConsumedAt = timePtr(consumed)
	return tok, err
}

func (t *tx) InsertToken(ctx context.Context, tok domain.ApprovalToken) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into approval_tokens(token, request_id, request_kind, expires_at, created_at)
		values ($1,$2,$3,$4,$5)
	`, tok.Token, tok.RequestID, tok.RequestKind, tok.ExpiresAt, tok.CreatedAt)
	return mapError(err)
}

func (t *tx) Token(ctx context.Context, token string) (domain.ApprovalToken, error) {
	tok, err := scanToken(t.tx.QueryRowContext(ctx, `select `+tokenColumns+` from approval_tokens where token=$1`, token))
	return tok, mapError(err)
}

// ConsumeToken is a conditional update; of two concurrent redemptions the
// second blocks on the row and then matches nothing.
func (t *tx) ConsumeToken(ctx context.Context, token string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		update approval_tokens set consumed_at=$2 where token=$1 and consumed_at is null
	`, token, at)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := t.Token(ctx, token); err != nil {
		return err
	}
	return domain.ErrTokenAlreadyConsumed
}

func (t *tx) ConsumeRequestTokens(ctx context.Context, requestID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		update approval_tokens set consumed_at=$2 where request_id=$1 and consumed_at is null
	`, requestID, at)
	return mapError(err)
}

func (t *tx) ExpiredTokens(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalToken, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx, `
		select `+tokenColumns+` from approval_tokens
		where consumed_at is null and expires_at <= $1
		order by expires_at
		limit $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApprovalToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}
