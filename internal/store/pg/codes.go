package pg

import (
	"context"

	"recruitd.org/internal/domain"
)

const codeColumns = `code, owner_id, kind, location, label, created_at`

func scanCode(r rowScanner) (domain.IdentityCode, error) {
	var c domain.IdentityCode
	err := r.Scan(&c.Code, &c.OwnerID, &c.Kind, &c.Location, &c.Label, &c.CreatedAt)
	return c, err
}

func (t *tx) InsertCode(ctx context.Context, c domain.IdentityCode) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into identity_codes(code, owner_id, kind, location, label, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, c.Code, c.OwnerID, c.Kind, c.Location, c.Label, c.CreatedAt)
	return mapError(err)
}

func (t *tx) Code(ctx context.Context, code string) (domain.IdentityCode, error) {
	c, err := scanCode(t.tx.QueryRowContext(ctx, `select `+codeColumns+` from identity_codes where code=$1`, code))
	return c, mapError(err)
}

func (t *tx) PersonalCode(ctx context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error) {
	c, err := scanCode(t.tx.QueryRowContext(ctx, `
		select `+codeColumns+` from identity_codes
		where owner_id=$1 and kind=$2 and not location
	`, ownerID, kind))
	return c, mapError(err)
}

func (t *tx) ListCodes(ctx context.Context, ownerID string) ([]domain.IdentityCode, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+codeColumns+` from identity_codes
		where owner_id=$1
		order by created_at, code
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IdentityCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *tx) DeleteCode(ctx context.Context, code string) error {
	return requireRow(t.tx.ExecContext(ctx, `delete from identity_codes where code=$1`, code))
}

const scanColumns = `id, code, owner_id, kind, ip_address, user_agent, referrer, coalesce(submission_id, ''), scanned_at`

func scanScan(r rowScanner) (domain.ScanEvent, error) {
	var s domain.ScanEvent
	err := r.Scan(&s.ID, &s.Code, &s.OwnerID, &s.Kind, &s.IPAddress, &s.UserAgent, &s.Referrer, &s.SubmissionID, &s.ScannedAt)
	return s, err
}

func (t *tx) InsertScan(ctx context.Context, s domain.ScanEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into scan_events(id, code, owner_id, kind, ip_address, user_agent, referrer, submission_id, scanned_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.Code, s.OwnerID, s.Kind, s.IPAddress, s.UserAgent, s.Referrer, nullIfEmpty(s.SubmissionID), s.ScannedAt)
	return mapError(err)
}

func (t *tx) Scan(ctx context.Context, id string) (domain.ScanEvent, error) {
	s, err := scanScan(t.tx.QueryRowContext(ctx, `select `+scanColumns+` from scan_events where id=$1`, id))
	return s, mapError(err)
}

func (t *tx) LatestUnconvertedScan(ctx context.Context, code string, kind domain.Kind) (domain.ScanEvent, error) {
	s, err := scanScan(t.tx.QueryRowContext(ctx, `
		select `+scanColumns+` from scan_events
		where code=$1 and kind=$2 and submission_id is null
		order by scanned_at desc, id desc
		limit 1
		for update skip locked
	`, code, kind))
	return s, mapError(err)
}

// ConvertScan links a scan to the submission it produced. A scan converts
// at most once.
func (t *tx) ConvertScan(ctx context.Context, scanID, submissionID string) error {
	res, err := t.tx.ExecContext(ctx, `
		update scan_events set submission_id=$2 where id=$1 and submission_id is null
	`, scanID, submissionID)
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
	if _, err := t.Scan(ctx, scanID); err != nil {
		return err
	}
	return domain.ErrInvalidStateTransition
}
