package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"recruitd.org/internal/domain"
)

func (t *tx) Enqueue(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into notification_outbox(id, kind, recipient, data, status, attempts, next_attempt_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.Kind, e.Recipient, data, e.Status, e.Attempts, e.NextAttemptAt, e.CreatedAt)
	return mapError(err)
}

// Lease claims due events with skip locked so that several dispatchers
// can drain the same outbox.
func (t *tx) Lease(ctx context.Context, now time.Time, limit int, leaseFor time.Duration) ([]domain.Event, error) {
	rows, err := t.tx.QueryContext(ctx, `
		update notification_outbox o
		set next_attempt_at = $2
		from (
			select id from notification_outbox
			where status = 'pending' and next_attempt_at <= $1
			order by created_at, id
			limit $3
			for update skip locked
		) due
		where o.id = due.id
		returning o.id, o.kind, o.recipient, o.data, o.status, o.attempts, o.next_attempt_at, o.last_error, o.created_at, o.sent_at
	`, now, now.Add(leaseFor), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e    domain.Event
			data []byte
			sent sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Recipient, &data, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &sent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ID, err)
		}
		e.SentAt = timePtr(sent)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) MarkSent(ctx context.Context, id string, at time.Time) error {
	return requireRow(t.tx.ExecContext(ctx, `
		update notification_outbox
		set status='sent', sent_at=$2, attempts=attempts+1, last_error=''
		where id=$1
	`, id, at))
}

func (t *tx) MarkFailed(ctx context.Context, e domain.Event) error {
	return requireRow(t.tx.ExecContext(ctx, `
		update notification_outbox
		set status=$2, attempts=$3, next_attempt_at=$4, last_error=$5
		where id=$1
	`, e.ID, e.Status, e.Attempts, e.NextAttemptAt, e.LastError))
}
