package notify

import (
	"time"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
)

// NewEvent builds a pending outbox event due immediately.
func NewEvent(kind domain.EventKind, recipient string, data map[string]string, now time.Time) domain.Event {
	now = now.UTC()
	if data == nil {
		data = map[string]string{}
	}
	return domain.Event{
		ID:            ids.New(),
		Kind:          kind,
		Recipient:     recipient,
		Data:          data,
		Status:        domain.EventPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}
