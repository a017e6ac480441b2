package domain

import "time"

type EventKind string

const (
	EventRoleRequestCreated   EventKind = "role_request_created"
	EventRoleRequestApproved  EventKind = "role_request_approved"
	EventRoleRequestDenied    EventKind = "role_request_denied"
	EventSubmissionAttributed EventKind = "submission_attributed"
)

type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventSent    EventStatus = "sent"
	EventDead    EventStatus = "dead"
)

// Event is a notification waiting in the outbox. It is written in the same
// transaction as the state change it describes.
type Event struct {
	ID            string            `json:"id"`
	Kind          EventKind         `json:"kind"`
	Recipient     string            `json:"recipient"`
	Data          map[string]string `json:"data"`
	Status        EventStatus       `json:"status"`
	Attempts      int               `json:"attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	LastError     string            `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
}
