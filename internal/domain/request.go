package domain

import "time"

type RequestKind string

const (
	RequestEscalation RequestKind = "role_escalation"
	RequestTransfer   RequestKind = "station_transfer"
)

func (k RequestKind) Valid() bool { return k == RequestEscalation || k == RequestTransfer }

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// Request is a role-escalation or station-transfer request. CurrentStationID
// snapshots the user's station when the request was made; approval is
// refused if the user has moved since.
type Request struct {
	ID                 string        `json:"id"`
	Kind               RequestKind   `json:"kind"`
	UserID             string        `json:"user_id"`
	CurrentStationID   string        `json:"current_station_id,omitempty"`
	RequestedStationID string        `json:"requested_station_id,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	Status             RequestStatus `json:"status"`
	ReviewedBy         string        `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time    `json:"reviewed_at,omitempty"`
	ReviewNotes        string        `json:"review_notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

func (r Request) Pending() bool { return r.Status == RequestPending }

// ApprovalToken authorizes one decision on one request. ConsumedAt is set
// exactly once.
type ApprovalToken struct {
	Token       string      `json:"-"`
	RequestID   string      `json:"request_id"`
	RequestKind RequestKind `json:"request_kind"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ConsumedAt  *time.Time  `json:"consumed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (t ApprovalToken) Consumed() bool { return t.ConsumedAt != nil }

func (t ApprovalToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
