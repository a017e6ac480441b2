package workflow

import "recruitd.org/internal/domain"

// Command is a role or station mutation. Every variant is applied by
// Engine.apply under one transaction that locks the affected user.
type Command interface {
	name() string
}

// RequestEscalation asks for the station commander role at the user's
// current station.
type RequestEscalation struct {
	UserID        string
	Justification string
}

// RequestTransfer asks to move the user to another station. Admins move
// themselves directly.
type RequestTransfer struct {
	UserID    string
	StationID string
	Reason    string
}

// Decide approves or denies a pending request. Exactly one of Token (email
// link) or RequestID with ActorID (admin dashboard) identifies it.
type Decide struct {
	Kind      domain.RequestKind
	Token     string
	RequestID string
	ActorID   string
	Approve   bool
	Notes     string
}

// AdminSetStation assigns a station without a request or token.
type AdminSetStation struct {
	ActorID   string
	UserID    string
	StationID string
}

// expireRequest closes a pending request whose token lapsed.
type expireRequest struct {
	Token domain.ApprovalToken
}

func (RequestEscalation) name() string { return "request_escalation" }
func (RequestTransfer) name() string   { return "request_transfer" }
func (AdminSetStation) name() string   { return "admin_set_station" }
func (expireRequest) name() string     { return "expire_request" }

func (d Decide) name() string {
	if d.Approve {
		return "approve"
	}
	return "deny"
}
