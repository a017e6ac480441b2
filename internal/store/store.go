// Package store defines the persistence contract. Every mutation runs inside
// Atomically so that state changes and their outbox events commit together.
package store

import (
	"context"
	"errors"
	"time"

	"recruitd.org/internal/domain"
)

// ErrCodeTaken is returned when a freshly generated code collides with an
// existing one. Callers retry with a new code.
var ErrCodeTaken = errors.New("store: code already exists")

type Store interface {
	Atomically(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is a unit of work. Implementations lock user rows read through
// UserForUpdate until the transaction ends.
type Tx interface {
	Users
	Stations
	Codes
	Scans
	Submissions
	Notes
	Requests
	Tokens
	Outbox
}

type Users interface {
	CreateUser(ctx context.Context, u domain.User) error
	User(ctx context.Context, id string) (domain.User, error)
	UserForUpdate(ctx context.Context, id string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	UsersByStation(ctx context.Context, stationID string) ([]domain.User, error)
	SetUserAccess(ctx context.Context, id string, role domain.Role, stationID string, at time.Time) error
}

type Stations interface {
	UpsertStation(ctx context.Context, s domain.Station) error
	Station(ctx context.Context, id string) (domain.Station, error)
	ListStations(ctx context.Context) ([]domain.Station, error)
}

type Codes interface {
	InsertCode(ctx context.Context, c domain.IdentityCode) error
	Code(ctx context.Context, code string) (domain.IdentityCode, error)
	PersonalCode(ctx context.Context, ownerID string, kind domain.Kind) (domain.IdentityCode, error)
	ListCodes(ctx context.Context, ownerID string) ([]domain.IdentityCode, error)
	DeleteCode(ctx context.Context, code string) error
}

type Scans interface {
	InsertScan(ctx context.Context, s domain.ScanEvent) error
	Scan(ctx context.Context, id string) (domain.ScanEvent, error)
	LatestUnconvertedScan(ctx context.Context, code string, kind domain.Kind) (domain.ScanEvent, error)
	ConvertScan(ctx context.Context, scanID, submissionID string) error
}

// CodeTally aggregates activity for one code.
type CodeTally struct {
	Code         string
	OwnerID      string
	Scans        int // recorded scan events
	Applications int // code-attributed applications
	Surveys      int // code-attributed surveys
	Unscanned    int // code-attributed submissions without a scan event
}

// Scope restricts reads to a set of owners. The zero value matches nothing.
type Scope struct {
	All      bool
	OwnerIDs []string
}

func (s Scope) Contains(ownerID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.OwnerIDs {
		if id == ownerID {
			return true
		}
	}
	return false
}

type Submissions interface {
	InsertSubmission(ctx context.Context, s domain.Submission) error
	Submission(ctx context.Context, id string) (domain.Submission, error)
	SubmissionByIdempotencyKey(ctx context.Context, key string) (domain.Submission, error)
	ListSubmissions(ctx context.Context, scope Scope, limit int) ([]domain.Submission, error)
	SetSubmissionStatus(ctx context.Context, id string, status domain.Status) error
	Tally(ctx context.Context, scope Scope) ([]CodeTally, error)
}

type Notes interface {
	AppendNote(ctx context.Context, n domain.Note) error
	ListNotes(ctx context.Context, submissionID string) ([]domain.Note, error)
	PutSORB(ctx context.Context, p domain.SORBProfile) error
	SORB(ctx context.Context, submissionID string) (domain.SORBProfile, error)
}

type Requests interface {
	InsertRequest(ctx context.Context, r domain.Request) error
	Request(ctx context.Context, id string) (domain.Request, error)
	PendingRequest(ctx context.Context, userID string, kind domain.RequestKind) (domain.Request, error)
	LatestRequest(ctx context.Context, userID string, kind domain.RequestKind) (domain.Request, error)
	ListRequests(ctx context.Context, kind domain.RequestKind, status domain.RequestStatus) ([]domain.Request, error)
	CountPending(ctx context.Context) (map[domain.RequestKind]int, error)
	// CloseRequest moves a pending request to r.Status. It fails with
	// domain.ErrInvalidStateTransition when the stored request is no longer
	// pending.
	CloseRequest(ctx context.Context, r domain.Request) error
}

type Tokens interface {
	InsertToken(ctx context.Context, t domain.ApprovalToken) error
	Token(ctx context.Context, token string) (domain.ApprovalToken, error)
	// ConsumeToken sets consumed_at only if it is still unset and reports
	// domain.ErrTokenAlreadyConsumed otherwise.
	ConsumeToken(ctx context.Context, token string, at time.Time) error
	ConsumeRequestTokens(ctx context.Context, requestID string, at time.Time) error
	ExpiredTokens(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalToken, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, e domain.Event) error
	// Lease returns up to limit due events and pushes their next attempt
	// out by leaseFor so that concurrent dispatchers skip them.
	Lease(ctx context.Context, now time.Time, limit int, leaseFor time.Duration) ([]domain.Event, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, e domain.Event) error
}

// ResolveScope returns the owners whose records viewer may read.
func ResolveScope(ctx context.Context, tx Tx, viewer domain.User) (Scope, error) {
	switch viewer.Role {
	case domain.RoleAdmin:
		return Scope{All: true}, nil
	case domain.RoleCommander:
		if viewer.StationID == "" {
			return Scope{OwnerIDs: []string{viewer.ID}}, nil
		}
		users, err := tx.UsersByStation(ctx, viewer.StationID)
		if err != nil {
			return Scope{}, err
		}
		ids := []string{viewer.ID}
		for _, u := range users {
			if u.ID != viewer.ID {
				ids = append(ids, u.ID)
			}
		}
		return Scope{OwnerIDs: ids}, nil
	default:
		return Scope{OwnerIDs: []string{viewer.ID}}, nil
	}
}
