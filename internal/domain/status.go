package domain

import "fmt"

// Status is the lead pipeline position of a submission.
type Status string

const (
	StatusProspect    Status = "prospect"
	StatusScreening   Status = "screening"
	StatusRecommended Status = "recommended"
	StatusPreparing   Status = "preparing"
	StatusContracting Status = "contracting"
	StatusContracted  Status = "contracted"
	StatusDeclined    Status = "declined"
)

var pipeline = map[Status]int{
	StatusProspect:    0,
	StatusScreening:   1,
	StatusRecommended: 2,
	StatusPreparing:   3,
	StatusContracting: 4,
	StatusContracted:  5,
}

// legacy statuses are readable on old records but never written.
var legacyStatus = map[Status]Status{
	"pending":      StatusProspect,
	"contacted":    StatusScreening,
	"qualified":    StatusRecommended,
	"disqualified": StatusDeclined,
}

// NormalizeStatus maps a legacy status onto the current pipeline.
func NormalizeStatus(s Status) Status {
	if mapped, ok := legacyStatus[s]; ok {
		return mapped
	}
	return s
}

func (s Status) Terminal() bool {
	s = NormalizeStatus(s)
	return s == StatusContracted || s == StatusDeclined
}

// ValidateTransition checks a status change. The pipeline only moves
// forward, stages may be skipped, and declined is reachable from any
// non-terminal stage. Moving to the current status is a no-op.
func ValidateTransition(from, to Status) error {
	if _, ok := pipeline[to]; !ok && to != StatusDeclined {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	from = NormalizeStatus(from)
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final", ErrInvalidStateTransition, from)
	}
	if to == StatusDeclined {
		return nil
	}
	if pipeline[to] < pipeline[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}
