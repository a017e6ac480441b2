package domain

import "time"

// Kind distinguishes the two intake forms. Codes and submissions share it.
type Kind string

const (
	KindApplication Kind = "application"
	KindSurvey      Kind = "survey"
)

func (k Kind) Valid() bool { return k == KindApplication || k == KindSurvey }

// IdentityCode is an opaque code bound to one owner. Personal codes are
// unique per (owner, kind); location codes carry a label and are unlimited.
type IdentityCode struct {
	Code      string    `json:"code"`
	OwnerID   string    `json:"owner_id"`
	Kind      Kind      `json:"kind"`
	Location  bool      `json:"location"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayLabel is the label shown in analytics.
func (c IdentityCode) DisplayLabel() string {
	if !c.Location || c.Label == "" {
		return DefaultCodeLabel
	}
	return c.Label
}

const DefaultCodeLabel = "Default QR"

// ScanEvent records a visit to a code's landing page.
type ScanEvent struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	OwnerID      string    `json:"owner_id"`
	Kind         Kind      `json:"kind"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	SubmissionID string    `json:"submission_id,omitempty"`
	ScannedAt    time.Time `json:"scanned_at"`
}
