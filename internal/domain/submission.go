package domain

import "time"

type Source string

const (
	SourceCodeScan     Source = "code_scan"
	SourceDirectEntry  Source = "direct_entry"
	SourceSurvey       Source = "survey"
	SourceUnattributed Source = "unattributed"
)

// ViaCode reports whether the submission was attributed through a code.
func (s Source) ViaCode() bool { return s == SourceCodeScan || s == SourceSurvey }

type Applicant struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
}

// Submission is an application or survey. Attribution fields are written
// once at creation; afterwards only Status changes.
type Submission struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Applicant      Applicant `json:"applicant"`
	Rating         int       `json:"rating,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
	Source         Source    `json:"source"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Code           string    `json:"code,omitempty"`
	ScanID         string    `json:"scan_id,omitempty"`
	IdempotencyKey string    `json:"-"`
	Status         Status    `json:"status"`
	IPAddress      string    `json:"-"`
	LegacyNotes    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type Note struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// SORBProfile holds the special-operations screening fields for a lead.
type SORBProfile struct {
	SubmissionID      string    `json:"submission_id"`
	Rank              string    `json:"rank,omitempty"`
	GT                *int      `json:"gt,omitempty"`
	MOS               string    `json:"mos,omitempty"`
	Post              string    `json:"post,omitempty"`
	Unit              string    `json:"unit,omitempty"`
	SORBCompany       string    `json:"sorb_co,omitempty"`
	LogAttempt        string    `json:"log_attempt,omitempty"`
	Contacted         bool      `json:"contacted"`
	Pipeline          string    `json:"pipeline,omitempty"`
	RunTime2Mile      string    `json:"run_time_2mi,omitempty"`
	RuckTime12Mile    string    `json:"ruck_time_12mi,omitempty"`
	Pushups           *int      `json:"pushups,omitempty"`
	Situps            *int      `json:"situps,omitempty"`
	PTScore           *int      `json:"pt_score,omitempty"`
	MedicalEligible   bool      `json:"medical_eligible"`
	AirborneQualified bool      `json:"airborne_qualified"`
	NoMoralWaiver     bool      `json:"no_moral_waiver"`
	PriorSOCOM        bool      `json:"prior_socom"`
	ReadinessScore    *int      `json:"readiness_score,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
