package attribution

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"recruitd.org/internal/domain"
)

// Old records kept free-form notes and screening fields in one text column:
// either a JSON array of notes, or plain text, optionally followed by the
// separator and a JSON object holding the screening fields under "_sorb".
const (
	legacySeparator = "\n---\n"
	legacyImportTag = "[SORB_IMPORT]"
)

type legacyNote struct {
	Note       string `json:"note"`
	Author     string `json:"author"`
	AuthorName string `json:"authorName"`
	Timestamp  string `json:"timestamp"`
}

// DecodeLegacyNotes converts the legacy notes column into notes. Plain text
// becomes a single note by the owner at submission time.
func DecodeLegacyNotes(raw, submissionID, ownerID string, createdAt time.Time) []domain.Note {
	free := legacyFreeText(raw)
	if free == "" {
		return nil
	}
	var arr []legacyNote
	if strings.HasPrefix(free, "[") && json.Unmarshal([]byte(free), &arr) == nil {
		out := make([]domain.Note, 0, len(arr))
		for i, n := range arr {
			text := strings.TrimSpace(n.Note)
			if text == "" {
				continue
			}
			at, err := time.Parse(time.RFC3339Nano, n.Timestamp)
			if err != nil {
				at = createdAt
			}
			out = append(out, domain.Note{
				ID:           fmt.Sprintf("legacy-%s-%d", submissionID, i),
				SubmissionID: submissionID,
				AuthorID:     n.Author,
				AuthorName:   n.AuthorName,
				Text:         text,
				CreatedAt:    at.UTC(),
			})
		}
		return out
	}
	return []domain.Note{{
		ID:           fmt.Sprintf("legacy-%s-0", submissionID),
		SubmissionID: submissionID,
		AuthorID:     ownerID,
		Text:         free,
		CreatedAt:    createdAt.UTC(),
	}}
}

func legacyFreeText(raw string) string {
	if i := strings.Index(raw, legacySeparator); i >= 0 {
		raw = raw[:i]
	} else if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return ""
	}
	if strings.Contains(raw, legacyImportTag) {
		return ""
	}
	return strings.TrimSpace(raw)
}

type legacySORB struct {
	Rank              string   `json:"rank"`
	GT                *float64 `json:"gt"`
	MOS               string   `json:"mos"`
	Post              string   `json:"post"`
	Unit              string   `json:"unit"`
	SORBCo            string   `json:"sorbCo"`
	LogAttempt        string   `json:"logAttempt"`
	Contacted         bool     `json:"contacted"`
	Pipeline          string   `json:"pipeline"`
	RunTime2mi        string   `json:"runTime2mi"`
	RuckTime12mi      string   `json:"ruckTime12mi"`
	Pushups           *float64 `json:"pushups"`
	Situps            *float64 `json:"situps"`
	PTScore           *float64 `json:"ptScore"`
	MedicalEligible   bool     `json:"medicalEligible"`
	AirborneQualified bool     `json:"airborneQualified"`
	NoMoralWaiver     bool     `json:"noMoralWaiver"`
	PriorSOCOM        bool     `json:"priorSOCOM"`
	ReadinessScore    *float64 `json:"readinessScore"`
}

var legacyPairKeys = []string{"rank", "gt", "mos", "post", "unit", "sorb_co", "log_attempt", "contacted"}

// ParseLegacySORB extracts screening fields from the legacy notes column. It
// understands the JSON trailer and the "Key: value | Key: value" import
// format.
func ParseLegacySORB(raw string) (domain.SORBProfile, bool) {
	if strings.TrimSpace(raw) == "" {
		return domain.SORBProfile{}, false
	}
	candidate := raw
	if i := strings.LastIndex(raw, legacySeparator); i >= 0 {
		candidate = raw[i+len(legacySeparator):]
	}
	var wrapper struct {
		SORB *legacySORB `json:"_sorb"`
	}
	if json.Unmarshal([]byte(candidate), &wrapper) == nil && wrapper.SORB != nil {
		return wrapper.SORB.profile(), true
	}

	fields := map[string]string{}
	for _, pair := range strings.Split(raw, "|") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		key := strings.Join(strings.Fields(strings.ToLower(k)), "_")
		fields[key] = v
	}
	known := false
	for _, k := range legacyPairKeys {
		if _, ok := fields[k]; ok {
			known = true
			break
		}
	}
	if !known {
		return domain.SORBProfile{}, false
	}
	p := domain.SORBProfile{
		Rank:        fields["rank"],
		MOS:         fields["mos"],
		Post:        fields["post"],
		Unit:        fields["unit"],
		SORBCompany: fields["sorb_co"],
		LogAttempt:  fields["log_attempt"],
		Contacted:   fields["contacted"] == "Y",
	}
	if gt, err := strconv.Atoi(fields["gt"]); err == nil && gt != 0 {
		p.GT = &gt
	}
	return p, true
}

func (l legacySORB) profile() domain.SORBProfile {
	return domain.SORBProfile{
		Rank:              l.Rank,
		GT:                roundPtr(l.GT),
		MOS:               l.MOS,
		Post:              l.Post,
		Unit:              l.Unit,
		SORBCompany:       l.SORBCo,
		LogAttempt:        l.LogAttempt,
		Contacted:         l.Contacted,
		Pipeline:          l.Pipeline,
		RunTime2Mile:      l.RunTime2mi,
		RuckTime12Mile:    l.RuckTime12mi,
		Pushups:           roundPtr(l.Pushups),
		Situps:            roundPtr(l.Situps),
		PTScore:           roundPtr(l.PTScore),
		MedicalEligible:   l.MedicalEligible,
		AirborneQualified: l.AirborneQualified,
		NoMoralWaiver:     l.NoMoralWaiver,
		PriorSOCOM:        l.PriorSOCOM,
		ReadinessScore:    roundPtr(l.ReadinessScore),
	}
}

func roundPtr(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}
