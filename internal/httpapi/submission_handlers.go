package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"recruitd.org/internal/attribution"
	"recruitd.org/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

type submissionRequest struct {
	Kind           domain.Kind      `json:"kind"`
	Applicant      domain.Applicant `json:"applicant"`
	Rating         int              `json:"rating"`
	Feedback       string           `json:"feedback"`
	Code           string           `json:"code"`
	ScanID         string           `json:"scan_id"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type statusRequest struct {
	Status domain.Status `json:"status"`
}

type noteRequest struct {
	Text string `json:"text"`
}

func (a *API) handleSubmissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createSubmission(w, r)
	case http.MethodGet:
		u, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit, err := parsePositiveInt("limit", r.URL.Query().Get("limit"), 100, 1, 500)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		subs, err := a.deps.Leads.List(r.Context(), u, limit)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if subs == nil {
			subs = []domain.Submission{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createSubmission(w http.ResponseWriter, r *http.Request) {
	var in submissionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	headerKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	bodyKey := strings.TrimSpace(in.IdempotencyKey)
	if headerKey != "" && bodyKey != "" && headerKey != bodyKey {
		writeError(w, r, http.StatusBadRequest, "idempotency key mismatch")
		return
	}
	key := headerKey
	if key == "" {
		key = bodyKey
	}

	input := attribution.Input{
		Kind:           in.Kind,
		Applicant:      in.Applicant,
		Rating:         in.Rating,
		Feedback:       in.Feedback,
		Code:           in.Code,
		ScanID:         in.ScanID,
		IdempotencyKey: key,
		IPAddress:      clientIP(r),
	}
	if u, ok := userFromContext(r.Context()); ok {
		input.SessionUserID = u.ID
	}
	sub, err := a.deps.Leads.Submit(r.Context(), input)
	if errors.Is(err, domain.ErrDuplicateSubmission) && sub.ID != "" {
		w.Header().Set("Idempotent-Replay", "true")
		writeJSON(w, http.StatusOK, sub)
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// handleSubmissionResource serves /v1/submissions/{id} and its status,
// notes and sorb sub-resources.
func (a *API) handleSubmissionResource(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/submissions/"), "/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	ctx := r.Context()

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s, err := a.deps.Leads.Get(ctx, u, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		var in statusRequest
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s, err := a.deps.Leads.UpdateStatus(ctx, u, id, in.Status)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case "notes":
		switch r.Method {
		case http.MethodGet:
			notes, err := a.deps.Leads.Notes(ctx, u, id)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			if notes == nil {
				notes = []domain.Note{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
		case http.MethodPost:
			var in noteRequest
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			n, err := a.deps.Leads.AppendNote(ctx, u, id, in.Text)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, n)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "sorb":
		switch r.Method {
		case http.MethodGet:
			p, err := a.deps.Leads.SORB(ctx, u, id)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, p)
		case http.MethodPut:
			var in domain.SORBProfile
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			p, err := a.deps.Leads.PutSORB(ctx, u, id, in)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, p)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleConversions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	report, err := a.deps.Analytics.Conversions(r.Context(), u)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
