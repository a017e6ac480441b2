package httpapi

import (
	"net/http"
	"strings"

	"recruitd.org/internal/attribution"
	"recruitd.org/internal/domain"
)

type locationCodeRequest struct {
	Kind  domain.Kind `json:"kind"`
	Label string      `json:"label"`
}

type scanRequest struct {
	Code string `json:"code"`
}

func (a *API) handleCodesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	codes, err := a.deps.Registry.List(r.Context(), u.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if codes == nil {
		codes = []domain.IdentityCode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// handleCodeResource serves /v1/codes/personal, /v1/codes/location and
// /v1/codes/{code}.
func (a *API) handleCodeResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/codes/"), "/")
	switch {
	case rest == "":
		writeError(w, r, http.StatusNotFound, "resource not found")
	case rest == "personal":
		a.handlePersonalCode(w, r)
	case rest == "location":
		a.handleLocationCode(w, r)
	case strings.Contains(rest, "/"):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		switch r.Method {
		case http.MethodGet:
			info, err := a.deps.Registry.Lookup(r.Context(), rest)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
		case http.MethodDelete:
			u, ok := requireUser(w, r)
			if !ok {
				return
			}
			if err := a.deps.Registry.Revoke(r.Context(), u, rest); err != nil {
				handleDomainError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	}
}

func (a *API) handlePersonalCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	kind := domain.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = domain.KindApplication
	}
	if !kind.Valid() {
		writeError(w, r, http.StatusBadRequest, "kind must be application or survey")
		return
	}
	c, err := a.deps.Registry.EnsurePersonal(r.Context(), u.ID, kind)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleLocationCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in locationCodeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if in.Kind == "" {
		in.Kind = domain.KindApplication
	}
	c, err := a.deps.Registry.IssueLocation(r.Context(), u.ID, in.Kind, in.Label)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in scanRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	scan, err := a.deps.Leads.RecordScan(r.Context(), attribution.ScanInput{
		Code:      in.Code,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"scan_id":    scan.ID,
		"code":       scan.Code,
		"kind":       scan.Kind,
		"scanned_at": scan.ScannedAt,
	})
}
