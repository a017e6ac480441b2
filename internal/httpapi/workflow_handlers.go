package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/workflow"
)

type escalationRequest struct {
	Justification string `json:"justification"`
}

type transferRequest struct {
	StationID string `json:"station_id"`
	Reason    string `json:"reason"`
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

type setStationRequest struct {
	StationID string `json:"station_id"`
}

// handleApproveLink redeems an emailed approval link. It answers in plain
// text because the caller is a mail client, not the dashboard.
func (a *API) handleApproveLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	action := strings.TrimSpace(q.Get("action"))
	if token == "" || (action != "approve" && action != "deny") {
		writeText(w, http.StatusBadRequest, "Missing token or action.")
		return
	}
	_, err := a.deps.Workflow.Apply(r.Context(), workflow.Decide{Token: token, Approve: action == "approve"})
	switch {
	case err == nil:
		if action == "approve" {
			writeText(w, http.StatusOK, "Request approved.")
		} else {
			writeText(w, http.StatusOK, "Request denied.")
		}
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		writeText(w, http.StatusGone, "This approval link is invalid or has expired.")
	case errors.Is(err, domain.ErrTokenAlreadyConsumed), errors.Is(err, domain.ErrInvalidStateTransition):
		writeText(w, http.StatusConflict, "This request has already been processed.")
	case errors.Is(err, domain.ErrStaleRequest):
		writeText(w, http.StatusConflict, "The user's assignment has changed since this request was made.")
	default:
		obs.Logger().Error("approval link failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Something went wrong. Try again later.")
	}
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg + "\n"))
}

func (a *API) handleStationCommander(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/station-commander/"), "/")
	switch rest {
	case "request":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var in escalationRequest
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		res, err := a.deps.Workflow.Apply(r.Context(), workflow.RequestEscalation{UserID: u.ID, Justification: in.Justification})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	case "my-request":
		a.myRequest(w, r, u, domain.RequestEscalation)
	case "requests":
		a.listRequests(w, r, u, domain.RequestEscalation)
	default:
		rest, found := strings.CutPrefix(rest, "requests/")
		if !found {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.decideByAdmin(w, r, u, domain.RequestEscalation, rest)
	}
}

func (a *API) handleTransferCollection(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var in transferRequest
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		res, err := a.deps.Workflow.Apply(r.Context(), workflow.RequestTransfer{UserID: u.ID, StationID: in.StationID, Reason: in.Reason})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		code := http.StatusCreated
		if res.Request == nil {
			// admins are moved directly
			code = http.StatusOK
		}
		writeJSON(w, code, res)
	case http.MethodGet:
		a.listRequests(w, r, u, domain.RequestTransfer)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransferResource(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/station-change-requests/"), "/")
	if rest == "my-request" {
		a.myRequest(w, r, u, domain.RequestTransfer)
		return
	}
	a.decideByAdmin(w, r, u, domain.RequestTransfer, rest)
}

func (a *API) myRequest(w http.ResponseWriter, r *http.Request, u domain.User, kind domain.RequestKind) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	req, err := a.deps.Workflow.LatestRequest(r.Context(), u.ID, kind)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"request": nil})
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request, u domain.User, kind domain.RequestKind) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	status := domain.RequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", domain.RequestPending, domain.RequestApproved, domain.RequestDenied, domain.RequestExpired:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	list, err := a.deps.Workflow.ListRequests(r.Context(), u.ID, kind, status)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

// decideByAdmin serves {id}/approve and {id}/deny.
func (a *API) decideByAdmin(w http.ResponseWriter, r *http.Request, u domain.User, kind domain.RequestKind, rest string) {
	id, action, found := strings.Cut(rest, "/")
	if !found || id == "" || (action != "approve" && action != "deny") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in decisionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := a.deps.Workflow.Apply(r.Context(), workflow.Decide{
		Kind:      kind,
		RequestID: id,
		ActorID:   u.ID,
		Approve:   action == "approve",
		Notes:     in.Notes,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAdmin serves /v1/admin/users/{id}/station and
// /v1/admin/pending-request-counts.
func (a *API) handleAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/"), "/")
	if rest == "pending-request-counts" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		counts, err := a.deps.Workflow.PendingCounts(r.Context(), u.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"station_commander_requests": counts[domain.RequestEscalation],
			"station_change_requests":    counts[domain.RequestTransfer],
		})
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != "users" || parts[1] == "" || parts[2] != "station" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var in setStationRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.deps.Workflow.Apply(r.Context(), workflow.AdminSetStation{ActorID: u.ID, UserID: parts[1], StationID: in.StationID})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
