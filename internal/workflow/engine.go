// Package workflow owns every change to a user's role and station: the
// escalation and transfer request workflows, their token-authenticated
// decisions, and direct admin assignment.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"recruitd.org/internal/audit"
	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
	"recruitd.org/internal/notify"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/store"
	"recruitd.org/internal/tokens"
)

const (
	maxReasonLen  = 2000
	linkReviewer  = "email_link"
	expiredNote   = "expired"
	reaperBatch   = 100
	approvalRoute = "/v1/approve-request"
)

type Engine struct {
	store      store.Store
	tokens     *tokens.Manager
	now        func() time.Time
	baseURL    string
	adminEmail string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublicBaseURL sets the origin used in approval links.
func WithPublicBaseURL(u string) Option {
	return func(e *Engine) { e.baseURL = strings.TrimRight(u, "/") }
}

// WithAdminEmail adds a fallback recipient for new request notifications.
func WithAdminEmail(addr string) Option {
	return func(e *Engine) { e.adminEmail = strings.TrimSpace(addr) }
}

func New(s store.Store, tm *tokens.Manager, opts ...Option) *Engine {
	e := &Engine{store: s, tokens: tm, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the state after a command committed. Request is nil for
// commands that do not involve one.
type Result struct {
	Request *domain.Request `json:"request,omitempty"`
	User    domain.User     `json:"user"`

	event  string
	fields map[string]any
}

// Apply runs cmd in its own transaction.
func (e *Engine) Apply(ctx context.Context, cmd Command) (Result, error) {
	var res Result
	err := e.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		res, err = e.apply(ctx, tx, cmd)
		return err
	})
	outcome := outcomeOf(err)
	obs.RoleTransition(cmd.name(), outcome)
	if d, ok := cmd.(Decide); ok && d.Token != "" {
		obs.TokenRedeemed(outcome)
	}
	if err != nil {
		return Result{}, err
	}
	if res.event != "" {
		_ = audit.LogEvent(ctx, res.event, res.fields)
	}
	return res, nil
}

func (e *Engine) apply(ctx context.Context, tx store.Tx, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case RequestEscalation:
		return e.requestEscalation(ctx, tx, c)
	case RequestTransfer:
		return e.requestTransfer(ctx, tx, c)
	case Decide:
		return e.decide(ctx, tx, c)
	case AdminSetStation:
		return e.adminSetStation(ctx, tx, c)
	case expireRequest:
		return e.expire(ctx, tx, c)
	default:
		return Result{}, fmt.Errorf("workflow: unknown command %T", cmd)
	}
}

func (e *Engine) requestEscalation(ctx context.Context, tx store.Tx, c RequestEscalation) (Result, error) {
	user, err := tx.UserForUpdate(ctx, c.UserID)
	if err != nil {
		return Result{}, err
	}
	switch user.Role {
	case domain.RoleCommander, domain.RoleAdmin:
		return Result{}, fmt.Errorf("%w: %s already has station access", domain.ErrInvalidStateTransition, user.Role)
	case domain.RolePendingCommander:
		return Result{}, domain.ErrRequestAlreadyPending
	}
	if user.StationID == "" {
		return Result{}, fmt.Errorf("%w: a station assignment is required", domain.ErrInvalidInput)
	}
	reason, err := cleanReason("justification", c.Justification)
	if err != nil {
		return Result{}, err
	}
	if err := ensureNonePending(ctx, tx, user.ID, domain.RequestEscalation); err != nil {
		return Result{}, err
	}
	now := e.now().UTC()
	req := domain.Request{
		ID:                 ids.New(),
		Kind:               domain.RequestEscalation,
		UserID:             user.ID,
		CurrentStationID:   user.StationID,
		RequestedStationID: user.StationID,
		Reason:             reason,
		Status:             domain.RequestPending,
		CreatedAt:          now,
	}
	if err := tx.InsertRequest(ctx, req); err != nil {
		return Result{}, err
	}
	if err := tx.SetUserAccess(ctx, user.ID, domain.RolePendingCommander, user.StationID, now); err != nil {
		return Result{}, err
	}
	user.Role, user.UpdatedAt = domain.RolePendingCommander, now
	if err := e.announce(ctx, tx, req, user); err != nil {
		return Result{}, err
	}
	return Result{Request: &req, User: user, event: "role.escalation.requested", fields: map[string]any{
		"request_id": req.ID,
		"station_id": req.RequestedStationID,
		"path":       audit.PathWorkflow,
	}}, nil
}

func (e *Engine) requestTransfer(ctx context.Context, tx store.Tx, c RequestTransfer) (Result, error) {
	user, err := tx.UserForUpdate(ctx, c.UserID)
	if err != nil {
		return Result{}, err
	}
	if user.IsAdmin() {
		return e.adminSetStation(ctx, tx, AdminSetStation{ActorID: user.ID, UserID: user.ID, StationID: c.StationID})
	}
	if err := stationExists(ctx, tx, c.StationID); err != nil {
		return Result{}, err
	}
	if c.StationID == user.StationID {
		return Result{}, fmt.Errorf("%w: already assigned to this station", domain.ErrInvalidInput)
	}
	reason, err := cleanReason("reason", c.Reason)
	if err != nil {
		return Result{}, err
	}
	if err := ensureNonePending(ctx, tx, user.ID, domain.RequestTransfer); err != nil {
		return Result{}, err
	}
	req := domain.Request{
		ID:                 ids.New(),
		Kind:               domain.RequestTransfer,
		UserID:             user.ID,
		CurrentStationID:   user.StationID,
		RequestedStationID: c.StationID,
		Reason:             reason,
		Status:             domain.RequestPending,
		CreatedAt:          e.now().UTC(),
	}
	if err := tx.InsertRequest(ctx, req); err != nil {
		return Result{}, err
	}
	if err := e.announce(ctx, tx, req, user); err != nil {
		return Result{}, err
	}
	return Result{Request: &req, User: user, event: "station.transfer.requested", fields: map[string]any{
		"request_id":   req.ID,
		"from_station": req.CurrentStationID,
		"to_station":   req.RequestedStationID,
		"path":         audit.PathWorkflow,
	}}, nil
}

func (e *Engine) decide(ctx context.Context, tx store.Tx, c Decide) (Result, error) {
	now := e.now().UTC()
	var (
		req      domain.Request
		reviewer string
		err      error
	)
	if c.Token != "" {
		tok, err := e.tokens.Redeem(ctx, tx, c.Token)
		if err != nil {
			return Result{}, err
		}
		if req, err = tx.Request(ctx, tok.RequestID); err != nil {
			return Result{}, err
		}
		reviewer = linkReviewer
	} else {
		if err := requireAdmin(ctx, tx, c.ActorID); err != nil {
			return Result{}, err
		}
		if req, err = tx.Request(ctx, c.RequestID); err != nil {
			return Result{}, err
		}
		if c.Kind != "" && req.Kind != c.Kind {
			return Result{}, domain.ErrNotFound
		}
		if req.Pending() {
			if err := tx.ConsumeRequestTokens(ctx, req.ID, now); err != nil {
				return Result{}, err
			}
		}
		reviewer = c.ActorID
	}
	if !req.Pending() {
		return Result{}, fmt.Errorf("%w: request is %s", domain.ErrInvalidStateTransition, req.Status)
	}

	user, err := tx.UserForUpdate(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	role, station := user.Role, user.StationID
	if c.Approve {
		if user.StationID != req.CurrentStationID {
			return Result{}, domain.ErrStaleRequest
		}
		switch req.Kind {
		case domain.RequestEscalation:
			if user.Role != domain.RolePendingCommander {
				return Result{}, domain.ErrStaleRequest
			}
			role = domain.RoleCommander
		case domain.RequestTransfer:
			station = req.RequestedStationID
			if role == domain.RoleCommander {
				role = domain.RoleRecruiter
			}
		}
	} else if req.Kind == domain.RequestEscalation && user.Role == domain.RolePendingCommander {
		role = domain.RoleRecruiter
	}

	req.Status = domain.RequestDenied
	kind := domain.EventRoleRequestDenied
	if c.Approve {
		req.Status = domain.RequestApproved
		kind = domain.EventRoleRequestApproved
	}
	req.ReviewedBy = reviewer
	req.ReviewedAt = &now
	req.ReviewNotes = strings.TrimSpace(c.Notes)
	if err := tx.CloseRequest(ctx, req); err != nil {
		return Result{}, err
	}
	if role != user.Role || station != user.StationID {
		if err := tx.SetUserAccess(ctx, user.ID, role, station, now); err != nil {
			return Result{}, err
		}
		user.Role, user.StationID, user.UpdatedAt = role, station, now
	}
	if err := tx.Enqueue(ctx, notify.NewEvent(kind, user.Email, map[string]string{
		"request_id":   req.ID,
		"request_kind": string(req.Kind),
		"user_name":    user.FullName,
		"station_id":   user.StationID,
		"role":         string(user.Role),
		"notes":        req.ReviewNotes,
	}, now)); err != nil {
		return Result{}, err
	}
	return Result{Request: &req, User: user, event: "role.request." + string(req.Status), fields: map[string]any{
		"request_id":   req.ID,
		"request_kind": string(req.Kind),
		"reviewer":     reviewer,
		"role":         string(user.Role),
		"station_id":   user.StationID,
		"path":         audit.PathWorkflow,
	}}, nil
}

func (e *Engine) adminSetStation(ctx context.Context, tx store.Tx, c AdminSetStation) (Result, error) {
	if err := requireAdmin(ctx, tx, c.ActorID); err != nil {
		return Result{}, err
	}
	if err := stationExists(ctx, tx, c.StationID); err != nil {
		return Result{}, err
	}
	user, err := tx.UserForUpdate(ctx, c.UserID)
	if err != nil {
		return Result{}, err
	}
	from, fromRole := user.StationID, user.Role
	if from != c.StationID {
		// Commander authority stays with the old station.
		role := user.Role
		if role == domain.RoleCommander {
			role = domain.RoleRecruiter
		}
		now := e.now().UTC()
		if err := tx.SetUserAccess(ctx, user.ID, role, c.StationID, now); err != nil {
			return Result{}, err
		}
		user.Role, user.StationID, user.UpdatedAt = role, c.StationID, now
	}
	return Result{User: user, event: "station.assigned", fields: map[string]any{
		"target_user":  user.ID,
		"actor":        c.ActorID,
		"from_station": from,
		"to_station":   c.StationID,
		"from_role":    string(fromRole),
		"role":         string(user.Role),
		"demoted":      fromRole != user.Role,
		"path":         audit.PathAdminDirect,
	}}, nil
}

// expire closes the request behind a lapsed token. Escalations become
// expired and the user reverts to recruiter; transfers are denied.
func (e *Engine) expire(ctx context.Context, tx store.Tx, c expireRequest) (Result, error) {
	now := e.now().UTC()
	if err := tx.ConsumeToken(ctx, c.Token.Token, now); err != nil {
		return Result{}, err
	}
	req, err := tx.Request(ctx, c.Token.RequestID)
	if err != nil {
		return Result{}, err
	}
	if !req.Pending() {
		return Result{Request: &req}, nil
	}
	user, err := tx.UserForUpdate(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	req.Status = domain.RequestDenied
	if req.Kind == domain.RequestEscalation {
		req.Status = domain.RequestExpired
		if user.Role == domain.RolePendingCommander {
			if err := tx.SetUserAccess(ctx, user.ID, domain.RoleRecruiter, user.StationID, now); err != nil {
				return Result{}, err
			}
			user.Role, user.UpdatedAt = domain.RoleRecruiter, now
		}
	}
	req.ReviewedAt = &now
	req.ReviewNotes = expiredNote
	if err := tx.CloseRequest(ctx, req); err != nil {
		return Result{}, err
	}
	if err := tx.Enqueue(ctx, notify.NewEvent(domain.EventRoleRequestDenied, user.Email, map[string]string{
		"request_id":   req.ID,
		"request_kind": string(req.Kind),
		"user_name":    user.FullName,
		"notes":        expiredNote,
	}, now)); err != nil {
		return Result{}, err
	}
	return Result{Request: &req, User: user, event: "role.request.expired", fields: map[string]any{
		"request_id":   req.ID,
		"request_kind": string(req.Kind),
		"path":         audit.PathWorkflow,
	}}, nil
}

// announce mints the approval token and tells the admins.
func (e *Engine) announce(ctx context.Context, tx store.Tx, req domain.Request, user domain.User) error {
	tok, err := e.tokens.Mint(ctx, tx, req.ID, req.Kind)
	if err != nil {
		return err
	}
	admins, err := tx.UsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, len(admins)+1)
	seen := map[string]bool{}
	for _, a := range admins {
		if a.Email != "" && !seen[strings.ToLower(a.Email)] {
			seen[strings.ToLower(a.Email)] = true
			recipients = append(recipients, a.Email)
		}
	}
	if e.adminEmail != "" && !seen[strings.ToLower(e.adminEmail)] {
		recipients = append(recipients, e.adminEmail)
	}
	if len(recipients) == 0 {
		obs.Logger().Warn("no admin recipient for role request", zap.String("request_id", req.ID))
		return nil
	}
	data := map[string]string{
		"request_id":           req.ID,
		"request_kind":         string(req.Kind),
		"user_id":              user.ID,
		"user_name":            user.FullName,
		"user_email":           user.Email,
		"current_station_id":   req.CurrentStationID,
		"requested_station_id": req.RequestedStationID,
		"reason":               req.Reason,
		"approve_url":          e.link(tok.Token, "approve"),
		"deny_url":             e.link(tok.Token, "deny"),
		"expires_at":           tok.ExpiresAt.Format(time.RFC3339),
	}
	now := e.now()
	for _, to := range recipients {
		if err := tx.Enqueue(ctx, notify.NewEvent(domain.EventRoleRequestCreated, to, data, now)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) link(token, action string) string {
	q := url.Values{"token": {token}, "action": {action}}
	return e.baseURL + approvalRoute + "?" + q.Encode()
}

func ensureNonePending(ctx context.Context, tx store.Tx, userID string, kind domain.RequestKind) error {
	_, err := tx.PendingRequest(ctx, userID, kind)
	switch {
	case err == nil:
		return domain.ErrRequestAlreadyPending
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

func requireAdmin(ctx context.Context, tx store.Tx, actorID string) error {
	actor, err := tx.User(ctx, actorID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return domain.ErrUnauthorized
	}
	return nil
}

func stationExists(ctx context.Context, tx store.Tx, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: station is required", domain.ErrInvalidInput)
	}
	_, err := tx.Station(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown station", domain.ErrInvalidInput)
	}
	return err
}

func cleanReason(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field)
	}
	if len(s) > maxReasonLen {
		return "", fmt.Errorf("%w: %s too long", domain.ErrInvalidInput, field)
	}
	return s, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenAlreadyConsumed):
		return "consumed"
	case errors.Is(err, domain.ErrStaleRequest):
		return "stale"
	case errors.Is(err, domain.ErrRequestAlreadyPending), errors.Is(err, domain.ErrInvalidStateTransition):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}
