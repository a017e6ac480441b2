// Package httpapi exposes the recruiting CRM over HTTP (JSON) and the gRPC
// health service.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"recruitd.org/internal/analytics"
	"recruitd.org/internal/attribution"
	"recruitd.org/internal/auth"
	"recruitd.org/internal/obs"
	"recruitd.org/internal/registry"
	"recruitd.org/internal/store"
	"recruitd.org/internal/workflow"
)

const serviceName = "recruitd"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports the service ready when the store answers a ping.
type ReadyProbe struct {
	Store store.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the components the API serves.
type Deps struct {
	Store     store.Store
	Auth      *auth.Service
	Registry  *registry.Registry
	Leads     *attribution.Resolver
	Analytics *analytics.Aggregator
	Workflow  *workflow.Engine
}

type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	deps       Deps
	rateBurst  int
	ratePerSec float64
	now        func() time.Time
}

type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

func New(rp readinessChecker, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		deps:       deps,
		rateBurst:  100,
		ratePerSec: 50,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/stations", a.handleStations)

	a.mux.HandleFunc("/v1/codes", a.handleCodesCollection)
	a.mux.HandleFunc("/v1/codes/", a.handleCodeResource)
	a.mux.HandleFunc("/v1/scans", a.handleScans)
	a.mux.HandleFunc("/v1/submissions", a.handleSubmissionsCollection)
	a.mux.HandleFunc("/v1/submissions/", a.handleSubmissionResource)
	a.mux.HandleFunc("/v1/analytics/conversions", a.handleConversions)

	a.mux.HandleFunc("/v1/approve-request", a.handleApproveLink)
	a.mux.HandleFunc("/v1/station-commander/", a.handleStationCommander)
	a.mux.HandleFunc("/v1/station-change-requests", a.handleTransferCollection)
	a.mux.HandleFunc("/v1/station-change-requests/", a.handleTransferResource)
	a.mux.HandleFunc("/v1/admin/", a.handleAdmin)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the routes with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
