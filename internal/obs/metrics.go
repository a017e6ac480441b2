package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recruitd_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recruitd_submissions_total",
			Help: "Submissions recorded, by attribution source.",
		},
		[]string{"source"},
	)

	tokenRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recruitd_token_redemptions_total",
			Help: "Approval token redemption attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	roleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recruitd_role_transitions_total",
			Help: "Role and station mutations applied by the workflow engine.",
		},
		[]string{"command", "outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recruitd_notifications_total",
			Help: "Outbox deliveries, by result.",
		},
		[]string{"kind", "result"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ready, submissionsTotal, tokenRedemptions, roleTransitions, notifications,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func SubmissionRecorded(source string) { submissionsTotal.WithLabelValues(source).Inc() }

func TokenRedeemed(outcome string) { tokenRedemptions.WithLabelValues(outcome).Inc() }

func RoleTransition(command, outcome string) {
	roleTransitions.WithLabelValues(command, outcome).Inc()
}

func NotificationDelivered(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var literalRoutes = map[string]bool{
	"/v1/codes/location":                     true,
	"/v1/codes/personal":                     true,
	"/v1/station-commander/my-request":       true,
	"/v1/station-change-requests/my-request": true,
}

// routeTemplates use ":id" for a single variable segment.
var routeTemplates = [][]string{
	{"v1", "submissions", ":id"},
	{"v1", "submissions", ":id", "status"},
	{"v1", "submissions", ":id", "notes"},
	{"v1", "submissions", ":id", "sorb"},
	{"v1", "codes", ":id"},
	{"v1", "station-commander", "requests", ":id", "approve"},
	{"v1", "station-commander", "requests", ":id", "deny"},
	{"v1", "station-change-requests", ":id", "approve"},
	{"v1", "station-change-requests", ":id", "deny"},
	{"v1", "admin", "users", ":id", "station"},
}

// CanonicalPath collapses identifiers so that metric labels stay bounded.
// Paths that match no known route are returned unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if literalRoutes[p] {
		return p
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for _, tmpl := range routeTemplates {
		if matchTemplate(tmpl, parts) {
			return "/" + strings.Join(tmpl, "/")
		}
	}
	return p
}

func matchTemplate(tmpl, parts []string) bool {
	if len(tmpl) != len(parts) {
		return false
	}
	for i, seg := range tmpl {
		if seg == ":id" {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
