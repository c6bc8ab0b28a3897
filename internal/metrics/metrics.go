package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcome labels for the push-channel ingest pipeline.
const (
	EventIngested  = "ingested"
	EventDuplicate = "duplicate"
	EventMalformed = "malformed"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notisync_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notisync_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	connectionPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notisync_connection_phase",
			Help: "Current push-channel phase per recipient (1 = active phase)",
		},
		[]string{"identity", "phase"},
	)

	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notisync_connect_attempts_total",
			Help: "Push-channel connect attempts by outcome",
		},
		[]string{"outcome"},
	)

	pushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notisync_push_events_total",
			Help: "Push-channel frames by ingest outcome",
		},
		[]string{"outcome"},
	)

	unreadNotifications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notisync_unread_notifications",
			Help: "Current unread counter per recipient session",
		},
		[]string{"identity"},
	)

	commandFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notisync_command_failures_total",
			Help: "Upstream persistence failures for optimistic commands",
		},
		[]string{"command"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notisync_active_sessions",
			Help: "Currently registered recipient sessions",
		},
	)
)

// knownPhases mirrors channel.Phase string values; kept here so the gauge
// can zero the inactive phases without importing the channel package.
var knownPhases = []string{"disconnected", "connecting", "connected", "failed"}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetConnectionPhase marks the active phase for a recipient's push channel.
func SetConnectionPhase(identity, phase string) {
	for _, p := range knownPhases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		connectionPhase.WithLabelValues(identity, p).Set(v)
	}
}

// RecordConnectAttempt records one connect attempt outcome ("ok"/"failed").
func RecordConnectAttempt(outcome string) {
	connectAttempts.WithLabelValues(outcome).Inc()
}

// RecordEvent records one push-channel frame outcome.
func RecordEvent(outcome string) {
	pushEvents.WithLabelValues(outcome).Inc()
}

// SetUnread sets the per-recipient unread gauge.
func SetUnread(identity string, count int) {
	unreadNotifications.WithLabelValues(identity).Set(float64(count))
}

// RecordCommandFailure records an upstream persistence failure.
func RecordCommandFailure(command string) {
	commandFailures.WithLabelValues(command).Inc()
}

// SetActiveSessions sets the live session count.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
