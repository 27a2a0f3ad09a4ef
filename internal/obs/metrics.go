package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	tokenValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_validations_total",
			Help: "Bearer token validations by outcome.",
		},
		[]string{"result"},
	)

	keyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_key_rotations_total",
			Help: "Signing key rotations by mode.",
		},
		[]string{"mode"},
	)

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_permission_checks_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokenValidationsTotal, keyRotationsTotal, permissionChecksTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenValidation records one token validation outcome: "ok" or "rejected".
func TokenValidation(result string) {
	tokenValidationsTotal.WithLabelValues(result).Inc()
}

// KeyRotation records one rotation, mode "soft" or "hard".
func KeyRotation(mode string) {
	keyRotationsTotal.WithLabelValues(mode).Inc()
}

// PermissionCheck records one authorization decision: "allowed" or "denied".
func PermissionCheck(result string) {
	permissionChecksTotal.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r.URL.Path)

		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource ids so the path label stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/<collection>/<id>[...] -> /v1/<collection>/:id[...]
	// The fixed RPC verbs keep their own label.
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "organizations", "events", "registrations", "permissions", "users":
			switch parts[3] {
			case "query", "delete":
				return p
			}
			parts[3] = ":id"
			return strings.Join(parts, "/")
		}
	}
	return p
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
