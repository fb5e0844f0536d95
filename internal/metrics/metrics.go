package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irbem_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irbem_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irbem_query_duration_seconds",
			Help:    "Duration of bounce-period, mirror-altitude and field queries.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	queryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irbem_query_errors_total",
			Help: "Failed queries by operation and error kind.",
		},
		[]string{"op", "kind"},
	)

	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irbem_backend_calls_total",
			Help: "Calls into the field-model backend by routine.",
		},
		[]string{"routine"},
	)

	accuracyWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "irbem_accuracy_warnings_total",
			Help: "Bounce-period results computed with fewer resample points than native samples.",
		},
	)

	batchWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "irbem_batch_workers",
			Help: "Number of workers in the batch evaluation pool.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(queryDurationSeconds)
	prometheus.MustRegister(queryErrorsTotal)
	prometheus.MustRegister(backendCallsTotal)
	prometheus.MustRegister(accuracyWarningsTotal)
	prometheus.MustRegister(batchWorkers)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveQuery records how long a query took.
func ObserveQuery(op string, d time.Duration) {
	queryDurationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// IncQueryErrors counts a failed query.
func IncQueryErrors(op, kind string) {
	queryErrorsTotal.WithLabelValues(op, kind).Inc()
}

// IncBackendCalls counts a call into the backend.
func IncBackendCalls(routine string) {
	backendCallsTotal.WithLabelValues(routine).Inc()
}

// IncAccuracyWarnings counts a degraded-accuracy bounce result.
func IncAccuracyWarnings() {
	accuracyWarningsTotal.Inc()
}

// SetBatchWorkers records the batch pool size.
func SetBatchWorkers(n int) {
	batchWorkers.Set(float64(n))
}

// knownRoutes are the exact paths served by the API. Anything else is
// recorded as "other" to keep label cardinality bounded.
var knownRoutes = map[string]bool{
	"/healthz":                    true,
	"/readyz":                     true,
	"/metrics":                    true,
	"/api/v1/bounce-period":       true,
	"/api/v1/bounce-period/batch": true,
	"/api/v1/mirror-altitude":     true,
	"/api/v1/trace-field-line":    true,
	"/api/v1/lstar":               true,
	"/api/v1/field":               true,
	"/api/v1/mirror-point":        true,
	"/api/v1/foot-point":          true,
	"/api/v1/magequator":          true,
	"/api/v1/drift-shell":         true,
	"/api/v1/mlt":                 true,
	"/api/v1/coords/transform":    true,
	"/api/v1/models":              true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
