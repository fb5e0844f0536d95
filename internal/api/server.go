package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/PRBEM/IRBEM/internal/auth"
	"github.com/PRBEM/IRBEM/internal/batch"
	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/health"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/metrics"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// Config holds HTTP serving limits.
type Config struct {
	Addr               string
	TrustProxy         bool          // read client IPs from proxy headers
	MaxConcurrentPerIP int           // concurrent bounce computations per client IP
	MaxConcurrentTotal int           // concurrent bounce computations overall
	MaxEnergies        int           // energies per bounce query
	MaxResampleCount   int           // resample_count ceiling
	MaxBatchQueries    int           // queries per batch request
	RequestTimeout     time.Duration // per-request compute deadline
}

// DefaultConfig returns the serving limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		MaxConcurrentPerIP: 4,
		MaxConcurrentTotal: 64,
		MaxEnergies:        64,
		MaxResampleCount:   1_000_000,
		MaxBatchQueries:    256,
		RequestTimeout:     30 * time.Second,
	}
}

// Services are the domain components the handlers call.
type Services struct {
	Fields    *irbem.MagFields
	Coords    *irbem.Coords
	Estimator *bounce.Estimator
	Pool      *batch.Pool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, svc Services, logger *slog.Logger, authCfg auth.Config) *Server {
	h := &handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: newComputeLimiter(cfg.MaxConcurrentPerIP, cfg.MaxConcurrentTotal),
		logger:  logger,
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(backendCheck(svc.Fields)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/models", h.models)
	mux.HandleFunc("POST /api/v1/bounce-period", h.bouncePeriod)
	mux.HandleFunc("POST /api/v1/bounce-period/batch", h.bouncePeriodBatch)
	mux.HandleFunc("POST /api/v1/mirror-altitude", h.mirrorAltitude)
	mux.HandleFunc("POST /api/v1/trace-field-line", h.traceFieldLine)
	mux.HandleFunc("POST /api/v1/lstar", h.lstar)
	mux.HandleFunc("POST /api/v1/field", h.field)
	mux.HandleFunc("POST /api/v1/mirror-point", h.mirrorPoint)
	mux.HandleFunc("POST /api/v1/foot-point", h.footPoint)
	mux.HandleFunc("POST /api/v1/magequator", h.magEquator)
	mux.HandleFunc("POST /api/v1/mlt", h.mlt)
	mux.HandleFunc("POST /api/v1/drift-shell", h.driftShell)
	mux.HandleFunc("POST /api/v1/coords/transform", h.transform)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// backendCheck reports the backend ready once it answers a trivial call.
func backendCheck(fields *irbem.MagFields) health.Check {
	return func(ctx context.Context) error {
		_, err := fields.GetMLT(ctx, spacetime.NewPoint(time.Now(), 1, 0, 0))
		return err
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
