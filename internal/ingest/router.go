package ingest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/config"
	"github.com/vnmchuo/llm-cost-tracker/internal/auth"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
)

// NewRouter mounts the public and project-authenticated routes.
func NewRouter(h *Handler, authMiddleware auth.Middleware, corsCfg *config.CORSConfig, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)
	if corsCfg != nil {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: corsCfg.AllowedOrigins,
			AllowedMethods: corsCfg.AllowedMethods,
			AllowedHeaders: corsCfg.AllowedHeaders,
			MaxAge:         corsCfg.MaxAge,
		}).Handler)
	}

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "llm-cost-tracker"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(countUnauthorized(h.metrics))
		r.Use(authMiddleware)
		r.Post("/ingest", h.HandleIngest)
		r.Get("/v1/usage", h.HandleUsage)
	})

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		telemetry.FromContext(r.Context()).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// countUnauthorized records requests rejected by the auth middleware, which
// never reach the handler.
func countUnauthorized(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() == http.StatusUnauthorized {
				metrics.Requests.WithLabelValues(telemetry.StatusUnauthorized).Inc()
			}
		})
	}
}
