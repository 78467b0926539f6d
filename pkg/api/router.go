// Package api serves the resumable upload protocol over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/pkg/api/handlers"
	apiMiddleware "github.com/reelhaven/reelhaven/pkg/api/middleware"
	"github.com/reelhaven/reelhaven/pkg/upload"
)

// uploadsBasePath is the mount point of the resumable upload protocol.
const uploadsBasePath = "/v1/uploads"

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /health/stores - Per-store health detail
//   - POST /v1/uploads - Create an upload session
//   - GET /v1/uploads - List the caller's sessions
//   - PUT /v1/uploads/{uploadID} - Probe (bytes */*) or append a chunk
//   - DELETE /v1/uploads/{uploadID} - Abort
//   - GET /v1/uploads/{uploadID}/status - Session status and renditions
//   - PUT /v1/uploads/{uploadID}/draft - Update draft metadata
//   - GET /v1/uploads/{uploadID}/draft - Read draft metadata
//
// No global request timeout: chunk appends stream for minutes and carry
// their own deadline inside the upload service.
func NewRouter(cfg Config, svc *upload.Service, checks map[string]handlers.Check) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(checks)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/stores", healthHandler.Stores)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	uploadHandler := handlers.NewUploadHandler(svc, uploadsBasePath)

	r.Route(uploadsBasePath, func(r chi.Router) {
		r.Use(apiMiddleware.Identity([]byte(cfg.GetJWTSecret()), cfg.Auth.DevMode))

		r.Post("/", uploadHandler.Create)
		r.Get("/", uploadHandler.List)

		r.Route("/{uploadID}", func(r chi.Router) {
			r.Put("/", uploadHandler.Put)
			r.Delete("/", uploadHandler.Abort)
			r.Get("/status", uploadHandler.Status)
			r.Put("/draft", uploadHandler.PutDraft)
			r.Get("/draft", uploadHandler.GetDraft)
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs request completion using the internal logger.
// Healthcheck requests are logged at DEBUG to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
