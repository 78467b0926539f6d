package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check probes one backing store. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checks    map[string]Check
	startedAt time.Time
}

// NewHealthHandler creates the handler. checks maps a store name ("sessions",
// "blobs", "queue") to its probe; the map may be nil.
func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, startedAt: time.Now()}
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Stores    map[string]string `json:"stores,omitempty"`
}

func (h *HealthHandler) uptime() string {
	return time.Since(h.startedAt).Round(time.Second).String()
}

// Liveness handles GET /health. Process-up only; no dependencies probed.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime(),
	})
}

// Readiness handles GET /health/ready. Ready only when every backing store
// answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Stores handles GET /health/stores: per-store status for debugging.
func (h *HealthHandler) Stores(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "healthy"
	stores := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			stores[name] = err.Error()
			overall = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			stores[name] = "ok"
		}
	}

	WriteJSON(w, status, healthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime(),
		Stores:    stores,
	})
}
