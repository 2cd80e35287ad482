package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nexus/backend/pkg/models"
)

const (
	serviceName = "nexus"
	// Version is reported by the health endpoint.
	Version = "0.2.0"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the unauthenticated HTTP handlers.
type Handler struct {
	store  Pinger
	logger Logger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(store Pinger, logger Logger) *Handler {
	return &Handler{store: store, logger: orNop(logger)}
}

// HandleHealth reports service health. The store check bounds itself to a
// couple of seconds; an unreachable store turns the response into 503.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   Version,
		Checks:    map[string]string{},
	}

	code := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "check", "store", "error", err)
			status.Status = "degraded"
			status.Checks["store"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["store"] = "ok"
		}
	}
	writeJSON(w, code, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// the header is already out, nothing useful can be done on failure
	_ = json.NewEncoder(w).Encode(data)
}
