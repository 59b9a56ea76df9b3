package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/ratelimit"
	"inkpost/internal/storage"
	"inkpost/internal/version"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP handlers for the inkpost API
type Handlers struct {
	storage   storage.Storage
	limiter   *ratelimit.Limiter
	version   version.Info
	startedAt time.Time
	now       func() time.Time

	comments models.CommentsConfig
	media    *os.Root
	mediaCfg models.MediaConfig
}

// HandlerOption configures optional handler features.
type HandlerOption func(*Handlers)

// WithComments sets the comment intake policy. Comments are enabled and
// unmoderated by default.
func WithComments(cfg models.CommentsConfig) HandlerOption {
	return func(h *Handlers) { h.comments = cfg }
}

// WithMedia serves files below root on /media/{name}.
func WithMedia(root *os.Root, cfg models.MediaConfig) HandlerOption {
	return func(h *Handlers) {
		h.media = root
		h.mediaCfg = cfg
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Storage, limiter *ratelimit.Limiter, ver version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		storage:   store,
		limiter:   limiter,
		version:   ver,
		startedAt: time.Now(),
		now:       time.Now,
		comments:  models.CommentsConfig{Enabled: true},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := models.HealthCheckResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Version:   h.version.Short(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Components: map[string]models.ComponentHealth{
			"storage": {Status: "healthy"},
		},
	}

	status := http.StatusOK
	if err := h.storage.Ping(ctx); err != nil {
		slog.Warn("Storage health check failed", "error", err)
		response.Status = "unhealthy"
		response.Components["storage"] = models.ComponentHealth{Status: "unhealthy", Message: "storage unreachable"}
		status = http.StatusServiceUnavailable
	}

	if h.limiter != nil {
		rl := models.ComponentHealth{Status: "healthy"}
		if _, err := h.limiter.Store().Len(ctx); err != nil {
			rl = models.ComponentHealth{Status: "degraded", Message: "rate limit store unreachable, failing open"}
		}
		response.Components["rate_limit"] = rl
	}

	h.writeJSONResponse(w, status, response)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
