// Package handler provides HTTP handlers for the operator endpoints: health,
// latest-location lookups and pipeline depth. Everything is read-only; the
// tracking pipeline itself is driven by the inbound queue.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/famtrack/internal/api/respond"
	"github.com/albapepper/famtrack/internal/location"
)

// DBChecker verifies database connectivity.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheReader is the slice of the shared cache the handlers read.
type CacheReader interface {
	Latest(ctx context.Context, userID string) (location.Event, bool, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// Depth reports the length of a Redis list.
type Depth interface {
	Len(ctx context.Context) (int64, error)
}

// Deps are the Handler's collaborators.
type Deps struct {
	DB      DBChecker
	Cache   CacheReader
	Buffer  Depth
	Queue   Depth
	Version string
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	db      DBChecker
	cache   CacheReader
	buffer  Depth
	queue   Depth
	version string
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	return &Handler{
		db:      d.DB,
		cache:   d.Cache,
		buffer:  d.Buffer,
		queue:   d.Queue,
		version: d.Version,
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Root serves service info at /.
// @Summary Service root info
// @Description Returns service name, version, status and the docs location.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "famtrack",
		"version": h.version,
		"status":  "running",
		"docs":    "/docs",
		"metrics": "/metrics",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": now(),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": now(),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": now(),
	})
}

// HealthCheckCache verifies Redis connectivity.
// @Summary Cache health check
// @Description Verifies Redis connectivity and reports key count and TTL settings.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"cache":     "disconnected",
			"error":     "Redis connection check failed",
			"timestamp": now(),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     stats,
		"timestamp": now(),
	})
}

// GetLatestLocation returns the most recent location seen for a user.
// @Summary Latest user location
// @Description Returns the last location event processed for the user, straight from the shared cache.
// @Tags locations
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} location.Event
// @Success 304 "Not modified"
// @Failure 404 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/location [get]
func (h *Handler) GetLatestLocation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ev, ok, err := h.cache.Latest(r.Context(), userID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
			"Latest location could not be read", err.Error())
		return
	}
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No location recorded for user")
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Could not encode location")
		return
	}

	etag := respond.ComputeETag(data)
	if respond.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag)
}

// GetPipelineStatus reports the depth of the inbound queue and the pending
// buffer.
// @Summary Pipeline depth
// @Description Returns the number of events waiting in the inbound queue and in the persistence buffer.
// @Tags pipeline
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/pipeline [get]
func (h *Handler) GetPipelineStatus(w http.ResponseWriter, r *http.Request) {
	queued, err := h.queue.Len(r.Context())
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
			"Queue depth could not be read", err.Error())
		return
	}
	buffered, err := h.buffer.Len(r.Context())
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
			"Buffer depth could not be read", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"queue_depth":  queued,
		"buffer_depth": buffered,
		"timestamp":    now(),
	})
}
