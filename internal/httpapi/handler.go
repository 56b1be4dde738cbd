// Package httpapi exposes the service's operational HTTP surface: a
// liveness/readiness probe, an aggregate statistics endpoint and the model
// load/unload endpoints, grounded in the teacher's internal/handlers package.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"streamspeech/internal/jobtracker"
	"streamspeech/internal/logger"
	"streamspeech/internal/middleware"
	"streamspeech/internal/modelmanager"
	"streamspeech/internal/session"
)

// Handler serves /health, /stats, /api/models/load and /api/models/unload.
type Handler struct {
	sessionManager *session.Manager
	modelManager   *modelmanager.Manager
	jobTracker     *jobtracker.Tracker
	rateLimiter    *middleware.RateLimiter
	startedAt      time.Time
}

// NewHandler builds an httpapi Handler with explicit dependencies.
func NewHandler(sessionManager *session.Manager, modelManager *modelmanager.Manager, jobTracker *jobtracker.Tracker, rateLimiter *middleware.RateLimiter) *Handler {
	return &Handler{
		sessionManager: sessionManager,
		modelManager:   modelManager,
		jobTracker:     jobTracker,
		rateLimiter:    rateLimiter,
		startedAt:      time.Now(),
	}
}

// RegisterRoutes mounts this handler's endpoints on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
	router.POST("/api/models/load", h.LoadModel)
	router.POST("/api/models/unload", h.UnloadModel)
}

// Health reports liveness plus a coarse readiness signal: the process is
// "ok" even before any model has been lazily loaded, since the file engine
// only loads on first use.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_sec": time.Since(h.startedAt).Seconds(),
		"models":     h.modelManager.Status(),
	})
}

// Stats aggregates session, model, job, and rate-limit statistics for
// operational visibility.
func (h *Handler) Stats(c *gin.Context) {
	resp := gin.H{
		"sessions": h.sessionManager.GetStats(),
		"models":   h.modelManager.Status(),
		"job":      h.jobTracker.Status(),
	}
	if h.rateLimiter != nil {
		resp["rate_limit"] = h.rateLimiter.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

// LoadModel eagerly loads the transcription model so the first real request
// doesn't pay the cold-start cost. Loading can take minutes; the request
// blocks for the duration, matching the model manager's locking model.
func (h *Handler) LoadModel(c *gin.Context) {
	err := h.modelManager.LoadTranscriptionModel(func(stage string) {
		logger.Info("model_load_progress", "stage", stage)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": h.modelManager.Status()})
}

// UnloadModel releases the transcription model's memory. In-flight work is
// not interrupted: the job tracker must be idle before unloading.
func (h *Handler) UnloadModel(c *gin.Context) {
	if h.jobTracker.Status().Busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a transcription is running; cancel it first"})
		return
	}
	h.modelManager.UnloadTranscriptionModel()
	c.JSON(http.StatusOK, gin.H{"models": h.modelManager.Status()})
}
