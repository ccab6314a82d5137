package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

// RCARunsHandler creates and reads RCA jobs. Creation is idempotent within
// the reuse window: a queued/running job for the same run is returned instead
// of enqueueing a duplicate.
type RCARunsHandler struct {
	store       storage.Store
	broker      cache.Valkey
	queue       string
	reuseWindow time.Duration
	logger      logger.Logger
}

func NewRCARunsHandler(store storage.Store, broker cache.Valkey, queue string, reuseWindow time.Duration, log logger.Logger) *RCARunsHandler {
	return &RCARunsHandler{
		store:       store,
		broker:      broker,
		queue:       queue,
		reuseWindow: reuseWindow,
		logger:      log,
	}
}

type createRCARunRequest struct {
	RunID string `json:"run_id" binding:"required"`
}

// POST /api/v1/rca-runs
// POST /api/v1/agent-runs/:id/rca-runs
func (h *RCARunsHandler) Create(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		var req createRCARunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "run_id is required"})
			return
		}
		runID = req.RunID
	}
	ctx := c.Request.Context()

	if _, err := h.store.GetAgentRun(ctx, runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "agent run not found"})
			return
		}
		h.logger.Error("load agent run for rca", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load agent run"})
		return
	}

	now := time.Now().UTC()
	if h.reuseWindow > 0 {
		existing, err := h.store.FindActiveRCARun(ctx, runID, now.Add(-h.reuseWindow))
		if err == nil {
			c.JSON(http.StatusOK, existing)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("lookup active rca run", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to look up active analyses"})
			return
		}
	}

	job := &models.RCARun{
		RCARunID:  uuid.NewString(),
		RunID:     runID,
		Status:    models.RCARunQueued,
		Step:      "queued",
		Pct:       0,
		Message:   "Queued for analysis",
		CreatedAt: now,
	}
	if err := h.store.CreateRCARun(ctx, job); err != nil {
		h.logger.Error("create rca run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to create analysis"})
		return
	}

	if err := rca.EnqueueJob(ctx, h.broker, h.queue, job.RCARunID); err != nil {
		h.logger.Error("enqueue rca job", "rca_run_id", job.RCARunID, "error", err)
		if failErr := h.store.FailRCARun(ctx, job.RCARunID, "failed to enqueue analysis job", time.Now().UTC()); failErr != nil {
			h.logger.Error("fail unenqueued rca run", "rca_run_id", job.RCARunID, "error", failErr)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "analysis queue unavailable"})
		return
	}

	h.logger.Info("rca run queued", "rca_run_id", job.RCARunID, "run_id", runID)
	c.JSON(http.StatusAccepted, job)
}

// GET /api/v1/agent-runs/:id/rca-runs
func (h *RCARunsHandler) List(c *gin.Context) {
	runID := c.Param("id")
	jobs, err := h.store.ListRCARuns(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error("list rca runs", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to list rca runs"})
		return
	}
	if jobs == nil {
		jobs = []*models.RCARun{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "rca_runs": jobs})
}

// GET /api/v1/rca-runs/:id
func (h *RCARunsHandler) Get(c *gin.Context) {
	rcaRunID := c.Param("id")
	job, err := h.store.GetRCARun(c.Request.Context(), rcaRunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "rca run not found"})
			return
		}
		h.logger.Error("load rca run", "rca_run_id", rcaRunID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load rca run"})
		return
	}
	c.JSON(http.StatusOK, job)
}
