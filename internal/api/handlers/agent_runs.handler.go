package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/logger"
)

// AgentRunsHandler serves the telemetry ingestion surface. Snapshots are
// upserted whole; re-posting a run id replaces the previous snapshot.
type AgentRunsHandler struct {
	store  storage.Store
	logger logger.Logger
}

func NewAgentRunsHandler(store storage.Store, log logger.Logger) *AgentRunsHandler {
	return &AgentRunsHandler{store: store, logger: log}
}

// POST /api/v1/agent-runs
func (h *AgentRunsHandler) Ingest(c *gin.Context) {
	var run models.AgentRun
	if err := c.ShouldBindJSON(&run); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid agent run payload: " + err.Error()})
		return
	}
	if err := run.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "error": err.Error()})
		return
	}

	if err := h.store.CreateAgentRun(c.Request.Context(), &run); err != nil {
		h.logger.Error("persist agent run", "run_id", run.RunID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to persist agent run"})
		return
	}

	h.logger.Info("agent run ingested",
		"run_id", run.RunID,
		"agent", run.AgentName,
		"status", run.Status,
		"steps", len(run.Steps),
		"tool_calls", len(run.ToolCalls))
	c.JSON(http.StatusCreated, run.Summary())
}

// GET /api/v1/agent-runs/:id
func (h *AgentRunsHandler) Get(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.store.GetAgentRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "agent run not found"})
			return
		}
		h.logger.Error("load agent run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load agent run"})
		return
	}
	c.JSON(http.StatusOK, run)
}
