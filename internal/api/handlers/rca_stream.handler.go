package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/monitoring"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

// StreamHandler is the progress streaming gateway: SSE (and a WebSocket
// variant) over the per-job progress channel. Subscribers always receive a
// snapshot first, then live events until the job reaches a terminal status.
type StreamHandler struct {
	store     storage.Store
	progress  *rca.ProgressPublisher
	keepAlive time.Duration
	logger    logger.Logger
}

func NewStreamHandler(store storage.Store, progress *rca.ProgressPublisher, keepAlive time.Duration, log logger.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &StreamHandler{store: store, progress: progress, keepAlive: keepAlive, logger: log}
}

// snapshot builds the initial event for a subscriber. The cache carries the
// freshest staged event; the durable record is the fallback and the authority
// on terminal states.
func (h *StreamHandler) snapshot(c *gin.Context, job *models.RCARun) models.ProgressEvent {
	if !job.Status.Terminal() {
		if latest, err := h.progress.Latest(c.Request.Context(), job.RCARunID); err == nil {
			return *latest
		} else if !errors.Is(err, cache.ErrKeyNotFound) {
			h.logger.Warn("load progress snapshot", "rca_run_id", job.RCARunID, "error", err)
		}
	}
	updatedAt := job.CreatedAt
	if job.EndedAt != nil {
		updatedAt = *job.EndedAt
	}
	message := job.Message
	if job.Status == models.RCARunError && job.ErrorMessage != "" {
		message = job.ErrorMessage
	}
	return models.ProgressEvent{
		Status:    job.Status,
		Step:      job.Step,
		Pct:       job.Pct,
		Message:   message,
		UpdatedAt: updatedAt,
	}
}

// GET /api/v1/rca-runs/:id/stream (SSE)
func (h *StreamHandler) StreamSSE(c *gin.Context) {
	rcaRunID := c.Param("id")
	ctx := c.Request.Context()

	job, err := h.store.GetRCARun(ctx, rcaRunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "rca run not found"})
			return
		}
		h.logger.Error("load rca run for stream", "rca_run_id", rcaRunID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load rca run"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	monitoring.ActiveProgressStreams.WithLabelValues("sse").Inc()
	defer monitoring.ActiveProgressStreams.WithLabelValues("sse").Dec()

	writeEvent := func(event models.ProgressEvent) bool {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("marshal progress event", "rca_run_id", rcaRunID, "error", err)
			return false
		}
		fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", payload)
		flusher.Flush()
		return true
	}

	// Subscribe before reading the snapshot so no event falls in the gap; the
	// terminal check below handles jobs that finish before we get here.
	sub, err := h.progress.Subscribe(ctx, rcaRunID)
	if err != nil {
		h.logger.Error("subscribe progress channel", "rca_run_id", rcaRunID, "error", err)
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"error\":\"streaming unavailable\"}\n\n")
		flusher.Flush()
		return
	}
	defer sub.Close()

	snap := h.snapshot(c, job)
	if !writeEvent(snap) {
		return
	}
	if snap.Status.Terminal() {
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		case payload, open := <-sub.Events():
			if !open {
				return
			}
			var event models.ProgressEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				h.logger.Warn("drop malformed progress event", "rca_run_id", rcaRunID, "error", err)
				continue
			}
			if !writeEvent(event) {
				return
			}
			if event.Status.Terminal() {
				return
			}
		}
	}
}
