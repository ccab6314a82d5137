package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/monitoring"
	"github.com/agentops/agentops-core/internal/storage"
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 8 << 10,
	CheckOrigin:     func(*http.Request) bool { return true }, // TODO: tighten origins once the dashboard host is fixed
}

// GET /api/v1/rca-runs/:id/stream/ws (upgrades to WS)
// Same contract as the SSE stream: snapshot first, live events, close on
// terminal.
func (h *StreamHandler) StreamWS(c *gin.Context) {
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

	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{
			"status": "error",
			"error":  "WebSocket upgrade required",
			"detail": "Connect with a WebSocket client, or use the SSE stream endpoint instead.",
		})
		return
	}

	sub, err := h.progress.Subscribe(ctx, rcaRunID)
	if err != nil {
		h.logger.Error("subscribe progress channel", "rca_run_id", rcaRunID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "streaming unavailable"})
		return
	}
	defer sub.Close()

	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "rca_run_id", rcaRunID, "error", err)
		return
	}
	defer conn.Close()

	monitoring.ActiveProgressStreams.WithLabelValues("websocket").Inc()
	defer monitoring.ActiveProgressStreams.WithLabelValues("websocket").Dec()

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvent := func(event models.ProgressEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return false
		}
		return true
	}

	snap := h.snapshot(c, job)
	if !writeEvent(snap) || snap.Status.Terminal() {
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
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
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis finished"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
