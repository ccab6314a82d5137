package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/storage/memory"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

func TestStreamWS_SnapshotAndTerminalClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	broker := cache.NewNoopValkey(logger.NewNop())
	progress := rca.NewProgressPublisher(broker, time.Hour, logger.NewNop())
	h := NewStreamHandler(store, progress, 15*time.Second, logger.NewNop())

	r := gin.New()
	r.GET("/api/v1/rca-runs/:id/stream/ws", h.StreamWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	ctx := context.Background()
	require.NoError(t, store.CreateRCARun(ctx, &models.RCARun{
		RCARunID: "rca-ws", RunID: "run-1", Status: models.RCARunQueued,
		Step: "queued", Message: "Queued for analysis", CreatedAt: time.Now().UTC(),
	}))
	ok, err := store.ClaimRCARun(ctx, "rca-ws", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/rca-runs/rca-ws/stream/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var snapshot models.ProgressEvent
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, models.RCARunRunning, snapshot.Status)

	time.Sleep(100 * time.Millisecond)
	progress.Publish(ctx, "rca-ws", models.ProgressEvent{
		Status: models.RCARunDone, Step: "completed", Pct: 100, Message: "RCA complete", UpdatedAt: time.Now().UTC(),
	})

	var terminal models.ProgressEvent
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&terminal))
	assert.Equal(t, models.RCARunDone, terminal.Status)

	// The server closes the connection after the terminal event.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure) || err != nil)
}
