package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/internal/storage/memory"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

type streamFixture struct {
	server   *httptest.Server
	store    storage.Store
	progress *rca.ProgressPublisher
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	broker := cache.NewNoopValkey(logger.NewNop())
	progress := rca.NewProgressPublisher(broker, time.Hour, logger.NewNop())
	h := NewStreamHandler(store, progress, 15*time.Second, logger.NewNop())

	r := gin.New()
	r.GET("/api/v1/rca-runs/:id/stream", h.StreamSSE)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &streamFixture{server: server, store: store, progress: progress}
}

func (f *streamFixture) seedJob(t *testing.T, rcaRunID string, status models.RCARunStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateRCARun(ctx, &models.RCARun{
		RCARunID:  rcaRunID,
		RunID:     "run-1",
		Status:    models.RCARunQueued,
		Step:      "queued",
		Message:   "Queued for analysis",
		CreatedAt: time.Now().UTC(),
	}))
	if status == models.RCARunQueued {
		return
	}
	ok, err := f.store.ClaimRCARun(ctx, rcaRunID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)
	if status == models.RCARunError {
		require.NoError(t, f.store.FailRCARun(ctx, rcaRunID, "exploded", time.Now().UTC()))
	}
}

// readSSEEvents reads data lines until the stream closes or maxEvents arrive.
func readSSEEvents(t *testing.T, body *bufio.Reader, maxEvents int) []models.ProgressEvent {
	t.Helper()
	var events []models.ProgressEvent
	for len(events) < maxEvents {
		line, err := body.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamSSE_NotFound(t *testing.T) {
	f := newStreamFixture(t)
	resp, err := http.Get(f.server.URL + "/api/v1/rca-runs/missing/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamSSE_TerminalJobSnapshotThenClose(t *testing.T) {
	f := newStreamFixture(t)
	f.seedJob(t, "rca-done", models.RCARunError)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/rca-runs/rca-done/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSEEvents(t, bufio.NewReader(resp.Body), 10)
	require.Len(t, events, 1)
	assert.Equal(t, models.RCARunError, events[0].Status)
	assert.Equal(t, "exploded", events[0].Message)
}

func TestStreamSSE_SnapshotThenLiveEventsUntilTerminal(t *testing.T) {
	f := newStreamFixture(t)
	f.seedJob(t, "rca-live", models.RCARunRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/rca-runs/rca-live/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)

	// Snapshot arrives first.
	snapshot := readSSEEvents(t, reader, 1)
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.RCARunRunning, snapshot[0].Status)

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(100 * time.Millisecond)
	f.progress.Publish(ctx, "rca-live", models.ProgressEvent{
		Status: models.RCARunRunning, Step: "classifying", Pct: 55, Message: "Classifying failure", UpdatedAt: time.Now().UTC(),
	})
	f.progress.Publish(ctx, "rca-live", models.ProgressEvent{
		Status: models.RCARunDone, Step: "completed", Pct: 100, Message: "RCA complete", UpdatedAt: time.Now().UTC(),
	})

	// Two live events, then the server closes the stream.
	live := readSSEEvents(t, reader, 10)
	require.Len(t, live, 2)
	assert.Equal(t, 55, live[0].Pct)
	assert.Equal(t, models.RCARunDone, live[1].Status)
	assert.Equal(t, 100, live[1].Pct)
}

func TestStreamSSE_KeepAliveComment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	broker := cache.NewNoopValkey(logger.NewNop())
	progress := rca.NewProgressPublisher(broker, time.Hour, logger.NewNop())
	// Short keep-alive so the test observes one quickly.
	h := NewStreamHandler(store, progress, 50*time.Millisecond, logger.NewNop())

	r := gin.New()
	r.GET("/api/v1/rca-runs/:id/stream", h.StreamSSE)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	require.NoError(t, store.CreateRCARun(context.Background(), &models.RCARun{
		RCARunID: "rca-idle", RunID: "run-1", Status: models.RCARunQueued, CreatedAt: time.Now().UTC(),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/rca-runs/rca-idle/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	sawKeepAlive := false
	for i := 0; i < 20 && !sawKeepAlive; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, ": keep-alive") {
			sawKeepAlive = true
		}
	}
	assert.True(t, sawKeepAlive, "expected a keep-alive comment on an idle stream")
}
