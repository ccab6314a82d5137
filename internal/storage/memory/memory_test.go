package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/storage"
)

func newQueuedRun(t *testing.T, s storage.Store, rcaRunID, runID string) *models.RCARun {
	t.Helper()
	r := &models.RCARun{
		RCARunID:  rcaRunID,
		RunID:     runID,
		Status:    models.RCARunQueued,
		Message:   "RCA job queued",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRCARun(context.Background(), r))
	return r
}

func TestClaim_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newQueuedRun(t, s, "rca-1", "run-1")

	ok, err := s.ClaimRCARun(ctx, "rca-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim must lose.
	ok, err = s.ClaimRCARun(ctx, "rca-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRCARun(ctx, "rca-1")
	require.NoError(t, err)
	assert.Equal(t, models.RCARunRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestComplete_OnlyFromRunning(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newQueuedRun(t, s, "rca-1", "run-1")

	report := &models.RCAReport{ReportID: "rep-1", RCARunID: "rca-1", RunID: "run-1", Category: models.CategoryRateLimited}

	// Completing a queued job is invalid.
	err := s.CompleteRCARun(ctx, "rca-1", report, time.Now())
	assert.Error(t, err)

	ok, err := s.ClaimRCARun(ctx, "rca-1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.CompleteRCARun(ctx, "rca-1", report, time.Now()))

	got, err := s.GetRCARun(ctx, "rca-1")
	require.NoError(t, err)
	assert.Equal(t, models.RCARunDone, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, "rep-1", got.Report.ReportID)
	assert.Equal(t, 100, got.Pct)
	require.NotNil(t, got.EndedAt)

	// Terminal records are immutable.
	assert.Error(t, s.CompleteRCARun(ctx, "rca-1", report, time.Now()))
	assert.Error(t, s.FailRCARun(ctx, "rca-1", "late failure", time.Now()))
}

func TestFail_FromQueuedOrRunning(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newQueuedRun(t, s, "rca-1", "run-1")

	require.NoError(t, s.FailRCARun(ctx, "rca-1", "snapshot missing", time.Now()))
	got, err := s.GetRCARun(ctx, "rca-1")
	require.NoError(t, err)
	assert.Equal(t, models.RCARunError, got.Status)
	assert.Equal(t, "snapshot missing", got.ErrorMessage)
	assert.Nil(t, got.Report)
}

func TestProgress_IgnoredWhenNotRunning(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newQueuedRun(t, s, "rca-1", "run-1")

	require.NoError(t, s.UpdateRCARunProgress(ctx, "rca-1", "collecting_evidence", 30, "Collecting evidence"))
	got, err := s.GetRCARun(ctx, "rca-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Pct) // still queued, update was a no-op

	ok, err := s.ClaimRCARun(ctx, "rca-1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.UpdateRCARunProgress(ctx, "rca-1", "collecting_evidence", 30, "Collecting evidence"))
	got, err = s.GetRCARun(ctx, "rca-1")
	require.NoError(t, err)
	assert.Equal(t, 30, got.Pct)
}

func TestFindActiveRCARun(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.FindActiveRCARun(ctx, "run-1", time.Now().Add(-time.Hour))
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	newQueuedRun(t, s, "rca-old", "run-1")
	time.Sleep(2 * time.Millisecond)
	newQueuedRun(t, s, "rca-new", "run-1")

	got, err := s.FindActiveRCARun(ctx, "run-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "rca-new", got.RCARunID)

	// Cutoff in the future excludes both.
	_, err = s.FindActiveRCARun(ctx, "run-1", time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListRCARuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	got, err := s.ListRCARuns(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	newQueuedRun(t, s, "rca-old", "run-1")
	time.Sleep(2 * time.Millisecond)
	newQueuedRun(t, s, "rca-new", "run-1")
	newQueuedRun(t, s, "rca-other", "run-2")

	got, err = s.ListRCARuns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rca-new", got[0].RCARunID)
	assert.Equal(t, "rca-old", got[1].RCARunID)
}

func TestClone_Isolation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	run := &models.AgentRun{RunID: "run-1", Status: models.RunStatusFailure}
	require.NoError(t, s.CreateAgentRun(ctx, run))

	got, err := s.GetAgentRun(ctx, "run-1")
	require.NoError(t, err)
	got.Status = models.RunStatusSuccess

	again, err := s.GetAgentRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailure, again.Status)
}
