package rca

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
)

func failedRun() *models.AgentRun {
	return &models.AgentRun{
		RunID:     "run-1",
		AgentName: "support-bot",
		Status:    models.RunStatusFailure,
		ErrorType: "tool_error",
		Steps: []models.AgentStep{
			{StepID: "s1", Name: "plan", Status: models.RunStatusSuccess, Retries: 0, LatencyMs: 120},
			{StepID: "s2", Name: "call_crm", Status: models.RunStatusFailure, Retries: 1, LatencyMs: 900},
		},
		ToolCalls: []models.ToolCall{
			{CallID: "c1", StepID: "s2", ToolName: "crm_update", Status: models.RunStatusFailure,
				ErrorClass: "ValidationError", ErrorMessage: "unexpected field 'customer_uid'", StatusCode: 422, Retries: 1, LatencyMs: 850},
		},
		GuardrailEvents: []models.GuardrailEvent{
			{EventID: "g1", Type: models.GuardrailSchemaValidation, Message: "tool args failed schema check", CallID: "c1"},
		},
	}
}

func TestExtractEvidence_FailedToolAndGuardrail(t *testing.T) {
	run := failedRun()

	evidence, sig, err := ExtractEvidence(run)
	require.NoError(t, err)

	require.Len(t, evidence, 2)
	assert.Equal(t, "ev_tool_c1", evidence[0].EvidenceID)
	assert.Equal(t, models.EvidenceKindToolCall, evidence[0].Kind)
	assert.Equal(t, "Failed tool call: crm_update", evidence[0].Title)
	assert.Equal(t, "422", evidence[0].Attributes["status_code"])

	assert.Equal(t, "ev_guard_g1", evidence[1].EvidenceID)
	assert.Equal(t, models.EvidenceKindGuardrail, evidence[1].Kind)

	assert.True(t, sig.HasToolCalls)
	assert.True(t, sig.HasGuardrails)
	assert.True(t, sig.AnyStepFailed)
	assert.Equal(t, "tool_error", sig.ErrorType)
	assert.Equal(t, 1, sig.MaxStepRetries)
}

func TestExtractEvidence_Deterministic(t *testing.T) {
	run := failedRun()

	first, _, err := ExtractEvidence(run)
	require.NoError(t, err)
	second, _, err := ExtractEvidence(run)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("evidence extraction not deterministic (-first +second):\n%s", diff)
	}
}

func TestExtractEvidence_EmptyRetrieval(t *testing.T) {
	run := &models.AgentRun{
		RunID:  "run-2",
		Status: models.RunStatusFailure,
		ToolCalls: []models.ToolCall{
			{CallID: "c1", ToolName: "kb_search", Status: models.RunStatusSuccess, ResultSummary: ""},
			{CallID: "c2", ToolName: "kb_search", Status: models.RunStatusSuccess, ResultSummary: "3 documents"},
			{CallID: "c3", ToolName: "send_email", Status: models.RunStatusSuccess, ResultSummary: ""},
		},
	}

	evidence, _, err := ExtractEvidence(run)
	require.NoError(t, err)

	require.Len(t, evidence, 1)
	assert.Equal(t, "ev_tool_c1", evidence[0].EvidenceID)
	assert.Equal(t, "true", evidence[0].Attributes["empty_result"])
}

func TestExtractEvidence_LoopingStep(t *testing.T) {
	run := &models.AgentRun{
		RunID:  "run-3",
		Status: models.RunStatusFailure,
		Steps: []models.AgentStep{
			{StepID: "s1", Name: "retry_me", Status: models.RunStatusFailure, Retries: 4},
			{StepID: "s2", Name: "fine", Status: models.RunStatusSuccess, Retries: 2},
		},
		ErrorType: "max_retries",
	}

	evidence, sig, err := ExtractEvidence(run)
	require.NoError(t, err)

	require.Len(t, evidence, 1)
	assert.Equal(t, "ev_step_s1", evidence[0].EvidenceID)
	assert.Equal(t, models.EvidenceKindStep, evidence[0].Kind)
	assert.Equal(t, 4, sig.MaxStepRetries)
}

func TestExtractEvidence_InvalidRun(t *testing.T) {
	run := &models.AgentRun{Status: models.RunStatusFailure}
	_, _, err := ExtractEvidence(run)
	assert.Error(t, err)
}

func TestBuildMetricsSnapshot(t *testing.T) {
	cost := 0.42
	run := &models.AgentRun{
		RunID:  "run-4",
		Status: models.RunStatusFailure,
		Cost:   models.CostSummary{TotalCostUSD: &cost},
		Steps: []models.AgentStep{
			{StepID: "s1", Retries: 1, LatencyMs: 300},
			{StepID: "s2", Retries: 0, LatencyMs: 1200},
		},
		ToolCalls: []models.ToolCall{
			{CallID: "c1", ToolName: "crm_update", Status: models.RunStatusFailure, Retries: 2},
			{CallID: "c2", ToolName: "kb_search", Status: models.RunStatusFailure, Retries: 0},
			{CallID: "c3", ToolName: "crm_update", Status: models.RunStatusFailure, Retries: 1},
		},
	}

	snap := BuildMetricsSnapshot(run)
	assert.Equal(t, "crm_update", snap.TopFailingTool)
	assert.Equal(t, int64(1200), snap.MaxStepLatencyMs)
	assert.Equal(t, 4, snap.TotalRetries)
	require.NotNil(t, snap.TotalCostUSD)
	assert.InDelta(t, 0.42, *snap.TotalCostUSD, 1e-9)
}
