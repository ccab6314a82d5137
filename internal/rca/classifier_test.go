package rca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
)

func toolEvidence(id, snippet string, attrs map[string]string) models.Evidence {
	return models.Evidence{EvidenceID: id, Kind: models.EvidenceKindToolCall, Snippet: snippet, Attributes: attrs}
}

func guardEvidence(id, guardType string) models.Evidence {
	return models.Evidence{EvidenceID: id, Kind: models.EvidenceKindGuardrail, Attributes: map[string]string{"type": guardType}}
}

func TestClassify_InsufficientEvidenceGate(t *testing.T) {
	verdict := Classify(nil, Signals{})

	assert.True(t, verdict.Insufficient)
	assert.Equal(t, models.CategoryUnknown, verdict.Category)
	assert.Equal(t, InsufficientEvidenceReason, verdict.InsufficientReason)
	assert.Empty(t, verdict.MatchedEvidenceIDs)
}

func TestClassify_ErrorTypeAloneIsSufficient(t *testing.T) {
	verdict := Classify(nil, Signals{ErrorType: "something_odd"})

	assert.False(t, verdict.Insufficient)
	assert.Equal(t, models.CategoryUnknown, verdict.Category)
}

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name     string
		evidence []models.Evidence
		sig      Signals
		want     models.Category
		wantIDs  []string
	}{
		{
			name:     "schema mismatch via error class",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "unexpected field 'x'", map[string]string{"error_class": "ValidationError"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryToolSchemaMismatch,
			wantIDs:  []string{"ev_tool_1"},
		},
		{
			name:     "schema mismatch via guardrail",
			evidence: []models.Evidence{guardEvidence("ev_guard_1", models.GuardrailSchemaValidation)},
			sig:      Signals{HasGuardrails: true},
			want:     models.CategoryToolSchemaMismatch,
			wantIDs:  []string{"ev_guard_1"},
		},
		{
			name:     "rate limited via 429",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "upstream said no", map[string]string{"status_code": "429"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryRateLimited,
			wantIDs:  []string{"ev_tool_1"},
		},
		{
			name:     "permission via 403",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "denied", map[string]string{"status_code": "403"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryToolPermission,
			wantIDs:  []string{"ev_tool_1"},
		},
		{
			name:     "timeout via snippet",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "context deadline exceeded", map[string]string{"status_code": "0"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryTimeout,
			wantIDs:  []string{"ev_tool_1"},
		},
		{
			name: "timeout via run error type only",
			sig:  Signals{ErrorType: "request_timeout"},
			want: models.CategoryTimeout,
		},
		{
			name: "planner loop via step retries",
			evidence: []models.Evidence{
				{EvidenceID: "ev_step_1", Kind: models.EvidenceKindStep, Attributes: map[string]string{"retries": "4"}},
			},
			sig:     Signals{ErrorType: "max_retries", MaxStepRetries: 4},
			want:    models.CategoryPlannerLoop,
			wantIDs: []string{"ev_step_1"},
		},
		{
			name:     "retrieval empty",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "no results", map[string]string{"empty_result": "true"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryRetrievalEmpty,
			wantIDs:  []string{"ev_tool_1"},
		},
		{
			name:     "prompt regression via drift guardrail",
			evidence: []models.Evidence{guardEvidence("ev_guard_1", models.GuardrailOutputDrift)},
			sig:      Signals{HasGuardrails: true},
			want:     models.CategoryPromptRegression,
			wantIDs:  []string{"ev_guard_1"},
		},
		{
			name: "prompt regression via error type",
			sig:  Signals{ErrorType: "prompt_regression"},
			want: models.CategoryPromptRegression,
		},
		{
			name:     "unknown when nothing matches",
			evidence: []models.Evidence{toolEvidence("ev_tool_1", "it broke", map[string]string{"error_class": "RuntimeError"})},
			sig:      Signals{HasToolCalls: true},
			want:     models.CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := Classify(tt.evidence, tt.sig)
			require.False(t, verdict.Insufficient)
			assert.Equal(t, tt.want, verdict.Category)
			assert.Equal(t, tt.wantIDs, verdict.MatchedEvidenceIDs)
		})
	}
}

func TestClassify_PrecedenceFirstMatchWins(t *testing.T) {
	// Carries both a 429 and a schema validation failure; schema mismatch
	// sits earlier in the chain and must win.
	evidence := []models.Evidence{
		toolEvidence("ev_tool_1", "unexpected field 'x'", map[string]string{"error_class": "ValidationError"}),
		toolEvidence("ev_tool_2", "slow down", map[string]string{"status_code": "429"}),
	}
	verdict := Classify(evidence, Signals{HasToolCalls: true})

	assert.Equal(t, models.CategoryToolSchemaMismatch, verdict.Category)
	assert.Equal(t, []string{"ev_tool_1"}, verdict.MatchedEvidenceIDs)
}

func TestClassify_Pure(t *testing.T) {
	evidence := []models.Evidence{toolEvidence("ev_tool_1", "denied", map[string]string{"status_code": "401"})}
	sig := Signals{HasToolCalls: true}

	first := Classify(evidence, sig)
	second := Classify(evidence, sig)
	assert.Equal(t, first, second)
}
