package rca

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/pkg/logger"
)

func TestMaterialize_HypothesisCitesMatchedEvidence(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	evidence := []models.Evidence{
		{EvidenceID: "ev_tool_1", Kind: models.EvidenceKindToolCall, Snippet: "429 Too Many Requests"},
		{EvidenceID: "ev_tool_2", Kind: models.EvidenceKindToolCall, Snippet: "429 again"},
	}
	verdict := Verdict{Category: models.CategoryRateLimited, MatchedEvidenceIDs: []string{"ev_tool_1", "ev_tool_2"}}

	hypotheses, actions := lib.Materialize(verdict, evidence)

	require.Len(t, hypotheses, 1)
	h := hypotheses[0]
	assert.Equal(t, []string{"ev_tool_1", "ev_tool_2"}, h.EvidenceIDs)
	assert.Equal(t, models.ConfidenceHigh, h.Confidence)
	assert.Contains(t, h.Description, "429 Too Many Requests")
	assert.NotEmpty(t, h.VerificationSteps)
	assert.NotEmpty(t, actions)
}

func TestMaterialize_SingleEvidenceDowngradesConfidence(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	evidence := []models.Evidence{{EvidenceID: "ev_tool_1", Kind: models.EvidenceKindToolCall, Snippet: "denied"}}
	verdict := Verdict{Category: models.CategoryToolPermission, MatchedEvidenceIDs: []string{"ev_tool_1"}}

	hypotheses, _ := lib.Materialize(verdict, evidence)

	require.Len(t, hypotheses, 1)
	assert.Equal(t, models.ConfidenceMedium, hypotheses[0].Confidence)
}

func TestMaterialize_NoEvidenceNoHypotheses(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	verdict := Verdict{Category: models.CategoryTimeout}

	hypotheses, actions := lib.Materialize(verdict, nil)

	assert.Empty(t, hypotheses)
	assert.NotEmpty(t, actions)
}

func TestMaterialize_InsufficientBranch(t *testing.T) {
	lib := NewLibrary(logger.NewNop())
	verdict := Verdict{Category: models.CategoryUnknown, Insufficient: true, InsufficientReason: InsufficientEvidenceReason}

	hypotheses, actions := lib.Materialize(verdict, nil)

	assert.Empty(t, hypotheses)
	require.Len(t, actions, 2)
	assert.Equal(t, "Enable detailed tracing", actions[0].Title)
	assert.Equal(t, "Add structured error codes", actions[1].Title)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	content := `strategies:
  rate_limited:
    hypothesis_title: "Custom rate limit hypothesis"
    hypothesis_description: "Customer-specific quota exhausted."
    confidence: medium
    verification_steps:
      - "Check the partner quota dashboard"
    action_items:
      - type: change_config
        title: "Raise the partner quota"
        description: "File a quota increase."
        priority: high
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lib := NewLibrary(logger.NewNop())
	require.NoError(t, lib.LoadOverrides(path))

	verdict := Verdict{Category: models.CategoryRateLimited, MatchedEvidenceIDs: []string{"ev_tool_1"}}
	evidence := []models.Evidence{{EvidenceID: "ev_tool_1", Kind: models.EvidenceKindToolCall}}
	hypotheses, actions := lib.Materialize(verdict, evidence)

	require.Len(t, hypotheses, 1)
	assert.Equal(t, "Custom rate limit hypothesis", hypotheses[0].Title)
	require.Len(t, actions, 1)
	assert.Equal(t, "Raise the partner quota", actions[0].Title)

	// Untouched categories keep their built-ins.
	other, _ := lib.Materialize(Verdict{Category: models.CategoryTimeout, MatchedEvidenceIDs: []string{"ev_tool_1"}}, evidence)
	require.Len(t, other, 1)
	assert.Equal(t, "A dependency exceeded its time budget", other[0].Title)
}

func TestLoadOverrides_RejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown category", "strategies:\n  nonsense:\n    hypothesis_title: x\n    hypothesis_description: y\n    confidence: low\n"},
		{"missing hypothesis", "strategies:\n  timeout:\n    confidence: low\n"},
		{"bad confidence", "strategies:\n  timeout:\n    hypothesis_title: x\n    hypothesis_description: y\n    confidence: certain\n"},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "strategies.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			lib := NewLibrary(logger.NewNop())
			assert.Error(t, lib.LoadOverrides(path))

			// A rejected file must not partially apply.
			hypotheses, _ := lib.Materialize(
				Verdict{Category: models.CategoryTimeout, MatchedEvidenceIDs: []string{"ev_1"}},
				[]models.Evidence{{EvidenceID: "ev_1"}},
			)
			require.Len(t, hypotheses, 1)
			assert.Equal(t, "A dependency exceeded its time budget", hypotheses[0].Title)
		})
	}
}
