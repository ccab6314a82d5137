package rca

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/agentops/agentops-core/internal/models"
)

// plannerLoopRetryThreshold is the retry count at which a step or tool call
// counts as looping.
const plannerLoopRetryThreshold = 3

const snippetMaxLen = 200

// retrievalToolPattern identifies retrieval-type tools by name.
var retrievalToolPattern = regexp.MustCompile(`(?i)retriev|search|lookup|query`)

// Signals carries the run-level aggregates that feed classification alongside
// the evidence index. Steps are not turned into evidence wholesale; their
// retries and statuses surface here.
type Signals struct {
	HasToolCalls   bool
	HasGuardrails  bool
	ErrorType      string
	ErrorMessage   string
	MaxStepRetries int
	MaxToolRetries int
	AnyStepFailed  bool
}

// Attribute keys attached to evidence records.
const (
	attrErrorClass  = "error_class"
	attrStatusCode  = "status_code"
	attrRetries     = "retries"
	attrLatencyMs   = "latency_ms"
	attrType        = "type"
	attrStepID      = "step_id"
	attrCallID      = "call_id"
	attrEmptyResult = "empty_result"
)

func truncate(s string) string {
	if len(s) > snippetMaxLen {
		return s[:snippetMaxLen]
	}
	return s
}

// ExtractEvidence normalizes one run snapshot into the ordered evidence index
// plus classification signals. Evidence ids are derived from the source kind
// and record id, so re-extraction of the same snapshot is byte-identical.
func ExtractEvidence(run *models.AgentRun) ([]models.Evidence, Signals, error) {
	if err := run.Validate(); err != nil {
		return nil, Signals{}, fmt.Errorf("extract evidence: %w", err)
	}

	sig := Signals{
		HasToolCalls:  len(run.ToolCalls) > 0,
		HasGuardrails: len(run.GuardrailEvents) > 0,
		ErrorType:     run.ErrorType,
		ErrorMessage:  run.ErrorMessage,
	}

	evidence := make([]models.Evidence, 0, len(run.ToolCalls)+len(run.GuardrailEvents))

	for _, tc := range run.ToolCalls {
		if tc.Retries > sig.MaxToolRetries {
			sig.MaxToolRetries = tc.Retries
		}
		switch {
		case tc.Status == models.RunStatusFailure:
			evidence = append(evidence, models.Evidence{
				EvidenceID: "ev_tool_" + tc.CallID,
				Kind:       models.EvidenceKindToolCall,
				RefID:      tc.CallID,
				Title:      fmt.Sprintf("Failed tool call: %s", tc.ToolName),
				Snippet:    truncate(tc.ErrorMessage),
				Attributes: map[string]string{
					attrErrorClass: tc.ErrorClass,
					attrStatusCode: strconv.Itoa(tc.StatusCode),
					attrRetries:    strconv.Itoa(tc.Retries),
					attrLatencyMs:  strconv.FormatInt(tc.LatencyMs, 10),
				},
			})
		case retrievalToolPattern.MatchString(tc.ToolName) && tc.ResultSummary == "":
			// A retrieval that "succeeded" with nothing to show is itself a
			// finding worth citing.
			evidence = append(evidence, models.Evidence{
				EvidenceID: "ev_tool_" + tc.CallID,
				Kind:       models.EvidenceKindToolCall,
				RefID:      tc.CallID,
				Title:      fmt.Sprintf("Empty retrieval result: %s", tc.ToolName),
				Snippet:    truncate(fmt.Sprintf("Tool %s completed without error but returned no results", tc.ToolName)),
				Attributes: map[string]string{
					attrEmptyResult: "true",
					attrRetries:     strconv.Itoa(tc.Retries),
					attrLatencyMs:   strconv.FormatInt(tc.LatencyMs, 10),
				},
			})
		}
	}

	for _, g := range run.GuardrailEvents {
		attrs := map[string]string{attrType: g.Type}
		if g.StepID != "" {
			attrs[attrStepID] = g.StepID
		}
		if g.CallID != "" {
			attrs[attrCallID] = g.CallID
		}
		evidence = append(evidence, models.Evidence{
			EvidenceID: "ev_guard_" + g.EventID,
			Kind:       models.EvidenceKindGuardrail,
			RefID:      g.EventID,
			Title:      fmt.Sprintf("Guardrail: %s", g.Type),
			Snippet:    truncate(g.Message),
			Attributes: attrs,
		})
	}

	for _, step := range run.Steps {
		if step.Retries > sig.MaxStepRetries {
			sig.MaxStepRetries = step.Retries
		}
		if step.Status == models.RunStatusFailure {
			sig.AnyStepFailed = true
		}
		// Steps feed signals, not the index, except when they trip the
		// planner-loop threshold: a loop hypothesis must have something to
		// cite.
		if step.Retries >= plannerLoopRetryThreshold {
			evidence = append(evidence, models.Evidence{
				EvidenceID: "ev_step_" + step.StepID,
				Kind:       models.EvidenceKindStep,
				RefID:      step.StepID,
				Title:      fmt.Sprintf("Excessive retries in step: %s", step.Name),
				Snippet:    truncate(step.OutputSummary),
				Attributes: map[string]string{
					attrRetries:   strconv.Itoa(step.Retries),
					attrLatencyMs: strconv.FormatInt(step.LatencyMs, 10),
				},
			})
		}
	}

	return evidence, sig, nil
}

// BuildMetricsSnapshot aggregates run-level metrics for the report.
func BuildMetricsSnapshot(run *models.AgentRun) models.MetricsSnapshot {
	snap := models.MetricsSnapshot{TotalCostUSD: run.Cost.TotalCostUSD}

	failures := map[string]int{}
	for _, tc := range run.ToolCalls {
		snap.TotalRetries += tc.Retries
		if tc.Status == models.RunStatusFailure {
			failures[tc.ToolName]++
		}
	}
	top, topCount := "", 0
	for _, tc := range run.ToolCalls {
		// Iterate in call order so ties resolve deterministically to the
		// first failing tool.
		if n := failures[tc.ToolName]; n > topCount {
			top, topCount = tc.ToolName, n
		}
	}
	snap.TopFailingTool = top

	for _, s := range run.Steps {
		snap.TotalRetries += s.Retries
		if s.LatencyMs > snap.MaxStepLatencyMs {
			snap.MaxStepLatencyMs = s.LatencyMs
		}
	}
	return snap
}
