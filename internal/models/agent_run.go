package models

import (
	"fmt"
	"time"
)

// Run and step statuses reported by agent telemetry.
const (
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"
)

// Guardrail event types recorded during agent execution.
const (
	GuardrailPIIRedaction     = "pii_redaction"
	GuardrailPolicyBlock      = "policy_block"
	GuardrailSchemaValidation = "schema_validation"
	GuardrailOutputDrift      = "output_drift"
	GuardrailPromptDrift      = "prompt_drift"
	GuardrailOther            = "other"
)

// CostSummary aggregates token and dollar cost for one run.
type CostSummary struct {
	TokensPrompt     int      `json:"tokens_prompt"`
	TokensCompletion int      `json:"tokens_completion"`
	TotalCostUSD     *float64 `json:"total_cost_usd,omitempty"`
}

// AgentStep is one planner step inside a run.
type AgentStep struct {
	StepID        string    `json:"step_id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Retries       int       `json:"retries"`
	LatencyMs     int64     `json:"latency_ms"`
}

// ToolCall is one tool invocation made by the agent.
type ToolCall struct {
	CallID        string                 `json:"call_id"`
	StepID        string                 `json:"step_id"`
	ToolName      string                 `json:"tool_name"`
	Status        string                 `json:"status"`
	ArgsJSON      map[string]interface{} `json:"args_json,omitempty"`
	ResultSummary string                 `json:"result_summary"`
	ErrorClass    string                 `json:"error_class,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	StatusCode    int                    `json:"status_code,omitempty"`
	Retries       int                    `json:"retries"`
	LatencyMs     int64                  `json:"latency_ms"`
}

// GuardrailEvent is a recorded safety/validation check outcome.
type GuardrailEvent struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentRun is the run snapshot produced by ingestion. The RCA core treats it
// as immutable input.
type AgentRun struct {
	RunID           string           `json:"run_id"`
	AgentName       string           `json:"agent_name"`
	AgentVersion    string           `json:"agent_version"`
	Model           string           `json:"model"`
	Environment     string           `json:"environment"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	Status          string           `json:"status"`
	ErrorType       string           `json:"error_type,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	TraceID         string           `json:"trace_id,omitempty"`
	CorrelationIDs  []string         `json:"correlation_ids,omitempty"`
	Steps           []AgentStep      `json:"steps"`
	ToolCalls       []ToolCall       `json:"tool_calls"`
	GuardrailEvents []GuardrailEvent `json:"guardrail_events"`
	Cost            CostSummary      `json:"cost"`
}

// Validate performs the shallow structural checks the RCA core depends on.
// Schema ownership stays with ingestion; this only rejects records the
// pipeline cannot address.
func (r *AgentRun) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("agent run missing run_id")
	}
	if r.Status != RunStatusSuccess && r.Status != RunStatusFailure {
		return fmt.Errorf("agent run %s: invalid status %q", r.RunID, r.Status)
	}
	for i, s := range r.Steps {
		if s.StepID == "" {
			return fmt.Errorf("agent run %s: step[%d] missing step_id", r.RunID, i)
		}
	}
	for i, tc := range r.ToolCalls {
		if tc.CallID == "" {
			return fmt.Errorf("agent run %s: tool_call[%d] missing call_id", r.RunID, i)
		}
	}
	for i, g := range r.GuardrailEvents {
		if g.EventID == "" {
			return fmt.Errorf("agent run %s: guardrail_event[%d] missing event_id", r.RunID, i)
		}
	}
	return nil
}

// AgentRunSummary is the read-side projection returned by the ingestion API.
type AgentRunSummary struct {
	RunID               string    `json:"run_id"`
	AgentName           string    `json:"agent_name"`
	Status              string    `json:"status"`
	StartedAt           time.Time `json:"started_at"`
	EndedAt             time.Time `json:"ended_at"`
	StepCount           int       `json:"step_count"`
	ToolCallCount       int       `json:"tool_call_count"`
	GuardrailEventCount int       `json:"guardrail_event_count"`
}

// Summary projects a run snapshot into its API summary form.
func (r *AgentRun) Summary() AgentRunSummary {
	return AgentRunSummary{
		RunID:               r.RunID,
		AgentName:           r.AgentName,
		Status:              r.Status,
		StartedAt:           r.StartedAt,
		EndedAt:             r.EndedAt,
		StepCount:           len(r.Steps),
		ToolCallCount:       len(r.ToolCalls),
		GuardrailEventCount: len(r.GuardrailEvents),
	}
}
