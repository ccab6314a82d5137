package models

import (
	"fmt"
	"time"
)

// Category is the closed set of failure categories the classifier can emit.
type Category string

const (
	CategoryToolSchemaMismatch Category = "tool_schema_mismatch"
	CategoryRateLimited        Category = "rate_limited"
	CategoryToolPermission     Category = "tool_permission"
	CategoryTimeout            Category = "timeout"
	CategoryPlannerLoop        Category = "planner_loop"
	CategoryRetrievalEmpty     Category = "retrieval_empty"
	CategoryPromptRegression   Category = "prompt_regression"
	CategoryUnknown            Category = "unknown"
)

// EvidenceKind tags the telemetry source of an Evidence record.
type EvidenceKind string

const (
	EvidenceKindToolCall  EvidenceKind = "tool_call"
	EvidenceKindGuardrail EvidenceKind = "guardrail"
	EvidenceKindStep      EvidenceKind = "step"
)

// Evidence is a normalized, cited fragment of telemetry. Immutable once built.
// EvidenceID is derived deterministically from the source kind and record id,
// so re-extracting the same snapshot yields identical ids.
type Evidence struct {
	EvidenceID string            `json:"evidence_id"`
	Kind       EvidenceKind      `json:"kind"`
	RefID      string            `json:"ref_id"`
	Title      string            `json:"title"`
	Snippet    string            `json:"snippet"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Confidence levels for hypotheses.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Hypothesis is a causal explanation backed by cited evidence. EvidenceIDs is
// never empty and every id must exist in the owning report's evidence index.
type Hypothesis struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	EvidenceIDs       []string `json:"evidence_ids"`
	Confidence        string   `json:"confidence"`
	VerificationSteps []string `json:"verification_steps"`
}

// ActionItem types and priorities.
const (
	ActionTypeCodeChange   = "code_change"
	ActionTypeMonitoring   = "monitoring"
	ActionTypeProcess      = "process"
	ActionTypeChangeConfig = "change_config"
	ActionTypeRunbook      = "runbook"
	ActionTypeTest         = "test"
	ActionTypeRollback     = "rollback"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ActionItem is a recommended follow-up emitted alongside hypotheses.
type ActionItem struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// MetricsSnapshot captures run-level aggregates for the report.
type MetricsSnapshot struct {
	TopFailingTool   string   `json:"top_failing_tool,omitempty"`
	MaxStepLatencyMs int64    `json:"max_step_latency_ms"`
	TotalRetries     int      `json:"total_retries"`
	TotalCostUSD     *float64 `json:"total_cost_usd,omitempty"`
}

// TicketFields is a rendered summary/description pair for external ticketing
// connectors. The core only renders it; delivery is out of scope.
type TicketFields struct {
	Summary       string `json:"summary"`
	DescriptionMD string `json:"description_md"`
}

// RCAReport is the immutable analysis result for one RCA run.
type RCAReport struct {
	ReportID             string          `json:"report_id"`
	RCARunID             string          `json:"rca_run_id"`
	RunID                string          `json:"run_id"`
	GeneratedAt          time.Time       `json:"generated_at"`
	Category             Category        `json:"category"`
	InsufficientEvidence bool            `json:"insufficient_evidence"`
	InsufficientReason   string          `json:"insufficient_reason,omitempty"`
	EvidenceIndex        []Evidence      `json:"evidence_index"`
	Hypotheses           []Hypothesis    `json:"hypotheses"`
	ActionItems          []ActionItem    `json:"action_items"`
	MetricsSnapshot      MetricsSnapshot `json:"metrics_snapshot"`
	TicketFields         *TicketFields   `json:"ticket_fields,omitempty"`
}

// ValidateIntegrity enforces the report invariants: every hypothesis cites at
// least one evidence id present in the evidence index, and the insufficient
// branch carries no hypotheses and category unknown.
func (r *RCAReport) ValidateIntegrity() error {
	if r.InsufficientEvidence {
		if r.Category != CategoryUnknown {
			return fmt.Errorf("report %s: insufficient evidence but category %q", r.ReportID, r.Category)
		}
		if len(r.Hypotheses) != 0 {
			return fmt.Errorf("report %s: insufficient evidence but %d hypotheses", r.ReportID, len(r.Hypotheses))
		}
		return nil
	}
	index := make(map[string]struct{}, len(r.EvidenceIndex))
	for _, ev := range r.EvidenceIndex {
		index[ev.EvidenceID] = struct{}{}
	}
	for _, h := range r.Hypotheses {
		if len(h.EvidenceIDs) == 0 {
			return fmt.Errorf("report %s: hypothesis %q cites no evidence", r.ReportID, h.Title)
		}
		for _, id := range h.EvidenceIDs {
			if _, ok := index[id]; !ok {
				return fmt.Errorf("report %s: hypothesis %q cites unknown evidence %s", r.ReportID, h.Title, id)
			}
		}
	}
	return nil
}

// RCARunStatus is the job state machine: queued -> running -> done | error.
type RCARunStatus string

const (
	RCARunQueued  RCARunStatus = "queued"
	RCARunRunning RCARunStatus = "running"
	RCARunDone    RCARunStatus = "done"
	RCARunError   RCARunStatus = "error"
)

// Terminal reports whether the status is an end state.
func (s RCARunStatus) Terminal() bool {
	return s == RCARunDone || s == RCARunError
}

// RCARun is the durable job record. It is mutated only by the orchestrator
// while running; all other components see read-only copies.
type RCARun struct {
	RCARunID     string       `json:"rca_run_id"`
	RunID        string       `json:"run_id"`
	Status       RCARunStatus `json:"status"`
	Step         string       `json:"step"`
	Pct          int          `json:"pct"`
	Message      string       `json:"message"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Report       *RCAReport   `json:"report,omitempty"`
}

// ProgressEvent is one staged progress tuple broadcast on the job channel.
type ProgressEvent struct {
	Status    RCARunStatus `json:"status"`
	Step      string       `json:"step"`
	Pct       int          `json:"pct"`
	Message   string       `json:"message"`
	UpdatedAt time.Time    `json:"updated_at"`
}
