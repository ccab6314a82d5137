package rca

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/pkg/logger"
)

// CategoryStrategy is the deterministic template for one failure category:
// the hypothesis to emit when evidence supports it, plus the recommended
// follow-ups.
type CategoryStrategy struct {
	HypothesisTitle       string              `yaml:"hypothesis_title"`
	HypothesisDescription string              `yaml:"hypothesis_description"`
	Confidence            string              `yaml:"confidence"`
	VerificationSteps     []string            `yaml:"verification_steps"`
	ActionItems           []models.ActionItem `yaml:"action_items"`
}

// Library holds the category strategy templates. Built-ins can be replaced at
// runtime from a YAML overrides file, so lookups take the read lock.
type Library struct {
	mu         sync.RWMutex
	strategies map[models.Category]CategoryStrategy
	logger     logger.Logger
}

// NewLibrary returns a library seeded with the built-in templates.
func NewLibrary(log logger.Logger) *Library {
	return &Library{
		strategies: builtinStrategies(),
		logger:     log,
	}
}

func builtinStrategies() map[models.Category]CategoryStrategy {
	return map[models.Category]CategoryStrategy{
		models.CategoryToolSchemaMismatch: {
			HypothesisTitle:       "Tool input no longer matches the tool's expected schema",
			HypothesisDescription: "One or more tool calls failed schema or argument validation, which usually means the tool contract changed or the agent's argument construction regressed.",
			Confidence:            models.ConfidenceHigh,
			VerificationSteps: []string{
				"Diff the failing tool's current schema against the version the agent was built against",
				"Replay the failing call with the recorded arguments against a staging instance of the tool",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeCodeChange, Title: "Update tool argument construction to the current schema", Description: "Align the agent's argument builder with the tool's published schema and add a contract test.", Priority: models.PriorityHigh},
				{Type: models.ActionTypeTest, Title: "Add schema contract tests for the failing tool", Description: "Pin the tool schema in CI so contract drift fails before deploy.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryRateLimited: {
			HypothesisTitle:       "Downstream tool throttled the agent",
			HypothesisDescription: "Tool calls were rejected with rate-limit responses, indicating the agent exceeded the provider's quota or burst allowance.",
			Confidence:            models.ConfidenceHigh,
			VerificationSteps: []string{
				"Check the provider dashboard for quota consumption around the run window",
				"Count calls per minute in the run and compare against the documented limit",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeCodeChange, Title: "Add client-side rate limiting with backoff", Description: "Throttle outbound tool calls below the provider limit and retry 429s with jittered backoff.", Priority: models.PriorityHigh},
				{Type: models.ActionTypeChangeConfig, Title: "Request a quota increase or dedicated key", Description: "If legitimate traffic exceeds the current quota, raise it rather than retrying harder.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryToolPermission: {
			HypothesisTitle:       "Agent credentials lack access to a required tool",
			HypothesisDescription: "Tool calls were rejected with authorization errors, pointing at expired credentials or a permissions change on the tool side.",
			Confidence:            models.ConfidenceHigh,
			VerificationSteps: []string{
				"Verify the credential used by the agent is valid and unexpired",
				"Check the tool's access policy for recent changes affecting the agent's principal",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeChangeConfig, Title: "Rotate or re-scope the agent's tool credentials", Description: "Issue credentials with the scopes the failing calls require.", Priority: models.PriorityCritical},
				{Type: models.ActionTypeMonitoring, Title: "Alert on 401/403 responses from tools", Description: "Surface authorization failures immediately instead of discovering them via failed runs.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryTimeout: {
			HypothesisTitle:       "A dependency exceeded its time budget",
			HypothesisDescription: "The run hit timeouts in tool calls or overall execution, suggesting a slow or hung downstream dependency.",
			Confidence:            models.ConfidenceMedium,
			VerificationSteps: []string{
				"Compare the failing calls' latency against the tool's recent latency baseline",
				"Check the downstream service's status page and error rates for the run window",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeChangeConfig, Title: "Tune timeouts and add per-call deadlines", Description: "Set deadlines that fail fast on hung calls while tolerating the dependency's p99.", Priority: models.PriorityHigh},
				{Type: models.ActionTypeMonitoring, Title: "Track tool latency percentiles", Description: "Baseline per-tool latency so slow drift is visible before it causes timeouts.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryPlannerLoop: {
			HypothesisTitle:       "Planner repeated the same step without making progress",
			HypothesisDescription: "One or more steps retried past the loop threshold, indicating the planner kept re-issuing an action whose outcome never changed.",
			Confidence:            models.ConfidenceMedium,
			VerificationSteps: []string{
				"Inspect the repeated step's inputs across retries for identical arguments",
				"Review the planner prompt for missing termination criteria on this action",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeCodeChange, Title: "Add loop detection with a hard retry cap", Description: "Abort and surface an error when a step repeats with unchanged inputs.", Priority: models.PriorityHigh},
				{Type: models.ActionTypeProcess, Title: "Review planner termination criteria", Description: "Audit prompts and stop conditions for the looping action.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryRetrievalEmpty: {
			HypothesisTitle:       "Retrieval returned no grounding material",
			HypothesisDescription: "Retrieval-type tools completed without error but produced empty results, leaving the agent to act without grounding.",
			Confidence:            models.ConfidenceMedium,
			VerificationSteps: []string{
				"Run the recorded retrieval queries manually against the index",
				"Check index freshness and document counts for the corpus the agent queries",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeCodeChange, Title: "Handle empty retrieval explicitly", Description: "Detect empty result sets and either broaden the query or fail with a clear message instead of proceeding ungrounded.", Priority: models.PriorityHigh},
				{Type: models.ActionTypeMonitoring, Title: "Alert on empty-retrieval rate", Description: "A rising empty-result rate usually means index staleness or query drift.", Priority: models.PriorityMedium},
			},
		},
		models.CategoryPromptRegression: {
			HypothesisTitle:       "Recent prompt or model change shifted agent behavior",
			HypothesisDescription: "Drift guardrails fired or the run was tagged as a behavioral regression, pointing at a prompt, template, or model version change.",
			Confidence:            models.ConfidenceMedium,
			VerificationSteps: []string{
				"Diff the prompt templates and model version against the last known-good run",
				"Replay a golden input set against both prompt versions and compare outputs",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeRollback, Title: "Roll back the most recent prompt or model change", Description: "Restore the last known-good prompt version while the regression is investigated.", Priority: models.PriorityCritical},
				{Type: models.ActionTypeTest, Title: "Add golden-output regression tests for prompts", Description: "Gate prompt changes on a fixed eval set so drift is caught before deploy.", Priority: models.PriorityHigh},
			},
		},
		models.CategoryUnknown: {
			HypothesisTitle:       "Failure cause not identifiable from captured telemetry",
			HypothesisDescription: "The captured signals did not match any known failure pattern.",
			Confidence:            models.ConfidenceLow,
			VerificationSteps: []string{
				"Inspect raw logs and traces for the run window",
			},
			ActionItems: []models.ActionItem{
				{Type: models.ActionTypeProcess, Title: "Manually triage the run", Description: "Review the full run transcript; consider adding a classifier rule if a new pattern emerges.", Priority: models.PriorityMedium},
			},
		},
	}
}

// insufficientActionItems is the fixed pair recommended when the telemetry
// gate trips: the problem is observability, not the agent.
func insufficientActionItems() []models.ActionItem {
	return []models.ActionItem{
		{Type: models.ActionTypeMonitoring, Title: "Enable detailed tracing", Description: "Instrument tool calls and guardrails so future failures carry citable telemetry.", Priority: models.PriorityHigh},
		{Type: models.ActionTypeCodeChange, Title: "Add structured error codes", Description: "Emit machine-readable error types from the agent so failures can be classified.", Priority: models.PriorityMedium},
	}
}

type overridesFile struct {
	Strategies map[string]CategoryStrategy `yaml:"strategies"`
}

var validCategories = map[models.Category]struct{}{
	models.CategoryToolSchemaMismatch: {},
	models.CategoryRateLimited:        {},
	models.CategoryToolPermission:     {},
	models.CategoryTimeout:            {},
	models.CategoryPlannerLoop:        {},
	models.CategoryRetrievalEmpty:     {},
	models.CategoryPromptRegression:   {},
	models.CategoryUnknown:            {},
}

// LoadOverrides replaces built-in templates for the categories present in the
// YAML file at path. Unknown categories and incomplete templates are rejected
// wholesale so a bad file never partially applies.
func (l *Library) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategy overrides: %w", err)
	}
	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse strategy overrides: %w", err)
	}

	parsed := make(map[models.Category]CategoryStrategy, len(file.Strategies))
	for name, s := range file.Strategies {
		cat := models.Category(name)
		if _, ok := validCategories[cat]; !ok {
			return fmt.Errorf("strategy overrides: unknown category %q", name)
		}
		if s.HypothesisTitle == "" || s.HypothesisDescription == "" {
			return fmt.Errorf("strategy overrides: category %q missing hypothesis", name)
		}
		switch s.Confidence {
		case models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh:
		default:
			return fmt.Errorf("strategy overrides: category %q invalid confidence %q", name, s.Confidence)
		}
		parsed[cat] = s
	}

	l.mu.Lock()
	for cat, s := range parsed {
		l.strategies[cat] = s
	}
	l.mu.Unlock()

	l.logger.Info("strategy overrides applied", "path", path, "categories", len(parsed))
	return nil
}

// Materialize turns a verdict into hypotheses and action items using the
// category template. A hypothesis is emitted only when the verdict carries
// matched evidence to cite; action items are emitted regardless.
func (l *Library) Materialize(verdict Verdict, evidence []models.Evidence) ([]models.Hypothesis, []models.ActionItem) {
	if verdict.Insufficient {
		return nil, insufficientActionItems()
	}

	l.mu.RLock()
	strategy, ok := l.strategies[verdict.Category]
	l.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	actions := make([]models.ActionItem, len(strategy.ActionItems))
	copy(actions, strategy.ActionItems)

	if len(verdict.MatchedEvidenceIDs) == 0 {
		return nil, actions
	}

	confidence := strategy.Confidence
	if confidence == models.ConfidenceHigh && len(verdict.MatchedEvidenceIDs) == 1 {
		confidence = models.ConfidenceMedium
	}

	description := strategy.HypothesisDescription
	byID := make(map[string]models.Evidence, len(evidence))
	for _, ev := range evidence {
		byID[ev.EvidenceID] = ev
	}
	cited := 0
	for _, id := range verdict.MatchedEvidenceIDs {
		ev, ok := byID[id]
		if !ok || ev.Snippet == "" {
			continue
		}
		description += fmt.Sprintf(" Observed: %s.", ev.Snippet)
		cited++
		if cited == 2 {
			break
		}
	}

	hypothesis := models.Hypothesis{
		Title:             strategy.HypothesisTitle,
		Description:       description,
		EvidenceIDs:       verdict.MatchedEvidenceIDs,
		Confidence:        confidence,
		VerificationSteps: append([]string(nil), strategy.VerificationSteps...),
	}
	return []models.Hypothesis{hypothesis}, actions
}
