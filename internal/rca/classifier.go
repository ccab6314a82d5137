package rca

import (
	"regexp"

	"github.com/agentops/agentops-core/internal/models"
)

// InsufficientEvidenceReason is the fixed reason recorded when the telemetry
// gate trips.
const InsufficientEvidenceReason = "Limited telemetry: no tool failures or specific error details captured"

var (
	validationErrorPattern   = regexp.MustCompile(`(?i)validation|schema|unexpected (field|argument)|missing required`)
	timeoutPattern           = regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)
	promptRegressionPattern  = regexp.MustCompile(`(?i)prompt_regression|behavioral_drift`)
	permissionMessagePattern = regexp.MustCompile(`(?i)permission|unauthorized|forbidden|access denied`)
	rateLimitMessagePattern  = regexp.MustCompile(`(?i)rate limit|too many requests`)
)

// Verdict is the classifier outcome fed to the strategy library.
type Verdict struct {
	Category           models.Category
	Insufficient       bool
	InsufficientReason string
	MatchedEvidenceIDs []string
}

type rule struct {
	category models.Category
	match    func(evidence []models.Evidence, sig Signals) (bool, []string)
}

func toolEvidenceIDs(evidence []models.Evidence, pred func(models.Evidence) bool) []string {
	var ids []string
	for _, ev := range evidence {
		if pred(ev) {
			ids = append(ids, ev.EvidenceID)
		}
	}
	return ids
}

// rules is the fixed precedence order. First match wins; reordering changes
// verdicts, so additions go at the end before unknown.
var rules = []rule{
	{
		category: models.CategoryToolSchemaMismatch,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				if ev.Kind == models.EvidenceKindToolCall {
					if validationErrorPattern.MatchString(ev.Attributes[attrErrorClass]) || validationErrorPattern.MatchString(ev.Snippet) {
						return true
					}
				}
				return ev.Kind == models.EvidenceKindGuardrail && ev.Attributes[attrType] == models.GuardrailSchemaValidation
			})
			return len(ids) > 0, ids
		},
	},
	{
		category: models.CategoryRateLimited,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				if ev.Kind != models.EvidenceKindToolCall {
					return false
				}
				return ev.Attributes[attrStatusCode] == "429" || rateLimitMessagePattern.MatchString(ev.Snippet)
			})
			return len(ids) > 0, ids
		},
	},
	{
		category: models.CategoryToolPermission,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				if ev.Kind != models.EvidenceKindToolCall {
					return false
				}
				code := ev.Attributes[attrStatusCode]
				return code == "401" || code == "403" || permissionMessagePattern.MatchString(ev.Snippet)
			})
			return len(ids) > 0, ids
		},
	},
	{
		category: models.CategoryTimeout,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				return ev.Kind == models.EvidenceKindToolCall &&
					(timeoutPattern.MatchString(ev.Attributes[attrErrorClass]) || timeoutPattern.MatchString(ev.Snippet))
			})
			if len(ids) > 0 {
				return true, ids
			}
			return timeoutPattern.MatchString(sig.ErrorType) || timeoutPattern.MatchString(sig.ErrorMessage), nil
		},
	},
	{
		category: models.CategoryPlannerLoop,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			if sig.MaxStepRetries < plannerLoopRetryThreshold && sig.MaxToolRetries < plannerLoopRetryThreshold {
				return false, nil
			}
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				return ev.Kind == models.EvidenceKindStep
			})
			return true, ids
		},
	},
	{
		category: models.CategoryRetrievalEmpty,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				return ev.Kind == models.EvidenceKindToolCall && ev.Attributes[attrEmptyResult] == "true"
			})
			return len(ids) > 0, ids
		},
	},
	{
		category: models.CategoryPromptRegression,
		match: func(evidence []models.Evidence, sig Signals) (bool, []string) {
			ids := toolEvidenceIDs(evidence, func(ev models.Evidence) bool {
				if ev.Kind != models.EvidenceKindGuardrail {
					return false
				}
				t := ev.Attributes[attrType]
				return t == models.GuardrailOutputDrift || t == models.GuardrailPromptDrift
			})
			if len(ids) > 0 {
				return true, ids
			}
			return promptRegressionPattern.MatchString(sig.ErrorType), nil
		},
	},
}

// Classify runs the fixed rule chain over the evidence index and signals. It
// is a pure function: identical inputs always produce identical verdicts.
func Classify(evidence []models.Evidence, sig Signals) Verdict {
	if !sig.HasToolCalls && sig.ErrorType == "" && !sig.HasGuardrails {
		return Verdict{
			Category:           models.CategoryUnknown,
			Insufficient:       true,
			InsufficientReason: InsufficientEvidenceReason,
		}
	}

	for _, r := range rules {
		if ok, ids := r.match(evidence, sig); ok {
			return Verdict{Category: r.category, MatchedEvidenceIDs: ids}
		}
	}
	return Verdict{Category: models.CategoryUnknown}
}
