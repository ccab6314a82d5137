package rca

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentops/agentops-core/internal/models"
)

// BuildReport assembles the final report for one analysis. Everything but the
// report id and timestamp is a pure function of the inputs.
func BuildReport(rcaRunID string, run *models.AgentRun, evidence []models.Evidence, verdict Verdict, hypotheses []models.Hypothesis, actions []models.ActionItem) (*models.RCAReport, error) {
	report := &models.RCAReport{
		ReportID:             uuid.NewString(),
		RCARunID:             rcaRunID,
		RunID:                run.RunID,
		GeneratedAt:          time.Now().UTC(),
		Category:             verdict.Category,
		InsufficientEvidence: verdict.Insufficient,
		InsufficientReason:   verdict.InsufficientReason,
		EvidenceIndex:        evidence,
		Hypotheses:           hypotheses,
		ActionItems:          actions,
		MetricsSnapshot:      BuildMetricsSnapshot(run),
	}
	report.TicketFields = renderTicketFields(report, run)

	if err := report.ValidateIntegrity(); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	return report, nil
}

func renderTicketFields(report *models.RCAReport, run *models.AgentRun) *models.TicketFields {
	summary := fmt.Sprintf("[RCA] %s: %s failure in agent %s", report.Category, run.Status, run.AgentName)
	if report.InsufficientEvidence {
		summary = fmt.Sprintf("[RCA] inconclusive: failure in agent %s", run.AgentName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Root Cause Analysis\n\n")
	fmt.Fprintf(&b, "**Run:** `%s`  \n**Agent:** %s (%s)  \n**Category:** `%s`\n\n", run.RunID, run.AgentName, run.AgentVersion, report.Category)

	if report.InsufficientEvidence {
		fmt.Fprintf(&b, "**Insufficient evidence.** %s\n\n", report.InsufficientReason)
	}

	if len(report.Hypotheses) > 0 {
		b.WriteString("### Hypotheses\n\n")
		for i, h := range report.Hypotheses {
			fmt.Fprintf(&b, "%d. **%s** (confidence: %s)  \n   %s\n", i+1, h.Title, h.Confidence, h.Description)
			for _, step := range h.VerificationSteps {
				fmt.Fprintf(&b, "   - Verify: %s\n", step)
			}
			b.WriteString("\n")
		}
	}

	if len(report.ActionItems) > 0 {
		b.WriteString("### Recommended Actions\n\n")
		for _, a := range report.ActionItems {
			fmt.Fprintf(&b, "- [%s/%s] **%s**: %s\n", a.Type, a.Priority, a.Title, a.Description)
		}
		b.WriteString("\n")
	}

	if len(report.EvidenceIndex) > 0 {
		b.WriteString("### Evidence\n\n")
		for _, ev := range report.EvidenceIndex {
			fmt.Fprintf(&b, "- `%s` %s", ev.EvidenceID, ev.Title)
			if ev.Snippet != "" {
				fmt.Fprintf(&b, ": %s", ev.Snippet)
			}
			b.WriteString("\n")
		}
	}

	return &models.TicketFields{Summary: summary, DescriptionMD: b.String()}
}
