package rca

import (
	"context"
	"fmt"
	"time"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/monitoring"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/logger"
)

// Pipeline stage labels and percentages in emission order.
const (
	StageStarting    = "starting"
	StageEvidence    = "collecting_evidence"
	StageClassifying = "classifying"
	StageReport      = "generating_report"
	StageCompleted   = "completed"
)

type stage struct {
	step    string
	pct     int
	message string
}

var stages = []stage{
	{StageStarting, 5, "Starting RCA"},
	{StageEvidence, 30, "Collecting evidence"},
	{StageClassifying, 55, "Classifying failure"},
	{StageReport, 85, "Generating report"},
}

// ReportIndexer receives completed reports for secondary indexing. Indexing
// failures are logged, never surfaced to the job.
type ReportIndexer interface {
	IndexReport(report *models.RCAReport) error
}

// Orchestrator executes one RCA job end to end: claim, extract, classify,
// materialize, persist, publish. The durable record is the source of truth;
// progress events are a best-effort overlay.
type Orchestrator struct {
	store      storage.Store
	progress   *ProgressPublisher
	strategies *Library
	indexer    ReportIndexer
	logger     logger.Logger
}

// NewOrchestrator wires the pipeline. indexer may be nil when report search is
// disabled.
func NewOrchestrator(store storage.Store, progress *ProgressPublisher, strategies *Library, indexer ReportIndexer, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		progress:   progress,
		strategies: strategies,
		indexer:    indexer,
		logger:     log,
	}
}

func (o *Orchestrator) publishStage(ctx context.Context, rcaRunID string, s stage) {
	if err := o.store.UpdateRCARunProgress(ctx, rcaRunID, s.step, s.pct, s.message); err != nil {
		o.logger.Warn("persist progress", "rca_run_id", rcaRunID, "step", s.step, "error", err)
	}
	o.progress.Publish(ctx, rcaRunID, models.ProgressEvent{
		Status:    models.RCARunRunning,
		Step:      s.step,
		Pct:       s.pct,
		Message:   s.message,
		UpdatedAt: time.Now().UTC(),
	})
}

// Run processes one queued job. Losing the claim is not an error: duplicate
// queue deliveries and competing workers resolve through the claim, so at most
// one execution proceeds per job.
func (o *Orchestrator) Run(ctx context.Context, rcaRunID string) error {
	claimed, err := o.store.ClaimRCARun(ctx, rcaRunID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim rca run %s: %w", rcaRunID, err)
	}
	if !claimed {
		o.logger.Debug("rca run already claimed", "rca_run_id", rcaRunID)
		return nil
	}

	report, err := o.analyze(ctx, rcaRunID)
	if err != nil {
		o.fail(ctx, rcaRunID, err)
		return err
	}

	start := time.Now()
	if err := o.store.CompleteRCARun(ctx, rcaRunID, report, time.Now().UTC()); err != nil {
		o.fail(ctx, rcaRunID, fmt.Errorf("persist report: %w", err))
		return err
	}
	monitoring.RecordRCAStage(StageCompleted, time.Since(start))

	o.progress.Publish(ctx, rcaRunID, models.ProgressEvent{
		Status:    models.RCARunDone,
		Step:      StageCompleted,
		Pct:       100,
		Message:   "RCA complete",
		UpdatedAt: time.Now().UTC(),
	})
	monitoring.RecordRCAJob("done", string(report.Category))

	if o.indexer != nil {
		if err := o.indexer.IndexReport(report); err != nil {
			o.logger.Warn("index report", "rca_run_id", rcaRunID, "error", err)
		}
	}

	o.logger.Info("rca run completed",
		"rca_run_id", rcaRunID,
		"run_id", report.RunID,
		"category", report.Category,
		"hypotheses", len(report.Hypotheses),
		"evidence", len(report.EvidenceIndex))
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, rcaRunID string) (*models.RCAReport, error) {
	o.publishStage(ctx, rcaRunID, stages[0])

	job, err := o.store.GetRCARun(ctx, rcaRunID)
	if err != nil {
		return nil, fmt.Errorf("load rca run %s: %w", rcaRunID, err)
	}
	run, err := o.store.GetAgentRun(ctx, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("load agent run %s: %w", job.RunID, err)
	}

	o.publishStage(ctx, rcaRunID, stages[1])
	start := time.Now()
	evidence, signals, err := ExtractEvidence(run)
	if err != nil {
		return nil, err
	}
	monitoring.RecordRCAStage(StageEvidence, time.Since(start))

	o.publishStage(ctx, rcaRunID, stages[2])
	start = time.Now()
	verdict := Classify(evidence, signals)
	monitoring.RecordRCAStage(StageClassifying, time.Since(start))

	o.publishStage(ctx, rcaRunID, stages[3])
	start = time.Now()
	hypotheses, actions := o.strategies.Materialize(verdict, evidence)
	report, err := BuildReport(rcaRunID, run, evidence, verdict, hypotheses, actions)
	if err != nil {
		return nil, err
	}
	monitoring.RecordRCAStage(StageReport, time.Since(start))
	return report, nil
}

func (o *Orchestrator) fail(ctx context.Context, rcaRunID string, cause error) {
	o.logger.Error("rca run failed", "rca_run_id", rcaRunID, "error", cause)
	if err := o.store.FailRCARun(ctx, rcaRunID, cause.Error(), time.Now().UTC()); err != nil {
		o.logger.Error("persist rca failure", "rca_run_id", rcaRunID, "error", err)
	}
	o.progress.Publish(ctx, rcaRunID, models.ProgressEvent{
		Status:    models.RCARunError,
		Step:      "error",
		Pct:       0,
		Message:   cause.Error(),
		UpdatedAt: time.Now().UTC(),
	})
	monitoring.RecordRCAJob("error", string(models.CategoryUnknown))
}
