package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/monitoring"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/logger"
)

type pgStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewStore wraps an opened connection pool as a storage.Store.
func NewStore(db *sql.DB, log logger.Logger) storage.Store {
	return &pgStore{db: db, logger: log}
}

func (s *pgStore) CreateAgentRun(ctx context.Context, run *models.AgentRun) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal agent run %s: %w", run.RunID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (run_id, status, snapshot) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot`,
		run.RunID, run.Status, snapshot)
	monitoring.RecordDBOperation("create_agent_run", err)
	if err != nil {
		return fmt.Errorf("insert agent run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *pgStore) GetAgentRun(ctx context.Context, runID string) (*models.AgentRun, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM agent_runs WHERE run_id = $1`, runID).Scan(&snapshot)
	monitoring.RecordDBOperation("get_agent_run", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent run %s: %w", runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select agent run %s: %w", runID, err)
	}
	var run models.AgentRun
	if err := json.Unmarshal(snapshot, &run); err != nil {
		return nil, fmt.Errorf("unmarshal agent run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *pgStore) CreateRCARun(ctx context.Context, r *models.RCARun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rca_runs (rca_run_id, run_id, status, step, pct, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.RCARunID, r.RunID, r.Status, r.Step, r.Pct, r.Message, r.CreatedAt)
	monitoring.RecordDBOperation("create_rca_run", err)
	if err != nil {
		return fmt.Errorf("insert rca run %s: %w", r.RCARunID, err)
	}
	return nil
}

const rcaRunColumns = `rca_run_id, run_id, status, step, pct, message,
	COALESCE(error_message, ''), report, created_at, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *pgStore) scanRCARun(row rowScanner) (*models.RCARun, error) {
	var (
		r      models.RCARun
		report []byte
	)
	err := row.Scan(&r.RCARunID, &r.RunID, &r.Status, &r.Step, &r.Pct, &r.Message,
		&r.ErrorMessage, &report, &r.CreatedAt, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(report) > 0 {
		r.Report = &models.RCAReport{}
		if err := json.Unmarshal(report, r.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report for rca run %s: %w", r.RCARunID, err)
		}
	}
	return &r, nil
}

func (s *pgStore) GetRCARun(ctx context.Context, rcaRunID string) (*models.RCARun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rcaRunColumns+` FROM rca_runs WHERE rca_run_id = $1`, rcaRunID)
	r, err := s.scanRCARun(row)
	monitoring.RecordDBOperation("get_rca_run", err)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	return r, err
}

func (s *pgStore) FindActiveRCARun(ctx context.Context, runID string, cutoff time.Time) (*models.RCARun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rcaRunColumns+` FROM rca_runs
		 WHERE run_id = $1 AND status IN ('queued', 'running') AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`, runID, cutoff)
	r, err := s.scanRCARun(row)
	monitoring.RecordDBOperation("find_active_rca_run", err)
	return r, err
}

func (s *pgStore) ListRCARuns(ctx context.Context, runID string) ([]*models.RCARun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rcaRunColumns+` FROM rca_runs
		 WHERE run_id = $1 ORDER BY created_at DESC`, runID)
	monitoring.RecordDBOperation("list_rca_runs", err)
	if err != nil {
		return nil, fmt.Errorf("list rca runs for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*models.RCARun
	for rows.Next() {
		r, err := s.scanRCARun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rca run for %s: %w", runID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) ClaimRCARun(ctx context.Context, rcaRunID string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rca_runs SET status = 'running', started_at = $2
		 WHERE rca_run_id = $1 AND status = 'queued'`, rcaRunID, startedAt)
	monitoring.RecordDBOperation("claim_rca_run", err)
	if err != nil {
		return false, fmt.Errorf("claim rca run %s: %w", rcaRunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgStore) UpdateRCARunProgress(ctx context.Context, rcaRunID, step string, pct int, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rca_runs SET step = $2, pct = $3, message = $4
		 WHERE rca_run_id = $1 AND status = 'running'`, rcaRunID, step, pct, message)
	monitoring.RecordDBOperation("update_rca_run_progress", err)
	if err != nil {
		return fmt.Errorf("update progress for rca run %s: %w", rcaRunID, err)
	}
	return nil
}

func (s *pgStore) CompleteRCARun(ctx context.Context, rcaRunID string, report *models.RCAReport, endedAt time.Time) error {
	if report == nil {
		return fmt.Errorf("complete rca run %s: nil report", rcaRunID)
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report for rca run %s: %w", rcaRunID, err)
	}
	// Single-statement write keeps status and report atomic: the record can
	// never read done without its report.
	res, err := s.db.ExecContext(ctx,
		`UPDATE rca_runs
		 SET status = 'done', report = $2, ended_at = $3,
		     step = 'completed', pct = 100, message = 'RCA complete'
		 WHERE rca_run_id = $1 AND status = 'running'`,
		rcaRunID, payload, endedAt)
	monitoring.RecordDBOperation("complete_rca_run", err)
	if err != nil {
		return fmt.Errorf("complete rca run %s: %w", rcaRunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("complete rca run %s: record not in running state", rcaRunID)
	}
	return nil
}

func (s *pgStore) FailRCARun(ctx context.Context, rcaRunID, message string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rca_runs
		 SET status = 'error', error_message = $2, ended_at = $3,
		     step = 'failed', message = $2
		 WHERE rca_run_id = $1 AND status IN ('queued', 'running')`,
		rcaRunID, message, endedAt)
	monitoring.RecordDBOperation("fail_rca_run", err)
	if err != nil {
		return fmt.Errorf("fail rca run %s: %w", rcaRunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("fail rca run %s: record already terminal", rcaRunID)
	}
	return nil
}

func (s *pgStore) Close() error {
	return s.db.Close()
}
