// Package postgres implements storage.Store on PostgreSQL via the pgx stdlib
// driver. Snapshots and reports are stored as JSONB; the job record carries
// the state machine columns used for claim/complete CAS updates.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agentops/agentops-core/internal/config"
	"github.com/agentops/agentops-core/pkg/logger"
)

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.PingTimeout)*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("postgres store ready", "max_open_conns", cfg.MaxOpenConns)
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_runs (
			run_id     TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			snapshot   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rca_runs (
			rca_run_id    TEXT PRIMARY KEY,
			run_id        TEXT NOT NULL REFERENCES agent_runs(run_id),
			status        TEXT NOT NULL,
			step          TEXT NOT NULL DEFAULT '',
			pct           INT  NOT NULL DEFAULT 0,
			message       TEXT NOT NULL DEFAULT '',
			error_message TEXT,
			report        JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at    TIMESTAMPTZ,
			ended_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rca_runs_run_id ON rca_runs (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rca_runs_status ON rca_runs (status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
