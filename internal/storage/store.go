// Package storage defines the durable store consumed by the RCA pipeline and
// the HTTP layer. The job record is the sole source of truth read by polling
// clients and late-joining stream subscribers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agentops/agentops-core/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable persistence surface. RCARun records obey the state
// machine queued -> running -> done | error; terminal records are immutable.
type Store interface {
	// Agent run snapshots (written by the ingestion surface, read-only to the
	// RCA core).
	CreateAgentRun(ctx context.Context, run *models.AgentRun) error
	GetAgentRun(ctx context.Context, runID string) (*models.AgentRun, error)

	// RCA job records.
	CreateRCARun(ctx context.Context, r *models.RCARun) error
	GetRCARun(ctx context.Context, rcaRunID string) (*models.RCARun, error)

	// ListRCARuns returns every job for the given agent run, newest first.
	ListRCARuns(ctx context.Context, runID string) ([]*models.RCARun, error)

	// FindActiveRCARun returns a queued/running job for runID created at or
	// after the cutoff, or ErrNotFound. Used for create-time idempotency.
	FindActiveRCARun(ctx context.Context, runID string, cutoff time.Time) (*models.RCARun, error)

	// ClaimRCARun transitions queued -> running, stamping startedAt. Returns
	// false when the job was not in queued state (already claimed or
	// terminal); exactly one caller can win the claim.
	ClaimRCARun(ctx context.Context, rcaRunID string, startedAt time.Time) (bool, error)

	// UpdateRCARunProgress updates step/pct/message on a running job.
	UpdateRCARunProgress(ctx context.Context, rcaRunID, step string, pct int, message string) error

	// CompleteRCARun atomically persists status=done together with the report
	// and ended_at. Only valid from running; a record never claims done
	// without its report.
	CompleteRCARun(ctx context.Context, rcaRunID string, report *models.RCAReport, endedAt time.Time) error

	// FailRCARun atomically persists status=error with a diagnostic message.
	FailRCARun(ctx context.Context, rcaRunID, message string, endedAt time.Time) error

	Close() error
}
