package rca

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

func progressChannel(rcaRunID string) string {
	return "rca:progress:" + rcaRunID
}

func progressStatusKey(rcaRunID string) string {
	return "rca:progress:" + rcaRunID + ":status"
}

// ProgressPublisher broadcasts staged progress on the per-job channel and
// keeps a latest-status snapshot so late subscribers start from current state.
// Publishing is best effort: a broker outage degrades live streaming but never
// fails the analysis.
type ProgressPublisher struct {
	cache  cache.Valkey
	logger logger.Logger
	ttl    time.Duration
}

// NewProgressPublisher builds a publisher over the shared broker. Snapshot
// keys expire after ttl.
func NewProgressPublisher(c cache.Valkey, ttl time.Duration, log logger.Logger) *ProgressPublisher {
	return &ProgressPublisher{cache: c, logger: log, ttl: ttl}
}

// Publish writes the snapshot key and broadcasts the event. Errors are logged
// and swallowed.
func (p *ProgressPublisher) Publish(ctx context.Context, rcaRunID string, event models.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal progress event", "rca_run_id", rcaRunID, "error", err)
		return
	}
	if err := p.cache.Set(ctx, progressStatusKey(rcaRunID), payload, p.ttl); err != nil {
		p.logger.Warn("store progress snapshot", "rca_run_id", rcaRunID, "error", err)
	}
	if err := p.cache.Publish(ctx, progressChannel(rcaRunID), payload); err != nil {
		p.logger.Warn("publish progress event", "rca_run_id", rcaRunID, "error", err)
	}
}

// Latest returns the most recent snapshot for a job, or cache.ErrKeyNotFound
// when none was published yet (or it expired).
func (p *ProgressPublisher) Latest(ctx context.Context, rcaRunID string) (*models.ProgressEvent, error) {
	payload, err := p.cache.Get(ctx, progressStatusKey(rcaRunID))
	if err != nil {
		return nil, err
	}
	var event models.ProgressEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode progress snapshot for %s: %w", rcaRunID, err)
	}
	return &event, nil
}

// Subscribe opens a live subscription on the job's progress channel.
func (p *ProgressPublisher) Subscribe(ctx context.Context, rcaRunID string) (cache.Subscription, error) {
	return p.cache.Subscribe(ctx, progressChannel(rcaRunID))
}
