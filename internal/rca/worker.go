package rca

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

type jobEnvelope struct {
	RCARunID string `json:"rca_run_id"`
}

// EnqueueJob pushes one RCA job onto the work queue.
func EnqueueJob(ctx context.Context, c cache.Valkey, queue, rcaRunID string) error {
	payload, err := json.Marshal(jobEnvelope{RCARunID: rcaRunID})
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	return c.Enqueue(ctx, queue, payload)
}

// WorkerPool consumes the job queue with a fixed set of workers, each running
// jobs through the orchestrator. Malformed payloads are logged and dropped;
// job failures are already persisted by the orchestrator, so the pool only
// stops on context cancellation.
type WorkerPool struct {
	cache        cache.Valkey
	orchestrator *Orchestrator
	queue        string
	workers      int
	pollTimeout  time.Duration
	logger       logger.Logger
}

// NewWorkerPool builds a pool of n workers polling the named queue.
func NewWorkerPool(c cache.Valkey, orch *Orchestrator, queue string, workers int, pollTimeout time.Duration, log logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		cache:        c,
		orchestrator: orch,
		queue:        queue,
		workers:      workers,
		pollTimeout:  pollTimeout,
		logger:       log,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to finish.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.loop(ctx, worker)
		})
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue", p.queue)
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (p *WorkerPool) loop(ctx context.Context, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := p.cache.Dequeue(ctx, p.queue, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("dequeue failed", "worker", worker, "error", err)
			// Back off so a broker outage does not spin the loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}

		var env jobEnvelope
		if err := json.Unmarshal(payload, &env); err != nil || env.RCARunID == "" {
			p.logger.Error("dropping malformed job payload", "worker", worker, "payload", string(payload))
			continue
		}

		if err := p.orchestrator.Run(ctx, env.RCARunID); err != nil {
			p.logger.Error("job execution failed", "worker", worker, "rca_run_id", env.RCARunID, "error", err)
		}
	}
}
