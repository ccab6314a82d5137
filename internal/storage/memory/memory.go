// Package memory implements storage.Store in process memory. It backs tests
// and dev mode; semantics (claim CAS, atomic completion, terminal
// immutability) match the postgres implementation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/internal/storage"
)

type memStore struct {
	mu        sync.RWMutex
	agentRuns map[string]*models.AgentRun
	rcaRuns   map[string]*models.RCARun
}

// NewStore returns an empty in-memory store.
func NewStore() storage.Store {
	return &memStore{
		agentRuns: make(map[string]*models.AgentRun),
		rcaRuns:   make(map[string]*models.RCARun),
	}
}

// clone deep-copies records so callers never hold references into the store.
func clone[T any](in *T) *T {
	b, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	return out
}

func (s *memStore) CreateAgentRun(ctx context.Context, run *models.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentRuns[run.RunID] = clone(run)
	return nil
}

func (s *memStore) GetAgentRun(ctx context.Context, runID string) (*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.agentRuns[runID]
	if !ok {
		return nil, fmt.Errorf("agent run %s: %w", runID, storage.ErrNotFound)
	}
	return clone(run), nil
}

func (s *memStore) CreateRCARun(ctx context.Context, r *models.RCARun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rcaRuns[r.RCARunID]; exists {
		return fmt.Errorf("rca run %s already exists", r.RCARunID)
	}
	s.rcaRuns[r.RCARunID] = clone(r)
	return nil
}

func (s *memStore) GetRCARun(ctx context.Context, rcaRunID string) (*models.RCARun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rcaRuns[rcaRunID]
	if !ok {
		return nil, fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	return clone(r), nil
}

func (s *memStore) ListRCARuns(ctx context.Context, runID string) ([]*models.RCARun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RCARun
	for _, r := range s.rcaRuns {
		if r.RunID == runID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) FindActiveRCARun(ctx context.Context, runID string, cutoff time.Time) (*models.RCARun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.RCARun
	for _, r := range s.rcaRuns {
		if r.RunID != runID || r.Status.Terminal() || r.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	return clone(newest), nil
}

func (s *memStore) ClaimRCARun(ctx context.Context, rcaRunID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rcaRuns[rcaRunID]
	if !ok {
		return false, fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	if r.Status != models.RCARunQueued {
		return false, nil
	}
	ts := startedAt
	r.Status = models.RCARunRunning
	r.StartedAt = &ts
	return true, nil
}

func (s *memStore) UpdateRCARunProgress(ctx context.Context, rcaRunID, step string, pct int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rcaRuns[rcaRunID]
	if !ok {
		return fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	if r.Status != models.RCARunRunning {
		return nil
	}
	r.Step, r.Pct, r.Message = step, pct, message
	return nil
}

func (s *memStore) CompleteRCARun(ctx context.Context, rcaRunID string, report *models.RCAReport, endedAt time.Time) error {
	if report == nil {
		return fmt.Errorf("complete rca run %s: nil report", rcaRunID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rcaRuns[rcaRunID]
	if !ok {
		return fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	if r.Status != models.RCARunRunning {
		return fmt.Errorf("complete rca run %s: record not in running state", rcaRunID)
	}
	ts := endedAt
	r.Status = models.RCARunDone
	r.Report = clone(report)
	r.EndedAt = &ts
	r.Step, r.Pct, r.Message = "completed", 100, "RCA complete"
	return nil
}

func (s *memStore) FailRCARun(ctx context.Context, rcaRunID, message string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rcaRuns[rcaRunID]
	if !ok {
		return fmt.Errorf("rca run %s: %w", rcaRunID, storage.ErrNotFound)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("fail rca run %s: record already terminal", rcaRunID)
	}
	ts := endedAt
	r.Status = models.RCARunError
	r.ErrorMessage = message
	r.Message = message
	r.Step = "failed"
	r.EndedAt = &ts
	return nil
}

func (s *memStore) Close() error { return nil }
