package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentops/agentops-core/pkg/logger"
)

// noopValkey is an in-memory, process-local fallback that satisfies Valkey
// when the external cache is unavailable. Best-effort: data is not shared
// across replicas and is lost on restart. Also the backing used in tests.
type noopValkey struct {
	mu     sync.RWMutex
	m      map[string][]byte
	subs   map[string][]*noopSubscription
	queues map[string]chan []byte
	logger logger.Logger
}

// NewNoopValkey returns the in-memory Valkey implementation.
func NewNoopValkey(log logger.Logger) Valkey {
	return &noopValkey{
		m:      make(map[string][]byte),
		subs:   make(map[string][]*noopSubscription),
		queues: make(map[string]chan []byte),
		logger: log,
	}
}

func (n *noopValkey) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b, ok := n.m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (n *noopValkey) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.m[key] = data
	n.mu.Unlock()
	return nil
}

func (n *noopValkey) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.m, key)
	n.mu.Unlock()
	return nil
}

func (n *noopValkey) Publish(ctx context.Context, channel string, payload []byte) error {
	n.mu.RLock()
	subs := append([]*noopSubscription(nil), n.subs[channel]...)
	n.mu.RUnlock()
	for _, s := range subs {
		s.deliver(payload)
	}
	return nil
}

func (n *noopValkey) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &noopSubscription{
		parent:  n,
		channel: channel,
		events:  make(chan []byte, 64),
	}
	n.mu.Lock()
	n.subs[channel] = append(n.subs[channel], sub)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

func (n *noopValkey) queue(name string) chan []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	q, ok := n.queues[name]
	if !ok {
		q = make(chan []byte, 1024)
		n.queues[name] = q
	}
	return q
}

func (n *noopValkey) Enqueue(ctx context.Context, queue string, payload []byte) error {
	select {
	case n.queue(queue) <- payload:
		return nil
	default:
		return fmt.Errorf("in-memory queue %s is full", queue)
	}
}

func (n *noopValkey) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case payload := <-n.queue(queue):
		return payload, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type noopSubscription struct {
	parent  *noopValkey
	channel string
	events  chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *noopSubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- payload:
	default:
		// Slow subscriber; progress consumers tolerate gaps because the
		// durable record is the source of truth.
	}
}

func (s *noopSubscription) Events() <-chan []byte { return s.events }

func (s *noopSubscription) Close() error {
	s.parent.mu.Lock()
	subs := s.parent.subs[s.channel]
	for i, other := range subs {
		if other == s {
			s.parent.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.parent.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
