package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentops/agentops-core/internal/monitoring"
	"github.com/agentops/agentops-core/pkg/logger"
)

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// Subscription is a live pub/sub subscription on one channel. Events delivers
// raw payloads until Close is called or the subscribing context ends.
type Subscription interface {
	Events() <-chan []byte
	Close() error
}

// Valkey is the shared cache/broker surface used by the RCA pipeline: latest
// progress snapshots (KV), per-job progress channels (pub/sub) and the durable
// work queue feeding the orchestrator workers.
type Valkey interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Enqueue(ctx context.Context, queue string, payload []byte) error
	// Dequeue blocks up to timeout for the next queued payload. A nil payload
	// with nil error means the timeout elapsed with nothing queued.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

type valkeyImpl struct {
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration
}

// NewValkey connects to a single-node Valkey/Redis instance.
func NewValkey(addr string, db int, password string, defaultTTL time.Duration, log logger.Logger) (Valkey, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  6 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey at %s: %w", addr, err)
	}

	return &valkeyImpl{client: client, logger: log, ttl: defaultTTL}, nil
}

func (v *valkeyImpl) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (v *valkeyImpl) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = v.ttl
	}
	if err := v.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (v *valkeyImpl) Delete(ctx context.Context, key string) error {
	if err := v.client.Del(ctx, key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (v *valkeyImpl) Publish(ctx context.Context, channel string, payload []byte) error {
	return v.client.Publish(ctx, channel, payload).Err()
}

func (v *valkeyImpl) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := v.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before relaying.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	sub := &valkeySubscription{ps: ps, events: out}
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

type valkeySubscription struct {
	ps     *redis.PubSub
	events chan []byte
}

func (s *valkeySubscription) Events() <-chan []byte { return s.events }
func (s *valkeySubscription) Close() error         { return s.ps.Close() }

func (v *valkeyImpl) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if err := v.client.LPush(ctx, queue, payload).Err(); err != nil {
		monitoring.RecordQueueOperation("enqueue", "error")
		return fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	monitoring.RecordQueueOperation("enqueue", "success")
	return nil
}

func (v *valkeyImpl) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := v.client.BRPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		monitoring.RecordQueueOperation("dequeue", "error")
		return nil, err
	}
	monitoring.RecordQueueOperation("dequeue", "success")
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return json.Marshal(x)
	}
}
