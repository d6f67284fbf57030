package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisQueueKey is the list events are pushed to when none is set.
const DefaultRedisQueueKey = "unidb:changefeed"

// RedisQueueConfig configures a queue stored in a Redis list.
type RedisQueueConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key is the list name.
	Key string `yaml:"key"`
}

// Validate checks the connection settings.
func (c RedisQueueConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db cannot be negative")
	}
	return nil
}

// redisLists is the subset of the go-redis client the queue uses.
type redisLists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// RedisQueue keeps events in a Redis list: RPUSH on enqueue and LPOP on
// dequeue, so several processes can share one queue.
type RedisQueue struct {
	client redisLists
	key    string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisQueue connects a queue to the list in cfg.
func NewRedisQueue(cfg RedisQueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisQueue(client, cfg.Key, logger), nil
}

func newRedisQueue(client redisLists, key string, logger *zap.Logger) *RedisQueue {
	if key == "" {
		key = DefaultRedisQueueKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Enqueue appends the encoded event to the list.
func (q *RedisQueue) Enqueue(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	data, err := event.Marshal()
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to %s: %w", q.key, err)
	}
	return nil
}

// Dequeue pops up to batchSize events. Entries that fail to decode are
// logged and dropped.
func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*Event, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	raw, err := q.client.LPopCount(ctx, q.key, batchSize).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop events from %s: %w", q.key, err)
	}

	events := make([]*Event, 0, len(raw))
	for _, item := range raw {
		event, err := UnmarshalEvent([]byte(item))
		if err != nil {
			q.logger.Warn("dropping undecodable event", zap.String("key", q.key), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Size returns the list length, or 0 when it cannot be read.
func (q *RedisQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0
	}
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the client. Queued events stay in Redis.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.client.Close()
}
