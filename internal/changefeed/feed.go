package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Queue types accepted in Config.Type.
const (
	TypeMemory = "memory"
	TypeKafka  = "kafka"
	TypeRedis  = "redis"
)

// Config selects the queue and sink behind a Feed.
type Config struct {
	// Enabled turns publishing on.
	Enabled bool `yaml:"enabled"`

	// Type is the queue type: memory, kafka or redis.
	Type string `yaml:"type"`

	// BufferSize bounds the memory queue.
	BufferSize int `yaml:"buffer_size"`

	// Kafka is the topic events are queued in (type kafka) or forwarded
	// to (type memory with brokers set).
	Kafka KafkaConfig `yaml:"kafka"`

	// Redis is the list events are queued in (type redis).
	Redis RedisQueueConfig `yaml:"redis"`

	// Drainer controls delivery from the queue to the sink.
	Drainer DrainerConfig `yaml:",inline"`
}

// Validate checks the feed settings. A disabled feed is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case "", TypeMemory:
		if len(c.Kafka.Brokers) > 0 {
			return c.Kafka.Validate()
		}
		return nil
	case TypeKafka:
		return c.Kafka.Validate()
	case TypeRedis:
		return c.Redis.Validate()
	default:
		return fmt.Errorf("unsupported changefeed type %q", c.Type)
	}
}

// Feed is the publishing side handed to tables, plus the drainer that
// empties its queue.
type Feed struct {
	queue   Queue
	sink    Sink
	drainer *Drainer
	logger  *zap.Logger
}

// NewFeed builds the queue and sink for cfg. A nil sink is replaced by a
// Kafka sink when a memory queue has brokers configured, and by a LogSink
// otherwise. Kafka and redis queues are shared with other consumers, so
// they only get a drainer when sink is given.
func NewFeed(cfg Config, sink Sink, logger *zap.Logger) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid changefeed config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var queue Queue
	switch cfg.Type {
	case TypeKafka:
		kq, err := NewKafkaQueue(cfg.Kafka, logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka queue: %w", err)
		}
		queue = kq
	case TypeRedis:
		rq, err := NewRedisQueue(cfg.Redis, logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis queue: %w", err)
		}
		queue = rq
	default:
		queue = NewMemoryQueue(cfg.BufferSize)
		if sink == nil && len(cfg.Kafka.Brokers) > 0 {
			ks, err := NewKafkaSink(cfg.Kafka, logger.Named("kafka"))
			if err != nil {
				return nil, fmt.Errorf("failed to create kafka sink: %w", err)
			}
			sink = ks
		}
		if sink == nil {
			sink = NewLogSink(logger)
		}
	}
	return newFeed(queue, sink, cfg.Drainer, logger), nil
}

func newFeed(queue Queue, sink Sink, cfg DrainerConfig, logger *zap.Logger) *Feed {
	f := &Feed{queue: queue, sink: sink, logger: logger}
	if sink != nil {
		f.drainer = NewDrainer(queue, sink, cfg, logger.Named("drainer"))
	}
	return f
}

// Publish enqueues event.
func (f *Feed) Publish(ctx context.Context, event *Event) error {
	if err := f.queue.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s event for table %s: %w", event.Op, event.Table, err)
	}
	return nil
}

// Queue returns the underlying queue, for consumers reading it directly.
func (f *Feed) Queue() Queue {
	return f.queue
}

// Drainer returns the drainer, or nil when the feed has no sink.
func (f *Feed) Drainer() *Drainer {
	return f.drainer
}

// Start starts the drainer, if any.
func (f *Feed) Start(ctx context.Context) error {
	if f.drainer == nil {
		return nil
	}
	return f.drainer.Start(ctx)
}

// flushTimeout bounds the final drain of a memory queue on Close.
const flushTimeout = 5 * time.Second

// Close stops the drainer and releases the queue and sink. A memory
// queue is drained into the sink first, since its events do not outlive
// the process.
func (f *Feed) Close() error {
	var errs []error
	if f.drainer != nil {
		errs = append(errs, f.drainer.Stop())
		if _, ok := f.queue.(*MemoryQueue); ok && f.queue.Size() > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			n, err := f.drainer.Flush(ctx)
			cancel()
			f.logger.Info("changefeed flushed", zap.Int("events", n), zap.Int("left", f.queue.Size()))
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to flush queue: %w", err))
			}
		}
	}
	if err := f.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close queue: %w", err))
	}
	if f.sink != nil {
		if err := f.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
