package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka queue and sink.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	RequiredAcks int           `yaml:"required_acks"` // 0, 1 or -1 (all)
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// Validate checks the settings needed to reach Kafka.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	return nil
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.GroupID == "" {
		c.GroupID = "unidb-changefeed"
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10e6
	}
	return c
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}
}

// encodeMessage keys the message by table so one table's events stay on
// one partition and keep their order.
func encodeMessage(event *Event) (kafka.Message, error) {
	value, err := event.Marshal()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.Table),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(event.Op)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}, nil
}

// KafkaQueue keeps events in a Kafka topic. Dequeue reads through a
// consumer group and commits each offset once the event is decoded.
type KafkaQueue struct {
	writer  kafkaWriter
	reader  kafkaReader
	cfg     KafkaConfig
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
	pending int
}

// NewKafkaQueue creates a queue producing to and consuming from cfg.Topic.
func NewKafkaQueue(cfg KafkaConfig, logger *zap.Logger) (*KafkaQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info("kafka queue initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID))

	return &KafkaQueue{
		writer: newKafkaWriter(cfg),
		reader: reader,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Enqueue produces the event synchronously.
func (q *KafkaQueue) Enqueue(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to kafka: %w", event.ID, err)
	}

	q.mu.Lock()
	q.pending++
	q.mu.Unlock()

	q.logger.Debug("event produced",
		zap.String("topic", q.cfg.Topic),
		zap.String("table", event.Table),
		zap.String("op", string(event.Op)))
	return nil
}

// Dequeue consumes up to batchSize events. Each read waits at most
// ReadTimeout, so an idle topic returns an empty batch.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*Event, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	events := make([]*Event, 0, batchSize)
	for len(events) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.cfg.ReadTimeout)
		msg, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return events, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return events, fmt.Errorf("failed to read from kafka topic %s: %w", q.cfg.Topic, err)
		}

		event, err := UnmarshalEvent(msg.Value)
		if err != nil {
			q.logger.Warn("skipping undecodable message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else {
			events = append(events, event)
		}

		if err := q.reader.CommitMessages(ctx, msg); err != nil {
			q.logger.Warn("failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}

	q.mu.Lock()
	q.pending -= len(events)
	if q.pending < 0 {
		q.pending = 0
	}
	q.mu.Unlock()

	return events, nil
}

// Size returns the number of events produced by this process and not yet
// consumed by it. Kafka offers no exact queue length.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pending
}

// Close closes the writer and the reader.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	werr := q.writer.Close()
	if werr != nil {
		q.logger.Error("failed to close kafka writer", zap.Error(werr))
	}
	if err := q.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return werr
}

// KafkaSink forwards drained events to a Kafka topic.
type KafkaSink struct {
	writer kafkaWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaSink creates a sink producing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer: newKafkaWriter(cfg.withDefaults()),
		topic:  cfg.Topic,
		logger: logger,
	}, nil
}

// Write produces one event.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to forward event %s to kafka topic %s: %w", event.ID, s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
