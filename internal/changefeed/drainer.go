package changefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DrainerConfig controls how fast and how persistently events are
// delivered to the sink.
type DrainerConfig struct {
	// DrainRate is the maximum number of sink writes per second.
	DrainRate int `yaml:"drain_rate"`

	// BatchSize is how many events are dequeued at once.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is how long the drainer sleeps on an empty queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRetries is the number of extra attempts per event.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the first retry delay. It doubles per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultDrainerConfig returns the drainer defaults.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:    50,
		BatchSize:    10,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

func (c DrainerConfig) withDefaults() DrainerConfig {
	def := DefaultDrainerConfig()
	if c.DrainRate <= 0 {
		c.DrainRate = def.DrainRate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	return c
}

// Drainer moves events from a queue to a sink in a background goroutine.
type Drainer struct {
	queue   Queue
	sink    Sink
	config  DrainerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewDrainer creates a stopped drainer.
func NewDrainer(queue Queue, sink Sink, config DrainerConfig, logger *zap.Logger) *Drainer {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{
		queue:   queue,
		sink:    sink,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.DrainRate), 1),
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Start launches the drain loop. Starting a running drainer is a no-op.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	go d.run(ctx, d.stopCh, d.doneCh)
	d.logger.Info("drainer started", zap.Int("drain_rate", d.config.DrainRate))
	return nil
}

// Stop signals the loop and waits for the event in flight to finish.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	<-doneCh
	d.logger.Info("drainer stopped",
		zap.Int64("delivered", d.delivered.Load()),
		zap.Int64("dropped", d.dropped.Load()))
	return nil
}

// IsRunning reports whether the loop is active.
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Delivered returns the number of events written to the sink.
func (d *Drainer) Delivered() int64 { return d.delivered.Load() }

// Dropped returns the number of events given up on, after every retry
// or because the context ended before their turn.
func (d *Drainer) Dropped() int64 { return d.dropped.Load() }

func (d *Drainer) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		n, err := d.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("drain pass failed", zap.Error(err))
		}
		if n == 0 {
			if d.sleep(ctx, d.config.PollInterval) != nil {
				return
			}
		}
	}
}

// Drain delivers one batch and returns how many events it took off the
// queue. Events still waiting for the rate limiter when ctx ends are
// counted as dropped.
func (d *Drainer) Drain(ctx context.Context) (int, error) {
	events, err := d.queue.Dequeue(ctx, d.config.BatchSize)
	if err != nil && len(events) == 0 {
		return 0, err
	}

	for i, event := range events {
		if werr := d.limiter.Wait(ctx); werr != nil {
			lost := events[i:]
			d.dropped.Add(int64(len(lost)))
			d.logger.Error("dropping undelivered batch",
				zap.Int("events", len(lost)),
				zap.String("first_id", lost[0].ID),
				zap.Error(werr))
			return len(events), werr
		}
		d.deliver(ctx, event)
	}
	return len(events), err
}

// Flush drains until the queue is empty, ctx ends or a pass fails. It
// returns how many events were taken off the queue.
func (d *Drainer) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := d.Drain(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func (d *Drainer) deliver(ctx context.Context, event *Event) {
	backoff := d.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := d.sleep(ctx, backoff); serr != nil {
				err = errors.Join(err, serr)
				break
			}
			backoff *= 2
		}
		if err = d.sink.Write(ctx, event); err == nil {
			d.delivered.Add(1)
			d.logger.Debug("event delivered",
				zap.String("id", event.ID),
				zap.String("table", event.Table),
				zap.Int("attempt", attempt+1))
			return
		}
		d.logger.Warn("event delivery failed",
			zap.String("id", event.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	d.dropped.Add(1)
	d.logger.Error("dropping event",
		zap.String("id", event.ID),
		zap.String("table", event.Table),
		zap.String("op", string(event.Op)),
		zap.Error(err))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
