// Package sequence implements monotonically increasing counters on top
// of an adapter's sequence store.
//
// Stores with a native atomic increment are used directly. Every other
// store goes through read, compare-and-swap and retry: a counter row is
// either absent (Uninitialized) or holds the last issued value (Active).
// Each attempt reads the row, proposes value+1 and writes it only if the
// row is still in the observed state. A rejected write means another
// caller took the value, so the attempt is repeated.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Defaults for Options.
const (
	DefaultMaxAttempts = 16
	DefaultBackoff     = 2 * time.Millisecond
	DefaultMaxBackoff  = 100 * time.Millisecond
)

// Options tune the retry loop of compare-and-swap stores.
type Options struct {
	// MaxAttempts bounds the conditional writes per Get. 1 disables
	// retrying and surfaces the first conflict to the caller.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the base delay before the second attempt. It doubles
	// per attempt up to MaxBackoff, with full jitter.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultOptions returns the default retry settings.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = o.Backoff
	}
	return o
}

// Sequence is a named counter. It is safe for concurrent use; callers
// race through the store, never through an in-process lock.
type Sequence struct {
	key    string
	store  core.SequenceStore
	opts   Options
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates the sequence stored under key.
func New(store core.SequenceStore, key string, opts Options, logger *zap.Logger) *Sequence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequence{
		key:    key,
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.Named("sequence").With(zap.String("key", key)),
		sleep:  sleepContext,
	}
}

// Key returns the counter key.
func (s *Sequence) Key() string {
	return s.key
}

// Get returns the next value. The first value of a key is 1.
func (s *Sequence) Get(ctx context.Context) (int64, error) {
	if inc, ok := s.store.(core.Incrementer); ok {
		v, err := inc.Increment(ctx, s.key)
		if err != nil {
			return 0, fmt.Errorf("failed to increment sequence %s: %w", s.key, err)
		}
		s.logger.Debug("incremented", zap.Int64("value", v))
		return v, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.delay(attempt)); err != nil {
				return 0, err
			}
		}

		current, exists, err := s.store.Read(ctx, s.key)
		if err != nil {
			return 0, fmt.Errorf("failed to read sequence %s: %w", s.key, err)
		}
		candidate := current + 1

		err = s.store.CompareAndSwap(ctx, s.key, current, exists, candidate)
		if err == nil {
			s.logger.Debug("issued", zap.Int64("value", candidate), zap.Int("attempt", attempt))
			return candidate, nil
		}
		if !errors.Is(err, core.ErrConditionFailed) {
			return 0, fmt.Errorf("failed to update sequence %s: %w", s.key, err)
		}
		lastErr = err
		s.logger.Debug("conflict", zap.Int64("candidate", candidate), zap.Int("attempt", attempt))
	}

	s.logger.Warn("retry budget exhausted", zap.Int("attempts", s.opts.MaxAttempts))
	return 0, &core.ConflictError{Key: s.key, Attempts: s.opts.MaxAttempts, Err: lastErr}
}

// delay returns a full-jitter exponential backoff for attempt (>= 2).
func (s *Sequence) delay(attempt int) time.Duration {
	if s.opts.Backoff <= 0 {
		return 0
	}
	d := s.opts.Backoff
	for i := 2; i < attempt && d < s.opts.MaxBackoff; i++ {
		d *= 2
	}
	if d > s.opts.MaxBackoff {
		d = s.opts.MaxBackoff
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
