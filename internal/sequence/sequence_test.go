package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/adapter"
	"github.com/rzpsarthak13/unidb/internal/core"
)

// scriptedStore loses the first conflicts swaps, as if another caller
// won each race.
type scriptedStore struct {
	mu        sync.Mutex
	value     int64
	exists    bool
	conflicts int
	swaps     int
	readErr   error
}

func (s *scriptedStore) Read(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.exists, s.readErr
}

func (s *scriptedStore) CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
	if s.conflicts > 0 {
		s.conflicts--
		s.value++
		s.exists = true
		return fmt.Errorf("lost race: %w", core.ErrConditionFailed)
	}
	if exists != s.exists || expected != s.value {
		return core.ErrConditionFailed
	}
	s.value, s.exists = next, true
	return nil
}

type incrementStore struct {
	scriptedStore
	calls int
}

func (s *incrementStore) Increment(ctx context.Context, key string) (int64, error) {
	s.calls++
	s.value++
	return s.value, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestGetStartsAtOne(t *testing.T) {
	store := &scriptedStore{}
	seq := New(store, "orders", DefaultOptions(), nil)
	seq.sleep = noSleep

	for want := int64(1); want <= 3; want++ {
		got, err := seq.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "orders", seq.Key())
}

func TestGetRetriesConflicts(t *testing.T) {
	store := &scriptedStore{conflicts: 3}
	seq := New(store, "orders", DefaultOptions(), nil)
	seq.sleep = noSleep

	got, err := seq.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), got, "three values were taken by other callers")
	assert.Equal(t, 4, store.swaps)
}

func TestGetConflictBudget(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
	}{
		{"single attempt", 1},
		{"bounded", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &scriptedStore{conflicts: 100}
			seq := New(store, "orders", Options{MaxAttempts: tt.attempts}, nil)
			seq.sleep = noSleep

			_, err := seq.Get(context.Background())
			var conflict *core.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, "orders", conflict.Key)
			assert.Equal(t, tt.attempts, conflict.Attempts)
			assert.ErrorIs(t, err, core.ErrConditionFailed)
			assert.Equal(t, tt.attempts, store.swaps)
		})
	}
}

func TestGetPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	seq := New(&scriptedStore{readErr: boom}, "orders", DefaultOptions(), nil)
	_, err := seq.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	var conflict *core.ConflictError
	assert.False(t, errors.As(err, &conflict))
}

func TestGetStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := New(&scriptedStore{conflicts: 1}, "orders", Options{MaxAttempts: 3, Backoff: time.Hour}, nil)
	_, err := seq.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetUsesIncrementer(t *testing.T) {
	store := &incrementStore{}
	seq := New(store, "orders", DefaultOptions(), nil)
	got, err := seq.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
	assert.Equal(t, 1, store.calls)
	assert.Zero(t, store.swaps)
}

func TestDelay(t *testing.T) {
	seq := New(&scriptedStore{}, "k", Options{Backoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}, nil)
	for attempt := 2; attempt < 10; attempt++ {
		d := seq.delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
	assert.Zero(t, New(&scriptedStore{}, "k", Options{}, nil).delay(2))
}

func TestConcurrentCallersReceiveDistinctValues(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemoryAdapter(nil)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Sync(ctx))

	const callers = 40
	opts := Options{MaxAttempts: 10000, Backoff: 50 * time.Microsecond, MaxBackoff: time.Millisecond}

	var wg sync.WaitGroup
	results := make([]int64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = New(a.Sequences(), "orders", opts, nil).Get(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, v := range results {
		assert.Equal(t, int64(i+1), v)
	}
}
