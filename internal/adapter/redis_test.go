package adapter

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/core"
)

type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	ttls    map[string]time.Duration
	sets    map[string]map[string]bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string]string),
		ttls:    make(map[string]time.Duration),
		sets:    make(map[string]map[string]bool),
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(keys))
	for i, k := range keys {
		if v, ok := f.strings[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.strings[key], 10, 64)
	n++
	f.strings[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

// Eval runs compareAndSetScript.
func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, exists := f.strings[keys[0]]
	if args[0] == "0" && exists || args[0] == "1" && v != args[1] {
		return redis.NewCmdResult(int64(0), nil)
	}
	f.strings[keys[0]] = args[2].(string)
	return redis.NewCmdResult(int64(1), nil)
}

func newRedis(t *testing.T) (*RedisAdapter, *fakeRedis, core.Model) {
	t.Helper()
	fake := newFakeRedis()
	a := NewRedisAdapter(RedisConfig{Addr: "fake"}, "app:", nil)
	a.client = fake
	m, err := a.Define(context.Background(), userItemSpec())
	require.NoError(t, err)
	require.NoError(t, a.Sync(context.Background()))
	return a, fake, m
}

func TestRedisCRUD(t *testing.T) {
	ctx := context.Background()
	_, fake, m := newRedis(t)

	ttl := time.Hour
	_, err := m.Upsert(ctx, core.Record{"user_id": "U1", "item_id": "I1", "amount": int64(2)}, core.Options{TTL: &ttl})
	require.NoError(t, err)
	_, err = m.Upsert(ctx, core.Record{"user_id": "U1", "item_id": "I2", "data": map[string]any{"k": "v"}}, core.Options{})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, fake.ttls["app:user_item:U1:I1"])
	assert.Equal(t, time.Duration(0), fake.ttls["app:user_item:U1:I2"])
	assert.Len(t, fake.sets["app:user_item:_ids"], 2)

	got, err := m.Find(ctx, core.Conditions{"user_id": "U1", "item_id": "I1"}, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"user_id": "U1", "item_id": "I1", "amount": int64(2)}}, got)

	got, err = m.Find(ctx, core.Conditions{"user_id": "U1"}, core.Options{Projection: []string{"item_id"}})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"item_id": "I1"}, {"item_id": "I2"}}, got)

	n, err := m.Count(ctx, core.Conditions{"amount": map[string]any{"$lt": 5}}, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, m.Delete(ctx, core.Conditions{"item_id": "I1"}, core.Options{}))
	assert.NotContains(t, fake.strings, "app:user_item:U1:I1")
	assert.Len(t, fake.sets["app:user_item:_ids"], 1)
}

func TestRedisPrunesExpiredIDs(t *testing.T) {
	ctx := context.Background()
	_, fake, m := newRedis(t)

	_, err := m.Upsert(ctx, core.Record{"user_id": "U", "item_id": "I"}, core.Options{})
	require.NoError(t, err)
	delete(fake.strings, "app:user_item:U:I")

	got, err := m.Find(ctx, core.Conditions{}, core.Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, fake.sets["app:user_item:_ids"])
}

func TestRedisSequences(t *testing.T) {
	ctx := context.Background()
	a, fake, _ := newRedis(t)
	seq := a.Sequences()

	inc, ok := seq.(core.Incrementer)
	require.True(t, ok)
	v, err := inc.Increment(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, "1", fake.strings["app:__seq:orders"])

	v, exists, err := seq.Read(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(1), v)

	require.NoError(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2))
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2), core.ErrConditionFailed)
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 0, false, 1), core.ErrConditionFailed)

	_, exists, err = seq.Read(ctx, "other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisSequencesApartFromRecords(t *testing.T) {
	ctx := context.Background()
	a, fake, _ := newRedis(t)
	m, err := a.Define(ctx, &core.TableSpec{
		Name:   "sequence",
		Key:    []string{"name"},
		Fields: []core.Field{{Name: "name", Type: "S", Required: true}, {Name: "note", Type: "S"}},
	})
	require.NoError(t, err)

	_, err = m.Upsert(ctx, core.Record{"name": "orders", "note": "kept"}, core.Options{})
	require.NoError(t, err)
	v, err := a.Sequences().(core.Incrementer).Increment(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	assert.Equal(t, "1", fake.strings["app:__seq:orders"])
	got, err := m.Find(ctx, core.Conditions{"name": "orders"}, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"name": "orders", "note": "kept"}}, got)
}

func TestRedisNotConnected(t *testing.T) {
	a := NewRedisAdapter(RedisConfig{Addr: "fake"}, "", nil)
	assert.Nil(t, a.Connection())
	assert.NoError(t, a.Disconnect(context.Background()))
	assert.ErrorIs(t, a.Sync(context.Background()), core.ErrNotConnected)
}
