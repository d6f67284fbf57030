package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// TypeRedis is the registry identifier of the Redis adapter.
const TypeRedis = "redis"

var redisVocabulary = vocabularyFor(map[string]string{
	"string":     "string",
	"number":     "number",
	"boolean":    "boolean",
	"datetime":   "string",
	"identifier": "string",
	"binary":     "string",
	"collection": "array",
	"structure":  "object",
})

// compareAndSetScript swaps KEYS[1] to ARGV[3] when it is absent
// (ARGV[1] == "0") or holds ARGV[2]. It returns 1 on success.
const compareAndSetScript = `
local v = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if v then return 0 end
elseif v ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
return 1
`

// redisClient is the subset of *redis.Client the adapter uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisAdapter stores records as JSON documents. Each table keeps a set
// of its live document keys so it can be scanned without KEYS.
type RedisAdapter struct {
	cfg        RedisConfig
	prefix     string
	logger     *zap.Logger
	translator *schema.Translator

	mu     sync.RWMutex
	native *redis.Client
	client redisClient
	models map[string]*redisModel
}

// NewRedisAdapter creates an unconnected Redis adapter.
func NewRedisAdapter(cfg RedisConfig, prefix string, logger *zap.Logger) *RedisAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisAdapter{
		cfg:        cfg,
		prefix:     prefix,
		logger:     logger.Named("adapter.redis"),
		translator: schema.NewTranslator(prefix),
		models:     make(map[string]*redisModel),
	}
}

// Type returns the registry identifier.
func (a *RedisAdapter) Type() string { return TypeRedis }

// Connect opens the client and pings the server.
func (a *RedisAdapter) Connect(ctx context.Context) error {
	dialTimeout := a.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         a.cfg.Addr,
		Password:     a.cfg.Password,
		DB:           a.cfg.DB,
		PoolSize:     a.cfg.PoolSize,
		MinIdleConns: a.cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	a.mu.Lock()
	a.native = client
	a.client = client
	a.mu.Unlock()
	a.logger.Info("connected", zap.String("addr", a.cfg.Addr), zap.Int("db", a.cfg.DB))
	return nil
}

// Disconnect closes the client. It is a no-op before Connect.
func (a *RedisAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	native := a.native
	a.native = nil
	a.client = nil
	a.mu.Unlock()
	if native == nil {
		return nil
	}
	if err := native.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return nil
}

// Connection returns the *redis.Client, or nil before Connect.
func (a *RedisAdapter) Connection() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil
	}
	if a.native != nil {
		return a.native
	}
	return a.client
}

// Vocabulary returns the JSON kind table.
func (a *RedisAdapter) Vocabulary() core.TypeVocabulary { return redisVocabulary }

// IndexStyle returns the document style.
func (a *RedisAdapter) IndexStyle() core.IndexStyle { return core.IndexStyleDocument }

// Define registers spec.
func (a *RedisAdapter) Define(ctx context.Context, spec *core.TableSpec) (core.Model, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.models[spec.Name]
	if !ok {
		m = &redisModel{adapter: a}
		a.models[spec.Name] = m
	}
	m.spec = spec
	return m, nil
}

// Sync needs no materializing. Unique indexes are not enforced by the
// document store and are only reported.
func (a *RedisAdapter) Sync(ctx context.Context) error {
	if _, err := a.getClient(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for name, m := range a.models {
		for _, idx := range m.spec.Indexes {
			if idx.Unique {
				a.logger.Warn("unique index not enforced", zap.String("table", name), zap.String("index", idx.Name))
			}
		}
	}
	return nil
}

// Sequences returns the INCR backed sequence store.
func (a *RedisAdapter) Sequences() core.SequenceStore {
	return &redisSequences{adapter: a}
}

func (a *RedisAdapter) getClient() (redisClient, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, core.ErrNotConnected
	}
	return a.client, nil
}

type redisModel struct {
	adapter *RedisAdapter
	spec    *core.TableSpec
}

func (m *redisModel) Spec() *core.TableSpec { return m.spec }

func (m *redisModel) Count(ctx context.Context, conditions core.Conditions, opts core.Options) (int64, error) {
	records, err := m.Find(ctx, conditions, core.Options{Consistency: opts.Consistency})
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// exactKey returns the document key when every key field has an
// equality condition.
func (m *redisModel) exactKey(conditions core.Conditions) (string, bool) {
	values := make([]any, len(m.spec.Key))
	for i, k := range m.spec.Key {
		v, ok := conditions.Equal(k)
		if !ok {
			return "", false
		}
		values[i] = v
	}
	return m.adapter.translator.Key(m.spec, values), true
}

func (m *redisModel) Find(ctx context.Context, conditions core.Conditions, opts core.Options) ([]core.Record, error) {
	client, err := m.adapter.getClient()
	if err != nil {
		return nil, err
	}

	var ids []string
	if key, ok := m.exactKey(conditions); ok {
		ids = []string{key}
	} else {
		ids, err = client.SMembers(ctx, m.adapter.translator.SetKey(m.spec)).Result()
		if err != nil {
			return nil, core.WrapAdapter(TypeRedis, "smembers", m.spec.Name, err)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := client.MGet(ctx, ids...).Result()
	if err != nil {
		return nil, core.WrapAdapter(TypeRedis, "mget", m.spec.Name, err)
	}

	var records []core.Record
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		record, err := m.adapter.translator.FromKV([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", ids[i], err)
		}
		if core.Match(record, conditions) {
			records = append(records, record)
		}
	}
	if len(stale) > 0 {
		// expired documents leave their id behind
		if err := client.SRem(ctx, m.adapter.translator.SetKey(m.spec), stale...).Err(); err != nil {
			m.adapter.logger.Warn("failed to prune ids", zap.String("table", m.spec.Name), zap.Error(err))
		}
	}

	sortByKey(m.spec, records)
	return finish(records, opts), nil
}

func (m *redisModel) Upsert(ctx context.Context, record core.Record, opts core.Options) (core.Record, error) {
	client, err := m.adapter.getClient()
	if err != nil {
		return nil, err
	}
	key, value, err := m.adapter.translator.ToKV(record, m.spec)
	if err != nil {
		return nil, err
	}
	if err := client.Set(ctx, key, value, opts.TTLValue()).Err(); err != nil {
		return nil, core.WrapAdapter(TypeRedis, "set", m.spec.Name, err)
	}
	if err := client.SAdd(ctx, m.adapter.translator.SetKey(m.spec), key).Err(); err != nil {
		return nil, core.WrapAdapter(TypeRedis, "sadd", m.spec.Name, err)
	}
	m.adapter.logger.Debug("set", zap.String("key", key), zap.Int("bytes", len(value)), zap.Duration("ttl", opts.TTLValue()))
	return copyRecord(record), nil
}

func (m *redisModel) Delete(ctx context.Context, conditions core.Conditions, opts core.Options) error {
	client, err := m.adapter.getClient()
	if err != nil {
		return err
	}
	records, err := m.Find(ctx, conditions, core.Options{})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records))
	members := make([]any, 0, len(records))
	for _, r := range records {
		values, _ := m.spec.KeyOf(r)
		key := m.adapter.translator.Key(m.spec, values)
		keys = append(keys, key)
		members = append(members, key)
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return core.WrapAdapter(TypeRedis, "del", m.spec.Name, err)
	}
	if err := client.SRem(ctx, m.adapter.translator.SetKey(m.spec), members...).Err(); err != nil {
		return core.WrapAdapter(TypeRedis, "srem", m.spec.Name, err)
	}
	m.adapter.logger.Debug("delete", zap.String("table", m.spec.Name), zap.Int("removed", len(keys)))
	return nil
}

// redisSequenceNamespace keeps counters apart from record keys, which
// start with a table name.
const redisSequenceNamespace = "__seq:"

// redisSequences keeps each counter in its own string key.
type redisSequences struct {
	adapter *RedisAdapter
}

func (s *redisSequences) key(name string) string {
	return s.adapter.prefix + redisSequenceNamespace + name
}

func (s *redisSequences) Read(ctx context.Context, key string) (int64, bool, error) {
	client, err := s.adapter.getClient()
	if err != nil {
		return 0, false, err
	}
	v, err := client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, core.WrapAdapter(TypeRedis, "sequence.read", SequenceTable, err)
	}
	return v, true, nil
}

func (s *redisSequences) CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error {
	client, err := s.adapter.getClient()
	if err != nil {
		return err
	}
	flag := "0"
	if exists {
		flag = "1"
	}
	ok, err := client.Eval(ctx, compareAndSetScript, []string{s.key(key)},
		flag, strconv.FormatInt(expected, 10), strconv.FormatInt(next, 10)).Int64()
	if err != nil {
		return core.WrapAdapter(TypeRedis, "sequence.swap", SequenceTable, err)
	}
	if ok != 1 {
		return fmt.Errorf("sequence %s: %w", key, core.ErrConditionFailed)
	}
	return nil
}

// Increment implements core.Incrementer with INCR.
func (s *redisSequences) Increment(ctx context.Context, key string) (int64, error) {
	client, err := s.adapter.getClient()
	if err != nil {
		return 0, err
	}
	v, err := client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, core.WrapAdapter(TypeRedis, "sequence.incr", SequenceTable, err)
	}
	return v, nil
}

// RedisAdapterFactory creates Redis adapters.
type RedisAdapterFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisAdapterFactory) Type() string { return TypeRedis }

// Validate validates the Redis-specific configuration.
func (f *RedisAdapterFactory) Validate(config Config) error {
	if config.Type != TypeRedis {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	if config.Redis.Addr == "" {
		return fmt.Errorf("addr is required for Redis")
	}
	if config.Redis.DB < 0 {
		return fmt.Errorf("db must be non-negative, got: %d", config.Redis.DB)
	}
	return nil
}

// Create creates a new Redis adapter.
func (f *RedisAdapterFactory) Create(config Config) (core.Adapter, error) {
	return NewRedisAdapter(config.Redis, config.Prefix, config.logger()), nil
}

func init() {
	RegisterFactory(&RedisAdapterFactory{})
}
