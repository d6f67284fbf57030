package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// TypeMemory is the registry identifier of the in-process adapter.
const TypeMemory = "memory"

var memoryVocabulary = vocabularyFor(map[string]string{
	"string":     "string",
	"number":     "number",
	"boolean":    "bool",
	"datetime":   "time",
	"identifier": "string",
	"binary":     "bytes",
	"collection": "list",
	"structure":  "map",
})

// MemoryAdapter keeps every table in process. All operations on a table
// run under its lock, which stands in for backend side atomicity.
type MemoryAdapter struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	connected bool
	tables    map[string]*memoryModel
	sequences *memorySequences
}

// NewMemoryAdapter creates an unconnected in-process adapter.
func NewMemoryAdapter(logger *zap.Logger) *MemoryAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &MemoryAdapter{
		logger: logger.Named("adapter.memory"),
		now:    time.Now,
		tables: make(map[string]*memoryModel),
	}
	a.sequences = &memorySequences{adapter: a}
	return a
}

// Type returns the registry identifier.
func (a *MemoryAdapter) Type() string { return TypeMemory }

// Connect marks the adapter connected.
func (a *MemoryAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	a.logger.Debug("connected")
	return nil
}

// Disconnect marks the adapter disconnected. Stored data is kept.
func (a *MemoryAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// Connection returns the adapter itself once connected.
func (a *MemoryAdapter) Connection() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil
	}
	return a
}

// Vocabulary returns the Go kind table.
func (a *MemoryAdapter) Vocabulary() core.TypeVocabulary { return memoryVocabulary }

// IndexStyle returns the document style.
func (a *MemoryAdapter) IndexStyle() core.IndexStyle { return core.IndexStyleDocument }

// Define registers spec. Redefining a table keeps its records.
func (a *MemoryAdapter) Define(ctx context.Context, spec *core.TableSpec) (core.Model, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defineLocked(spec), nil
}

func (a *MemoryAdapter) defineLocked(spec *core.TableSpec) *memoryModel {
	if m, ok := a.tables[spec.Name]; ok {
		m.mu.Lock()
		m.spec = spec
		m.mu.Unlock()
		return m
	}
	m := &memoryModel{adapter: a, spec: spec, rows: make(map[string]memoryRow)}
	a.tables[spec.Name] = m
	return m
}

// Sync defines the sequence table. Other tables need no materializing.
func (a *MemoryAdapter) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return core.ErrNotConnected
	}
	if _, ok := a.tables[SequenceTable]; !ok {
		a.defineLocked(sequenceSpec(memoryVocabulary))
	}
	a.logger.Debug("synced", zap.Int("tables", len(a.tables)))
	return nil
}

// Sequences returns the compare-and-swap sequence store.
func (a *MemoryAdapter) Sequences() core.SequenceStore { return a.sequences }

func (a *MemoryAdapter) checkConnected() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return core.ErrNotConnected
	}
	return nil
}

func (a *MemoryAdapter) table(name string) (*memoryModel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, core.ErrNotConnected
	}
	m, ok := a.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotSynced, name)
	}
	return m, nil
}

type memoryRow struct {
	record  core.Record
	expires time.Time
}

func (r memoryRow) expired(now time.Time) bool {
	return !r.expires.IsZero() && !now.Before(r.expires)
}

type memoryModel struct {
	adapter *MemoryAdapter

	mu   sync.RWMutex
	spec *core.TableSpec
	rows map[string]memoryRow
}

func (m *memoryModel) Spec() *core.TableSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spec
}

func (m *memoryModel) Count(ctx context.Context, conditions core.Conditions, opts core.Options) (int64, error) {
	records, err := m.Find(ctx, conditions, core.Options{Consistency: opts.Consistency})
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

func (m *memoryModel) Find(ctx context.Context, conditions core.Conditions, opts core.Options) ([]core.Record, error) {
	if err := m.adapter.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.adapter.now()
	m.mu.RLock()
	var out []core.Record
	for _, row := range m.rows {
		if row.expired(now) || !core.Match(row.record, conditions) {
			continue
		}
		out = append(out, copyRecord(row.record))
	}
	spec := m.spec
	m.mu.RUnlock()

	sortByKey(spec, out)
	return finish(out, opts), nil
}

func (m *memoryModel) Upsert(ctx context.Context, record core.Record, opts core.Options) (core.Record, error) {
	if err := m.adapter.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.spec.KeyOf(record)
	if !ok {
		return nil, fmt.Errorf("record is missing key fields %v", m.spec.Key)
	}
	stored := copyRecord(record)
	m.rows[recordKey(values)] = memoryRow{
		record:  stored,
		expires: expiresAt(m.adapter.now(), opts.TTLValue()),
	}
	m.adapter.logger.Debug("upsert",
		zap.String("table", m.spec.Name),
		zap.Any("key", values),
		zap.Duration("ttl", opts.TTLValue()),
	)
	return copyRecord(stored), nil
}

func (m *memoryModel) Delete(ctx context.Context, conditions core.Conditions, opts core.Options) error {
	if err := m.adapter.checkConnected(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, row := range m.rows {
		if core.Match(row.record, conditions) {
			delete(m.rows, k)
			removed++
		}
	}
	m.adapter.logger.Debug("delete", zap.String("table", m.spec.Name), zap.Int("removed", removed))
	return nil
}

// memorySequences stores counters as rows of the sequence table. Read
// and CompareAndSwap take the lock separately, so concurrent callers
// genuinely race on the swap.
type memorySequences struct {
	adapter *MemoryAdapter
}

func (s *memorySequences) model() (*memoryModel, error) {
	return s.adapter.table(SequenceTable)
}

func (s *memorySequences) Read(ctx context.Context, key string) (int64, bool, error) {
	m, err := s.model()
	if err != nil {
		return 0, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[recordKey([]any{key})]
	if !ok {
		return 0, false, nil
	}
	v, _ := core.NormalizeNumber(row.record[sequenceValueField]).(int64)
	return v, true, nil
}

func (s *memorySequences) CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error {
	m, err := s.model()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := recordKey([]any{key})
	row, ok := m.rows[id]
	switch {
	case !exists && ok:
		return fmt.Errorf("sequence %s already exists: %w", key, core.ErrConditionFailed)
	case exists && !ok:
		return fmt.Errorf("sequence %s does not exist: %w", key, core.ErrConditionFailed)
	case exists:
		if current, _ := core.NormalizeNumber(row.record[sequenceValueField]).(int64); current != expected {
			return fmt.Errorf("sequence %s holds %d, expected %d: %w", key, current, expected, core.ErrConditionFailed)
		}
	}
	m.rows[id] = memoryRow{record: core.Record{sequenceKeyField: key, sequenceValueField: next}}
	return nil
}

// MemoryAdapterFactory creates memory adapters.
type MemoryAdapterFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryAdapterFactory) Type() string { return TypeMemory }

// Validate accepts any configuration of type memory.
func (f *MemoryAdapterFactory) Validate(config Config) error {
	if config.Type != TypeMemory {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create creates a new memory adapter.
func (f *MemoryAdapterFactory) Create(config Config) (core.Adapter, error) {
	return NewMemoryAdapter(config.logger()), nil
}

func init() {
	RegisterFactory(&MemoryAdapterFactory{})
}
