package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/changefeed"
	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
	"github.com/rzpsarthak13/unidb/internal/table"
)

// TableMetadata describes a materialized table.
type TableMetadata struct {
	// Name is the logical table name.
	Name string

	// Table is the handle data operations go through.
	Table *table.Table

	// Spec is the compiled spec the adapter was given.
	Spec *core.TableSpec

	// Config is the override applied on top of the definition.
	Config TableConfig

	// Timestamps reports whether created_at and updated_at are kept.
	Timestamps bool

	// SyncedAt is when the table was last materialized.
	SyncedAt time.Time
}

// Options configures a TableRegistry.
type Options struct {
	// Tables holds per table overrides keyed by table name.
	Tables map[string]TableConfig

	// Publisher receives change events from every table. Nil disables
	// publishing.
	Publisher changefeed.Publisher

	// Lifecycle runs hooks after each table is synced. Nil means none.
	Lifecycle *LifecycleManager

	// Logger is the parent logger for the registry and its tables.
	Logger *zap.Logger
}

// TableRegistry compiles definitions against an adapter and owns the
// resulting table handles.
type TableRegistry struct {
	adapter   core.Adapter
	defs      *Definitions
	overrides map[string]TableConfig
	publisher changefeed.Publisher
	lifecycle *LifecycleManager
	logger    *zap.Logger
	base      *zap.Logger

	syncMu       sync.Mutex
	materialized bool
	mu           sync.RWMutex
	tables       map[string]*TableMetadata
}

// NewTableRegistry creates a registry for the definitions in defs.
func NewTableRegistry(adapter core.Adapter, defs *Definitions, opts Options) *TableRegistry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lifecycle := opts.Lifecycle
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		adapter:   adapter,
		defs:      defs,
		overrides: opts.Tables,
		publisher: opts.Publisher,
		lifecycle: lifecycle,
		logger:    logger.Named("registry"),
		base:      logger,
		tables:    make(map[string]*TableMetadata),
	}
}

// Lifecycle returns the hook manager.
func (r *TableRegistry) Lifecycle() *LifecycleManager {
	return r.lifecycle
}

// Sync compiles every pending definition, defines it on the adapter and
// materializes the backend. The first call always reaches the adapter so
// its implicit tables exist. Later calls with nothing pending return
// immediately.
func (r *TableRegistry) Sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	pending := r.defs.Pending()
	if len(pending) == 0 && r.materialized {
		r.logger.Debug("nothing to sync")
		return nil
	}

	built := make([]*TableMetadata, 0, len(pending))
	for _, name := range pending {
		meta, err := r.build(ctx, name)
		if err != nil {
			return err
		}
		built = append(built, meta)
	}

	if err := r.adapter.Sync(ctx); err != nil {
		return core.WrapAdapter(r.adapter.Type(), "sync", "", err)
	}
	r.materialized = true

	now := time.Now().UTC()
	for _, meta := range built {
		if err := r.lifecycle.ExecuteSyncHooks(ctx, meta.Name, meta.Spec); err != nil {
			return fmt.Errorf("sync hook failed for table %s: %w", meta.Name, err)
		}
		meta.SyncedAt = now
		r.mu.Lock()
		r.tables[meta.Name] = meta
		r.mu.Unlock()
		r.defs.MarkSynced(meta.Name)
		r.logger.Debug("table synced",
			zap.String("table", meta.Name),
			zap.Strings("key", meta.Spec.Key),
			zap.Duration("ttl", meta.Spec.TTL))
	}
	return nil
}

func (r *TableRegistry) build(ctx context.Context, name string) (*TableMetadata, error) {
	def, ok := r.defs.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTable, name)
	}

	node, timestamps := schema.ApplyTimestamps(def)
	conv := schema.NewConverter(schema.NewTypeMapper(r.adapter.Vocabulary()), r.adapter.IndexStyle())
	spec, err := schema.Compile(name, conv.Convert(node))
	if err != nil {
		return nil, err
	}

	cfg := r.overrides[name]
	if cfg.TTL != nil {
		spec.TTL = cfg.TTL.Duration()
	}

	validator, err := schema.NewSchemaValidator(schema.NewValidatorConverter().Convert(node), spec.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator for table %s: %w", name, err)
	}

	model, err := r.adapter.Define(ctx, spec)
	if err != nil {
		return nil, core.WrapAdapter(r.adapter.Type(), "define", name, err)
	}

	t := table.New(model, validator, table.Config{
		Adapter:     r.adapter.Type(),
		TTL:         spec.TTL,
		Consistency: cfg.Consistency,
		Timestamps:  timestamps,
		Publisher:   r.publisher,
	}, r.base)

	return &TableMetadata{
		Name:       name,
		Table:      t,
		Spec:       spec,
		Config:     cfg,
		Timestamps: timestamps,
	}, nil
}

// Table returns the handle for name. It fails with ErrUnknownTable for a
// name never defined and ErrNotSynced before the first sync of that name.
func (r *TableRegistry) Table(name string) (*table.Table, error) {
	meta, err := r.Metadata(name)
	if err != nil {
		return nil, err
	}
	return meta.Table, nil
}

// Metadata returns a copy of the metadata for name.
func (r *TableRegistry) Metadata(name string) (*TableMetadata, error) {
	r.mu.RLock()
	meta, ok := r.tables[name]
	r.mu.RUnlock()
	if ok {
		cp := *meta
		return &cp, nil
	}
	if r.defs.Has(name) {
		return nil, fmt.Errorf("%w: table %s", core.ErrNotSynced, name)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnknownTable, name)
}

// Names returns the materialized table names in definition order.
func (r *TableRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.defs.Names() {
		if _, ok := r.tables[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
