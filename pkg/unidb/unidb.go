// Package unidb is a uniform CRUD, schema, sequence and association API
// over DynamoDB, Redis, MySQL and an in-process memory store.
//
// Typical usage:
//
//	db, _ := unidb.New(cfg)
//	db.Define("user", map[string]any{
//		"key":        []any{"user_id"},
//		"properties": map[string]any{"user_id": map[string]any{"type": "string"}},
//	})
//	db.Connect(ctx)
//	db.Setup(ctx)
//	defer db.Close(ctx)
//
//	users, _ := db.Table("user")
//	users.Set(ctx, map[string]any{"user_id": "U1"})
//	users.Get(ctx, unidb.Conditions{"user_id": "U1"})
package unidb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/adapter"
	"github.com/rzpsarthak13/unidb/internal/changefeed"
	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/registry"
	"github.com/rzpsarthak13/unidb/internal/sequence"
	"github.com/rzpsarthak13/unidb/internal/suite"
)

// Option configures New.
type Option func(*settings)

type settings struct {
	logger  *zap.Logger
	adapter core.Adapter
	sink    changefeed.Sink
	hooks   []registry.SyncHook
}

// WithLogger sets the parent logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithAdapter uses a ready adapter instead of creating one from the
// adapter config section.
func WithAdapter(a core.Adapter) Option {
	return func(s *settings) { s.adapter = a }
}

// WithSink sets where the change feed drainer delivers events.
func WithSink(sink changefeed.Sink) Option {
	return func(s *settings) { s.sink = sink }
}

// WithSyncHook runs hook for every table materialized by Sync.
func WithSyncHook(hook registry.SyncHook) Option {
	return func(s *settings) { s.hooks = append(s.hooks, hook) }
}

// DB is the entry point: it owns the adapter, the schema definitions and
// the table handles built from them.
type DB struct {
	cfg     *Config
	adapter core.Adapter
	defs    *registry.Definitions
	tables  *registry.TableRegistry
	feed    *changefeed.Feed
	logger  *zap.Logger

	mu     sync.Mutex
	suites map[string]*suite.Suite
}

// New creates a DB. A nil cfg means DefaultConfig.
func New(cfg *Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := s.adapter
	if a == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		acfg := cfg.Adapter
		acfg.Logger = logger
		created, err := adapter.Create(acfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", acfg.Type, err)
		}
		a = created
	} else if err := cfg.validateRest(); err != nil {
		return nil, err
	}

	var feed *changefeed.Feed
	var publisher changefeed.Publisher
	if cfg.Changefeed.Enabled {
		f, err := changefeed.NewFeed(cfg.Changefeed, s.sink, logger.Named("changefeed"))
		if err != nil {
			return nil, err
		}
		feed, publisher = f, f
	}

	lifecycle := registry.NewLifecycleManager()
	for _, hook := range s.hooks {
		lifecycle.RegisterHook(hook)
	}

	defs := registry.NewDefinitions()
	db := &DB{
		cfg:     cfg,
		adapter: a,
		defs:    defs,
		feed:    feed,
		logger:  logger,
		suites:  make(map[string]*suite.Suite),
		tables: registry.NewTableRegistry(a, defs, registry.Options{
			Tables:    cfg.Tables,
			Publisher: publisher,
			Lifecycle: lifecycle,
			Logger:    logger,
		}),
	}
	logger.Debug("database created",
		zap.String("adapter", a.Type()),
		zap.Bool("changefeed", feed != nil))
	return db, nil
}

// Define registers a schema definition, or merges it into an earlier
// one: nested objects merge and lists and scalars replace. definition is
// a map[string]any tree or a node tree read from a schema file.
func (db *DB) Define(name string, definition any) error {
	return db.defs.Define(name, core.NodeOf(definition))
}

// DefineMany registers several definitions in name order.
func (db *DB) DefineMany(definitions map[string]any) error {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := db.Define(name, definitions[name]); err != nil {
			return err
		}
	}
	return nil
}

// LoadSchemaFile defines every table in a YAML schema file, in file order.
func (db *DB) LoadSchemaFile(path string) error {
	schemas, err := registry.LoadSchemaFile(path)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if err := db.defs.Define(s.Name, s.Definition); err != nil {
			return err
		}
	}
	return nil
}

// Connect opens the adapter connection.
func (db *DB) Connect(ctx context.Context) error {
	if err := db.adapter.Connect(ctx); err != nil {
		return core.WrapAdapter(db.adapter.Type(), "connect", "", err)
	}
	return nil
}

// Disconnect closes the adapter connection. It is a no-op before Connect.
func (db *DB) Disconnect(ctx context.Context) error {
	if err := db.adapter.Disconnect(ctx); err != nil {
		return core.WrapAdapter(db.adapter.Type(), "disconnect", "", err)
	}
	return nil
}

// Connection returns the adapter's native client, or nil when not
// connected.
func (db *DB) Connection() any {
	return db.adapter.Connection()
}

// Adapter returns the backing adapter.
func (db *DB) Adapter() core.Adapter {
	return db.adapter
}

// Setup materializes every defined schema. Calling it again only syncs
// definitions added or changed since the last call.
func (db *DB) Setup(ctx context.Context) error {
	return db.tables.Sync(ctx)
}

// Sync is an alias of Setup.
func (db *DB) Sync(ctx context.Context) error {
	return db.Setup(ctx)
}

// Table returns the handle of a synced table.
func (db *DB) Table(name string) (*Table, error) {
	return db.tables.Table(name)
}

// Tables returns the synced table names in definition order.
func (db *DB) Tables() []string {
	return db.tables.Names()
}

// Suite returns the suite owned by entity name, creating it on first use.
func (db *DB) Suite(name string) *Suite {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.suites[name]
	if !ok {
		s = suite.New(name, db.tables, db.logger)
		db.suites[name] = s
	}
	return s
}

// Sequence returns the counter stored under key.
func (db *DB) Sequence(key string) *Sequence {
	return sequence.New(db.adapter.Sequences(), key, db.cfg.Sequence, db.logger)
}

// Feed returns the change feed, or nil when it is disabled.
func (db *DB) Feed() *changefeed.Feed {
	return db.feed
}

// Start starts the change feed drainer. It does nothing when the feed is
// disabled.
func (db *DB) Start(ctx context.Context) error {
	if db.feed == nil {
		return nil
	}
	return db.feed.Start(ctx)
}

// Close stops the change feed and disconnects the adapter.
func (db *DB) Close(ctx context.Context) error {
	var errs []error
	if db.feed != nil {
		if err := db.feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close changefeed: %w", err))
		}
	}
	if err := db.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
