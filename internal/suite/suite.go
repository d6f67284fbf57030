// Package suite groups tables owned by one entity and hands out per id
// views over them.
//
// A suite named "user" owns relations such as "user_item". Every
// relation table carries the owner foreign key user_id, and an Entity
// created for id 42 scopes each relation to user_id = 42.
package suite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/table"
)

// Tables resolves a logical table name to its handle.
type Tables interface {
	Table(name string) (*table.Table, error)
}

// Suite is a set of relations sharing an owner foreign key.
type Suite struct {
	name   string
	tables Tables
	logger *zap.Logger

	mu        sync.RWMutex
	relations []string
}

// New creates an empty suite.
func New(name string, tables Tables, logger *zap.Logger) *Suite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suite{
		name:   name,
		tables: tables,
		logger: logger.Named("suite").Named(name),
	}
}

// Name returns the owning entity name.
func (s *Suite) Name() string { return s.name }

// ForeignKey returns the owner field every relation is scoped by.
func (s *Suite) ForeignKey() string {
	return SnakeCase(s.name) + "_id"
}

// Add registers a relation. Adding a relation twice has no effect.
func (s *Suite) Add(tableName string) *Suite {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.relations {
		if r == tableName {
			return s
		}
	}
	s.relations = append(s.relations, tableName)
	return s
}

// Relations returns the registered relation names in insertion order.
func (s *Suite) Relations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.relations...)
}

// Accessor returns the relation name with the suite name stripped as a
// prefix: user_item in suite user gives item.
func (s *Suite) Accessor(relation string) string {
	prefix := SnakeCase(s.name) + "_"
	if strings.HasPrefix(relation, prefix) && len(relation) > len(prefix) {
		return relation[len(prefix):]
	}
	return relation
}

// Create binds every relation to id. It fails if a relation table is
// unknown or not yet set up.
func (s *Suite) Create(id any) (*Entity, error) {
	fk := s.ForeignKey()
	e := &Entity{
		id:        id,
		suite:     s.name,
		relations: make(map[string]*Relation),
	}
	for _, name := range s.Relations() {
		t, err := s.tables.Table(name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve relation %s of suite %s: %w", name, s.name, err)
		}
		r := newRelation(name, s.Accessor(name), fk, id, t)
		e.order = append(e.order, name)
		e.relations[name] = r
		if r.Accessor != name {
			if _, taken := e.relations[r.Accessor]; !taken {
				e.relations[r.Accessor] = r
			}
		}
	}
	s.logger.Debug("entity created", zap.Any("id", id), zap.Int("relations", len(e.order)))
	return e, nil
}

// Relation is the capability triple bound to one relation of an entity.
type Relation struct {
	// Name is the relation table name.
	Name string

	// Accessor is the name with the suite prefix stripped.
	Accessor string

	// Many is true when the table key has more than one field, so Get
	// returns []core.Record instead of a single core.Record.
	Many bool

	// Get reads records owned by the entity. Positional values match
	// the remaining key fields in order; a nil value leaves its field
	// unconstrained. table.Option values may be mixed in.
	Get func(ctx context.Context, args ...any) (any, error)

	// Set writes document with the owner key forced to the entity id.
	Set func(ctx context.Context, document map[string]any, opts ...table.Option) (core.Record, error)

	// Remove deletes records selected the same way as Get.
	Remove func(ctx context.Context, args ...any) error

	// Conditions returns the conditions Get and Remove use for args.
	Conditions func(args ...any) core.Conditions
}

func newRelation(name, accessor, fk string, id any, t *table.Table) *Relation {
	var rest []string
	for _, k := range t.Key() {
		if k != fk {
			rest = append(rest, k)
		}
	}

	conditions := func(args ...any) core.Conditions {
		c := core.Conditions{fk: id}
		for i, v := range args {
			if i >= len(rest) {
				break
			}
			if v == nil {
				continue
			}
			values := []any{v}
			if _, isBytes := v.([]byte); !isBytes {
				values = core.ToSlice(v)
			}
			c[rest[i]] = map[string]any{core.OpIn: values}
		}
		return c
	}

	r := &Relation{
		Name:       name,
		Accessor:   accessor,
		Many:       len(t.Key()) > 1,
		Conditions: conditions,
	}
	r.Get = func(ctx context.Context, args ...any) (any, error) {
		values, opts := splitArgs(args)
		if r.Many {
			return t.Find(ctx, conditions(values...), opts...)
		}
		return t.Get(ctx, conditions(values...), opts...)
	}
	r.Set = func(ctx context.Context, document map[string]any, opts ...table.Option) (core.Record, error) {
		doc := make(map[string]any, len(document)+1)
		for k, v := range document {
			doc[k] = v
		}
		doc[fk] = id
		return t.Set(ctx, doc, opts...)
	}
	r.Remove = func(ctx context.Context, args ...any) error {
		values, opts := splitArgs(args)
		return t.Remove(ctx, conditions(values...), opts...)
	}
	return r
}

func splitArgs(args []any) ([]any, []table.Option) {
	var values []any
	var opts []table.Option
	for _, a := range args {
		if opt, ok := a.(table.Option); ok {
			opts = append(opts, opt)
			continue
		}
		values = append(values, a)
	}
	return values, opts
}

// Entity is a view of one owner id across every relation of a suite. It
// is never persisted.
type Entity struct {
	id        any
	suite     string
	order     []string
	relations map[string]*Relation
}

// ID returns the owner id the entity is bound to.
func (e *Entity) ID() any { return e.id }

// Relations returns the relation names in registration order.
func (e *Entity) Relations() []string { return append([]string(nil), e.order...) }

// Relation looks up a relation by table name or accessor name.
func (e *Entity) Relation(name string) (*Relation, error) {
	r, ok := e.relations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in suite %s", core.ErrUnknownRelation, name, e.suite)
	}
	return r, nil
}

// Get runs the named relation getter.
func (e *Entity) Get(ctx context.Context, name string, args ...any) (any, error) {
	r, err := e.Relation(name)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, args...)
}

// Set runs the named relation setter.
func (e *Entity) Set(ctx context.Context, name string, document map[string]any, opts ...table.Option) (core.Record, error) {
	r, err := e.Relation(name)
	if err != nil {
		return nil, err
	}
	return r.Set(ctx, document, opts...)
}

// Remove runs the named relation deleter.
func (e *Entity) Remove(ctx context.Context, name string, args ...any) error {
	r, err := e.Relation(name)
	if err != nil {
		return err
	}
	return r.Remove(ctx, args...)
}

// SnakeCase converts a camel or pascal case name to snake case. Names
// already in snake case are returned unchanged.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' &&
				(unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
					(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DisplayName formats an accessor for display: item_detail gives
// ItemDetail.
func DisplayName(accessor string) string {
	var b strings.Builder
	for _, part := range strings.Split(accessor, "_") {
		if part == "" {
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}
