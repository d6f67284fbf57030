// Package table is the CRUD façade over one logical table. It applies the
// field whitelist, defaults, timestamps and validation before a write and
// resolves TTL and consistency for every call.
package table

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/changefeed"
	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// Config holds the per table settings resolved at setup.
type Config struct {
	// Adapter is the adapter type, used to classify backend errors.
	Adapter string

	// TTL is the default record lifetime. Zero disables expiry.
	TTL time.Duration

	// Consistency is the level used when a call does not set one.
	Consistency string

	// Timestamps maintains created_at and updated_at on every Set.
	Timestamps bool

	// Publisher receives change events. Nil disables publishing.
	Publisher changefeed.Publisher
}

// Table is the handle for one logical table. It is created once at setup
// and is safe for concurrent use.
type Table struct {
	name      string
	spec      *core.TableSpec
	model     core.Model
	validator *schema.SchemaValidator
	cfg       Config
	fields    map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a table handle over model. A nil validator skips validation.
func New(model core.Model, validator *schema.SchemaValidator, cfg Config, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := model.Spec()
	fields := make(map[string]struct{}, len(spec.Fields))
	for _, f := range spec.Fields {
		fields[f.Name] = struct{}{}
	}
	return &Table{
		name:      spec.Name,
		spec:      spec,
		model:     model,
		validator: validator,
		cfg:       cfg,
		fields:    fields,
		logger:    logger.Named("table").Named(spec.Name),
		now:       time.Now,
	}
}

// Name returns the logical table name.
func (t *Table) Name() string { return t.name }

// Spec returns the compiled table spec.
func (t *Table) Spec() *core.TableSpec { return t.spec }

// Key returns the composite key fields.
func (t *Table) Key() []string { return append([]string(nil), t.spec.Key...) }

// Fields returns the field whitelist in declaration order.
func (t *Table) Fields() []string { return t.spec.FieldNames() }

// TTL returns the default record lifetime.
func (t *Table) TTL() time.Duration { return t.cfg.TTL }

// Validate checks data against the table schema and returns nil when it
// is valid.
func (t *Table) Validate(_ context.Context, data map[string]any) []core.ErrorDescriptor {
	if t.validator == nil {
		return nil
	}
	errs := t.validator.ValidateRecord(data)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Count returns the number of records matching conditions.
func (t *Table) Count(ctx context.Context, conditions core.Conditions, opts ...Option) (int64, error) {
	o := t.options(opts)
	n, err := t.model.Count(ctx, conditions, o)
	if err != nil {
		return 0, core.WrapAdapter(t.cfg.Adapter, "count", t.name, err)
	}
	return n, nil
}

// Find returns every record matching conditions. No match is an empty
// result, not an error.
func (t *Table) Find(ctx context.Context, conditions core.Conditions, opts ...Option) ([]core.Record, error) {
	o := t.options(opts)
	records, err := t.model.Find(ctx, conditions, o)
	if err != nil {
		return nil, core.WrapAdapter(t.cfg.Adapter, "find", t.name, err)
	}
	out := make([]core.Record, len(records))
	for i, r := range records {
		out[i] = t.restrict(r, o.Projection)
	}
	t.logger.Debug("find", zap.Any("conditions", conditions), zap.Int("records", len(out)))
	return out, nil
}

// Get returns the first record matching conditions, or nil when none
// does.
func (t *Table) Get(ctx context.Context, conditions core.Conditions, opts ...Option) (core.Record, error) {
	records, err := t.Find(ctx, conditions, append(append([]Option(nil), opts...), WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Set upserts document by its composite key and returns the stored
// record. Unknown fields are dropped and defaults filled in before
// validation. An invalid document is never written.
func (t *Table) Set(ctx context.Context, document map[string]any, opts ...Option) (core.Record, error) {
	o := t.options(opts)

	doc := t.restrict(document, nil)
	t.applyDefaults(doc)
	if t.cfg.Timestamps {
		if err := t.stamp(ctx, doc); err != nil {
			return nil, err
		}
	}

	if errs := t.Validate(ctx, doc); errs != nil {
		verr := &core.ValidationError{
			Table:       t.name,
			Errors:      schema.ConvertErrors(errs),
			Descriptors: errs,
		}
		t.logger.Debug("rejected invalid document", zap.Strings("paths", verr.Errors.Paths()))
		return nil, verr
	}

	stored, err := t.model.Upsert(ctx, schema.NormalizeRecord(doc), o)
	if err != nil {
		return nil, core.WrapAdapter(t.cfg.Adapter, "set", t.name, err)
	}
	stored = t.restrict(stored, nil)

	t.logger.Debug("set", zap.Any("key", t.keyOf(stored)), zap.Duration("ttl", o.TTLValue()))
	t.publish(ctx, changefeed.OpSet, t.keyOf(stored), stored)
	return stored, nil
}

// Remove deletes every record matching conditions. Removing nothing is
// not an error.
func (t *Table) Remove(ctx context.Context, conditions core.Conditions, opts ...Option) error {
	o := t.options(opts)
	if err := t.model.Delete(ctx, conditions, o); err != nil {
		return core.WrapAdapter(t.cfg.Adapter, "remove", t.name, err)
	}
	t.logger.Debug("remove", zap.Any("conditions", conditions))
	t.publish(ctx, changefeed.OpRemove, map[string]any(conditions), nil)
	return nil
}

// options resolves per call settings. The table TTL applies when the call
// has no override, and a projection is intersected with the whitelist.
func (t *Table) options(opts []Option) core.Options {
	o := core.Options{Consistency: t.cfg.Consistency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.TTL == nil && t.cfg.TTL > 0 {
		ttl := t.cfg.TTL
		o.TTL = &ttl
	}
	if o.Projection != nil {
		allowed := make([]string, 0, len(o.Projection))
		for _, f := range o.Projection {
			if _, ok := t.fields[f]; ok {
				allowed = append(allowed, f)
			}
		}
		o.Projection = allowed
	}
	return o
}

// restrict copies the whitelisted fields of record. A non-nil projection
// narrows the copy further, even when it is empty.
func (t *Table) restrict(record map[string]any, projection []string) core.Record {
	if record == nil {
		return nil
	}
	out := make(core.Record, len(record))
	if projection != nil {
		for _, f := range projection {
			if v, ok := record[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	for k, v := range record {
		if _, ok := t.fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (t *Table) applyDefaults(doc core.Record) {
	for _, f := range t.spec.Fields {
		if !f.HasDefault {
			continue
		}
		if v, ok := doc[f.Name]; ok && v != nil {
			continue
		}
		doc[f.Name] = cloneDefault(f.Default)
	}
}

// stamp sets updated_at to now and keeps created_at from the stored
// record when there is one.
func (t *Table) stamp(ctx context.Context, doc core.Record) error {
	now := t.now().UTC()
	doc[schema.FieldUpdatedAt] = now

	created := any(now)
	if key := t.keyOf(doc); key != nil {
		existing, err := t.model.Find(ctx, core.Conditions(key), core.Options{
			Consistency: core.ConsistencyStrong,
			Limit:       1,
			Projection:  []string{schema.FieldCreatedAt},
		})
		if err != nil {
			return core.WrapAdapter(t.cfg.Adapter, "set", t.name, err)
		}
		if len(existing) > 0 && existing[0][schema.FieldCreatedAt] != nil {
			created = existing[0][schema.FieldCreatedAt]
		} else if v, ok := doc[schema.FieldCreatedAt]; ok && v != nil {
			created = v
		}
	}
	doc[schema.FieldCreatedAt] = created
	return nil
}

func (t *Table) keyOf(record core.Record) map[string]any {
	if _, ok := t.spec.KeyOf(record); !ok {
		return nil
	}
	key := make(map[string]any, len(t.spec.Key))
	for _, k := range t.spec.Key {
		key[k] = record[k]
	}
	return key
}

func (t *Table) publish(ctx context.Context, op changefeed.Op, key map[string]any, record core.Record) {
	if t.cfg.Publisher == nil {
		return
	}
	event := changefeed.NewEvent(t.name, op, key, record)
	if err := t.cfg.Publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish change",
			zap.String("op", string(op)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func cloneDefault(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneDefault(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneDefault(item)
		}
		return out
	default:
		return v
	}
}
