package core

import (
	"context"
)

// IndexStyle selects how the schema converter shapes index declarations
// for a backend.
type IndexStyle int

const (
	// IndexStyleDocument keeps every index as {fields, options}.
	IndexStyleDocument IndexStyle = iota

	// IndexStyleWide reduces single field indexes to the bare field name.
	IndexStyleWide
)

// TypeVocabulary maps abstract type tokens to backend native types.
type TypeVocabulary map[string]string

// Adapter is implemented by every backing store. It owns the connection,
// turns table specs into models and materializes them on Sync.
type Adapter interface {
	// Type returns the registry identifier (e.g., "dynamodb", "redis").
	Type() string

	// Connect opens the underlying client.
	Connect(ctx context.Context) error

	// Disconnect closes the underlying client. Calling it before Connect
	// is a no-op.
	Disconnect(ctx context.Context) error

	// Connection returns the native client, or nil when not connected.
	Connection() any

	// Vocabulary returns the type table used to convert schemas.
	Vocabulary() TypeVocabulary

	// IndexStyle returns the index representation the backend expects.
	IndexStyle() IndexStyle

	// Define registers a table and returns its model. It does not touch
	// the backend; Sync does.
	Define(ctx context.Context, spec *TableSpec) (Model, error)

	// Sync materializes every defined table, its indexes and TTL settings.
	Sync(ctx context.Context) error

	// Sequences returns the store backing sequence counters.
	Sequences() SequenceStore
}

// Model performs record operations against one backend table.
type Model interface {
	// Spec returns the table spec the model was defined with.
	Spec() *TableSpec

	// Count returns the number of records matching conditions.
	Count(ctx context.Context, conditions Conditions, opts Options) (int64, error)

	// Find returns records matching conditions. An empty result is not
	// an error.
	Find(ctx context.Context, conditions Conditions, opts Options) ([]Record, error)

	// Upsert inserts record or replaces the stored one with the same
	// composite key. opts.TTL is already resolved by the caller.
	Upsert(ctx context.Context, record Record, opts Options) (Record, error)

	// Delete removes records matching conditions. Deleting nothing is not
	// an error.
	Delete(ctx context.Context, conditions Conditions, opts Options) error
}

// SequenceStore is the compare-and-set primitive behind sequences.
type SequenceStore interface {
	// Read returns the stored value and whether the row exists.
	Read(ctx context.Context, key string) (int64, bool, error)

	// CompareAndSwap writes next if the row is still in the observed
	// state: absent when exists is false, holding expected otherwise.
	// A lost race returns an error wrapping ErrConditionFailed.
	CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error
}

// Incrementer is implemented by sequence stores with a native atomic
// increment.
type Incrementer interface {
	// Increment adds one to key, creating it at zero first, and returns
	// the new value.
	Increment(ctx context.Context, key string) (int64, error)
}
