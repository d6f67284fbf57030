package unidb

import (
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/registry"
	"github.com/rzpsarthak13/unidb/internal/sequence"
	"github.com/rzpsarthak13/unidb/internal/suite"
	"github.com/rzpsarthak13/unidb/internal/table"
)

type (
	// Table is the CRUD handle of one logical table.
	Table = table.Table

	// Suite groups the relations owned by one entity.
	Suite = suite.Suite

	// Entity is a suite bound to one owner id.
	Entity = suite.Entity

	// Relation is the get, set and remove triple of an entity relation.
	Relation = suite.Relation

	// Sequence is a monotonically increasing counter.
	Sequence = sequence.Sequence

	// Record is a stored document.
	Record = core.Record

	// Conditions selects records. Values are equalities or operator maps.
	Conditions = core.Conditions

	// CallOption adjusts a single data operation.
	CallOption = table.Option

	// ErrorDescriptor is one field level validation failure.
	ErrorDescriptor = core.ErrorDescriptor

	// ErrorMap is the path keyed tree of validation failures.
	ErrorMap = core.ErrorMap

	// ValidationError is returned when a document fails validation.
	ValidationError = core.ValidationError

	// ConflictError is returned when a sequence runs out of attempts.
	ConflictError = core.ConflictError

	// AdapterError wraps a backend failure.
	AdapterError = core.AdapterError

	// TableSpec is the compiled form of a schema definition.
	TableSpec = core.TableSpec

	// SyncHookFunc adapts a function to a sync hook.
	SyncHookFunc = registry.SyncHookFunc
)

var (
	ErrNotConnected       = core.ErrNotConnected
	ErrUnknownTable       = core.ErrUnknownTable
	ErrNotSynced          = core.ErrNotSynced
	ErrConditionFailed    = core.ErrConditionFailed
	ErrUnknownRelation    = core.ErrUnknownRelation
	ErrUnsupportedAdapter = core.ErrUnsupportedAdapter
	ErrInvalidSchema      = core.ErrInvalidSchema
)

// Consistency levels.
const (
	ConsistencyEventual = core.ConsistencyEventual
	ConsistencyStrong   = core.ConsistencyStrong
)

// Condition operators.
const (
	OpIn  = core.OpIn
	OpNin = core.OpNin
	OpNe  = core.OpNe
	OpGt  = core.OpGt
	OpGte = core.OpGte
	OpLt  = core.OpLt
	OpLte = core.OpLte
)

// TTL overrides the table lifetime for a write. Zero disables expiry.
func TTL(d time.Duration) CallOption { return table.WithTTL(d) }

// Consistency requests a consistency level.
func Consistency(level string) CallOption { return table.WithConsistency(level) }

// Limit caps the number of returned records.
func Limit(n int) CallOption { return table.WithLimit(n) }

// Project restricts returned records to fields in the table whitelist.
func Project(fields ...string) CallOption { return table.WithProjection(fields...) }
