package core

import (
	"time"
)

// TableSpec is the typed form of a converted table definition. Adapters
// receive it from Define and build their native model from it.
type TableSpec struct {
	// Name is the logical table name.
	Name string

	// Key is the ordered composite key. Key[0] is the partition and
	// owner discriminator.
	Key []string

	// Fields contains every declared property in declaration order.
	Fields []Field

	// Indexes contains the normalized secondary index declarations.
	Indexes []Index

	// TTL is the default record lifetime. Zero disables expiry.
	TTL time.Duration

	// Options carries adapter specific table options verbatim.
	Options map[string]any

	// Converted is the full converted definition tree.
	Converted Node
}

// Field is a single declared property.
type Field struct {
	// Name is the property name.
	Name string

	// Type is the backend native type produced by the type mapper.
	Type string

	// Required marks the property as mandatory on write.
	Required bool

	// Unique requests a unique constraint where the backend has one.
	Unique bool

	// Default is applied on write when the property is absent.
	Default any

	// HasDefault distinguishes a nil default from no default.
	HasDefault bool
}

// Index is a normalized secondary index.
type Index struct {
	// Name is derived from the fields when the declaration has none.
	Name string

	// Fields are the indexed properties in declaration order.
	Fields []string

	// Unique indicates a unique index.
	Unique bool

	// Options carries the remaining index options verbatim.
	Options map[string]any
}

// FieldNames returns the field whitelist in declaration order.
func (s *TableSpec) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a declared property by name.
func (s *TableSpec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether name is in the field whitelist.
func (s *TableSpec) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// IsKey reports whether name is part of the composite key.
func (s *TableSpec) IsKey(name string) bool {
	for _, k := range s.Key {
		if k == name {
			return true
		}
	}
	return false
}

// PartitionKey returns the first key field.
func (s *TableSpec) PartitionKey() string {
	if len(s.Key) == 0 {
		return ""
	}
	return s.Key[0]
}

// KeyOf extracts the composite key values from a record. It returns
// false if any key field is missing.
func (s *TableSpec) KeyOf(record Record) ([]any, bool) {
	values := make([]any, len(s.Key))
	for i, k := range s.Key {
		v, ok := record[k]
		if !ok || v == nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}
