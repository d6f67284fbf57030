package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotConnected is returned when an operation needs a connected adapter.
	ErrNotConnected = errors.New("unidb: adapter is not connected")

	// ErrUnknownTable is returned when a table name was never defined.
	ErrUnknownTable = errors.New("unidb: unknown table")

	// ErrNotSynced is returned when tables are used before Sync.
	ErrNotSynced = errors.New("unidb: schemas are not synced")

	// ErrConditionFailed is returned by SequenceStore.CompareAndSwap when
	// the stored state no longer matches the observed one.
	ErrConditionFailed = errors.New("unidb: conditional write rejected")

	// ErrUnknownRelation is returned when a suite entity has no relation
	// under the requested name.
	ErrUnknownRelation = errors.New("unidb: unknown relation")

	// ErrUnsupportedAdapter is returned when no adapter is registered for
	// a configured type.
	ErrUnsupportedAdapter = errors.New("unidb: unsupported adapter")

	// ErrInvalidSchema is returned when a definition cannot be compiled.
	ErrInvalidSchema = errors.New("unidb: invalid schema")
)

// ErrorDescriptor is a single field level validation failure.
type ErrorDescriptor struct {
	// Property locates the field, as "$['a']['b']" or "a.b".
	Property string `json:"property,omitempty" yaml:"property,omitempty"`

	// SchemaPath locates the rule, as "/properties/a/properties/b/type".
	SchemaPath string `json:"schemaPath,omitempty" yaml:"schemaPath,omitempty"`

	// Message describes the failure.
	Message string `json:"message" yaml:"message"`

	// Actual is the offending value.
	Actual any `json:"actual,omitempty" yaml:"actual,omitempty"`
}

// ErrorNode is one path segment of an ErrorMap.
type ErrorNode struct {
	// Errors holds the descriptors reported for exactly this path.
	Errors []ErrorDescriptor

	// Children holds deeper path segments.
	Children ErrorMap
}

// ErrorMap is a tree of validation errors keyed by path segment.
type ErrorMap map[string]*ErrorNode

// Add records d under the given path segments.
func (m ErrorMap) Add(path []string, d ErrorDescriptor) {
	if len(path) == 0 {
		return
	}
	node, ok := m[path[0]]
	if !ok {
		node = &ErrorNode{}
		m[path[0]] = node
	}
	if len(path) == 1 {
		node.Errors = append(node.Errors, d)
		return
	}
	if node.Children == nil {
		node.Children = make(ErrorMap)
	}
	node.Children.Add(path[1:], d)
}

// Lookup returns the descriptors stored at a dotted path.
func (m ErrorMap) Lookup(path string) []ErrorDescriptor {
	current := m
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		node, ok := current[seg]
		if !ok {
			return nil
		}
		if i == len(segments)-1 {
			return node.Errors
		}
		current = node.Children
	}
	return nil
}

// Last returns the most recent descriptor at path. It matches the
// single error per field view some callers expect.
func (m ErrorMap) Last(path string) (ErrorDescriptor, bool) {
	errs := m.Lookup(path)
	if len(errs) == 0 {
		return ErrorDescriptor{}, false
	}
	return errs[len(errs)-1], true
}

// Paths returns every dotted path holding at least one error, sorted.
func (m ErrorMap) Paths() []string {
	var out []string
	m.walk("", func(path string, _ *ErrorNode) {
		out = append(out, path)
	})
	sort.Strings(out)
	return out
}

// Len returns the total number of descriptors.
func (m ErrorMap) Len() int {
	n := 0
	m.walk("", func(_ string, node *ErrorNode) {
		n += len(node.Errors)
	})
	return n
}

func (m ErrorMap) walk(prefix string, fn func(string, *ErrorNode)) {
	for seg, node := range m {
		path := seg
		if prefix != "" {
			path = prefix + "." + seg
		}
		if len(node.Errors) > 0 {
			fn(path, node)
		}
		node.Children.walk(path, fn)
	}
}

// ValidationError is returned when a document fails schema validation.
type ValidationError struct {
	// Table is the table the document was written to.
	Table string

	// Errors is the normalized error tree.
	Errors ErrorMap

	// Descriptors are the raw validator results.
	Descriptors []ErrorDescriptor
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Descriptors))
	for _, path := range e.Errors.Paths() {
		for _, d := range e.Errors.Lookup(path) {
			parts = append(parts, fmt.Sprintf("%s: %s", path, d.Message))
		}
	}
	if e.Table == "" {
		return "unidb: validation failed: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("unidb: validation failed for table %s: %s", e.Table, strings.Join(parts, "; "))
}

// ConflictError is returned when a sequence loses every compare-and-set
// attempt it was allowed.
type ConflictError struct {
	// Key is the sequence key.
	Key string

	// Attempts is the number of conditional writes tried.
	Attempts int

	// Err is the last rejection.
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unidb: sequence %q conflicted after %d attempt(s)", e.Key, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// AdapterError wraps a backend or network failure.
type AdapterError struct {
	// Adapter is the adapter type, e.g. "dynamodb".
	Adapter string

	// Op names the failed operation, e.g. "find".
	Op string

	// Table is the table involved, if any.
	Table string

	// Err is the driver error.
	Err error
}

func (e *AdapterError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("unidb: %s %s failed: %v", e.Adapter, e.Op, e.Err)
	}
	return fmt.Sprintf("unidb: %s %s on %s failed: %v", e.Adapter, e.Op, e.Table, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// WrapAdapter turns err into an *AdapterError unless it is nil or
// already classified.
func WrapAdapter(adapter, op, table string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	var ve *ValidationError
	var ce *ConflictError
	if errors.As(err, &ae) || errors.As(err, &ve) || errors.As(err, &ce) {
		return err
	}
	return &AdapterError{Adapter: adapter, Op: op, Table: table, Err: err}
}
