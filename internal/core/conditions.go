package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Record is a single stored document.
type Record map[string]any

// Conditions maps a field to either a scalar (equality) or an operator
// map such as {"$in": [...]} or {"$gte": 3}. All entries are ANDed.
type Conditions map[string]any

// Comparison operators understood in Conditions.
const (
	OpIn  = "$in"
	OpNin = "$nin"
	OpNe  = "$ne"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
)

// Consistency levels accepted in Options.
const (
	ConsistencyDefault  = ""
	ConsistencyEventual = "eventual"
	ConsistencyStrong   = "strong"
)

// Options are the per call settings every data operation accepts.
type Options struct {
	// TTL overrides the table default lifetime when non-nil. A zero
	// duration disables expiry for the call.
	TTL *time.Duration

	// Consistency is the requested read/write consistency level.
	Consistency string

	// Limit caps the number of returned records. Zero means no limit.
	Limit int

	// Projection restricts the returned fields.
	Projection []string
}

// TTLValue returns the resolved TTL, or zero when unset.
func (o Options) TTLValue() time.Duration {
	if o.TTL == nil {
		return 0
	}
	return *o.TTL
}

// Predicate is one operator applied to one field.
type Predicate struct {
	Field string
	Op    string
	Value any
}

// Predicates flattens conditions into a deterministic list. Plain
// values become "$eq" predicates.
func (c Conditions) Predicates() []Predicate {
	fields := make([]string, 0, len(c))
	for f := range c {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var out []Predicate
	for _, f := range fields {
		ops, ok := operatorMap(c[f])
		if !ok {
			out = append(out, Predicate{Field: f, Op: "$eq", Value: c[f]})
			continue
		}
		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, op)
		}
		sort.Strings(names)
		for _, op := range names {
			out = append(out, Predicate{Field: f, Op: op, Value: ops[op]})
		}
	}
	return out
}

// Equal returns the equality value for field, if the condition on it is
// a plain value or a single element $in.
func (c Conditions) Equal(field string) (any, bool) {
	v, ok := c[field]
	if !ok {
		return nil, false
	}
	ops, isOps := operatorMap(v)
	if !isOps {
		return v, true
	}
	if len(ops) == 1 {
		if in, ok := ops[OpIn]; ok {
			if items := ToSlice(in); len(items) == 1 {
				return items[0], true
			}
		}
	}
	return nil, false
}

func operatorMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

// Match reports whether record satisfies every condition.
func Match(record Record, conditions Conditions) bool {
	for _, p := range conditions.Predicates() {
		v, present := record[p.Field]
		if !matchPredicate(v, present, p) {
			return false
		}
	}
	return true
}

func matchPredicate(v any, present bool, p Predicate) bool {
	switch p.Op {
	case "$eq":
		return present && Equal(v, p.Value)
	case OpNe:
		return !present || !Equal(v, p.Value)
	case OpIn:
		if !present {
			return false
		}
		for _, item := range ToSlice(p.Value) {
			if Equal(v, item) {
				return true
			}
		}
		return false
	case OpNin:
		for _, item := range ToSlice(p.Value) {
			if present && Equal(v, item) {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := Compare(v, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	default:
		return false
	}
}

// ToSlice turns any slice value into []any. Non-slices become a single
// element slice.
func ToSlice(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

// Equal compares two scalar values, treating all numeric types alike.
func Equal(a, b any) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same kind. Numbers compare
// numerically, strings lexically and times chronologically.
func Compare(a, b any) (int, bool) {
	if af, ok := ToFloat(a); ok {
		bf, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// KeyString renders a key value for use inside storage keys.
func KeyString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// Project copies record keeping only the listed fields. An empty list
// keeps every field.
func Project(record Record, fields []string) Record {
	if record == nil {
		return nil
	}
	out := make(Record, len(record))
	if len(fields) == 0 {
		for k, v := range record {
			out[k] = v
		}
		return out
	}
	for _, f := range fields {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	return out
}

// NormalizeNumber returns integral numbers as int64 and other numbers
// as float64. Non-numeric values are returned unchanged. Every adapter
// decodes numbers this way so records compare equal across backends.
func NormalizeNumber(v any) any {
	f, ok := ToFloat(v)
	if !ok {
		return v
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
