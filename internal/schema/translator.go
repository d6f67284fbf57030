package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Translator converts records to and from the key/value form used by
// key-value backends.
type Translator struct {
	prefix string
}

// NewTranslator creates a translator. prefix is prepended to every key.
func NewTranslator(prefix string) *Translator {
	return &Translator{prefix: prefix}
}

// Key builds the storage key "<prefix><table>:<k1>:<k2>..." from the
// composite key values.
func (t *Translator) Key(spec *core.TableSpec, values []any) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, t.prefix+spec.Name)
	for _, v := range values {
		parts = append(parts, escapeKeyPart(core.KeyString(v)))
	}
	return strings.Join(parts, ":")
}

// SetKey returns the key of the per-table member set.
func (t *Translator) SetKey(spec *core.TableSpec) string {
	return t.prefix + spec.Name + ":_ids"
}

// ToKV returns the storage key and JSON value for record.
func (t *Translator) ToKV(record core.Record, spec *core.TableSpec) (string, []byte, error) {
	if record == nil {
		return "", nil, fmt.Errorf("record cannot be nil")
	}
	values, ok := spec.KeyOf(record)
	if !ok {
		return "", nil, fmt.Errorf("record is missing key fields %v", spec.Key)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	return t.Key(spec, values), value, nil
}

// FromKV decodes a stored JSON value. Integral numbers decode as int64
// and the rest as float64.
func (t *Translator) FromKV(value []byte) (core.Record, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return core.Record(normalizeNumbers(record).(map[string]any)), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return core.NormalizeNumber(val)
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}

// NormalizeRecord returns a copy of record in stored form: numbers as
// int64 or float64 and times as RFC 3339 UTC strings, at every depth.
func NormalizeRecord(record core.Record) core.Record {
	if record == nil {
		return nil
	}
	out := make(core.Record, len(record))
	for k, v := range record {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case core.Record:
		return map[string]any(NormalizeRecord(val))
	case map[string]any:
		return map[string]any(NormalizeRecord(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []byte:
		return v
	default:
		return core.NormalizeNumber(v)
	}
}

func escapeKeyPart(s string) string {
	return strings.NewReplacer("\\", "\\\\", ":", "\\:").Replace(s)
}
