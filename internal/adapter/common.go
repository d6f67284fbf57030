package adapter

import (
	"sort"
	"strings"
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// SequenceTable is the table every adapter defines for sequence counters.
const SequenceTable = "sequence"

// Sequence table columns.
const (
	sequenceKeyField   = "key"
	sequenceValueField = "value"
)

// sequenceSpec returns the spec of the implicit sequence table:
// {key: string primary, value: number default 0}.
func sequenceSpec(vocab core.TypeVocabulary) *core.TableSpec {
	mapper := schema.NewTypeMapper(vocab)
	return &core.TableSpec{
		Name: SequenceTable,
		Key:  []string{sequenceKeyField},
		Fields: []core.Field{
			{Name: sequenceKeyField, Type: mapper.Map("string"), Required: true},
			{Name: sequenceValueField, Type: mapper.Map("bigint"), Default: int64(0), HasDefault: true},
		},
	}
}

// vocabularyFor expands a per-kind native type table over every token
// of that kind.
func vocabularyFor(kinds map[string]string) core.TypeVocabulary {
	vocab := make(core.TypeVocabulary)
	for kind, tokens := range schema.Tokens {
		native, ok := kinds[kind]
		if !ok {
			continue
		}
		for _, token := range tokens {
			vocab[token] = native
		}
	}
	return vocab
}

// recordKey renders the composite key of record as a single string.
func recordKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = core.KeyString(v)
	}
	return strings.Join(parts, "\x1f")
}

// copyValue deep copies maps and slices of a stored record.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case core.Record:
		return copyRecord(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}

func copyRecord(record core.Record) core.Record {
	if record == nil {
		return nil
	}
	out := make(core.Record, len(record))
	for k, v := range record {
		out[k] = copyValue(v)
	}
	return out
}

// sortByKey orders records by their composite key so scans return a
// stable order.
func sortByKey(spec *core.TableSpec, records []core.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := spec.KeyOf(records[i])
		b, _ := spec.KeyOf(records[j])
		for k := range a {
			if k >= len(b) {
				return false
			}
			if cmp, ok := core.Compare(a[k], b[k]); ok && cmp != 0 {
				return cmp < 0
			}
			if sa, sb := core.KeyString(a[k]), core.KeyString(b[k]); sa != sb {
				return sa < sb
			}
		}
		return false
	})
}

// finish applies the limit and projection of opts.
func finish(records []core.Record, opts core.Options) []core.Record {
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i, r := range records {
			records[i] = core.Project(r, opts.Projection)
		}
	}
	return records
}

// expiresAt returns the absolute expiry for ttl, or the zero time.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
