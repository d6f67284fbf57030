package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/core"
)

func TestCompile(t *testing.T) {
	conv := NewConverter(NewTypeMapper(wideVocabulary), core.IndexStyleWide)
	spec, err := Compile("user_item", conv.Convert(userItemDefinition()))
	require.NoError(t, err)

	assert.Equal(t, "user_item", spec.Name)
	assert.Equal(t, []string{"user_id", "item_id"}, spec.Key)
	assert.Equal(t, "user_id", spec.PartitionKey())
	assert.ElementsMatch(t, []string{"amount", "data", "index", "item_id", "type", "user_id"}, spec.FieldNames())

	item, ok := spec.Field("item_id")
	require.True(t, ok)
	assert.True(t, item.Required, "key fields are required")
	assert.Equal(t, "S", item.Type)

	amount, _ := spec.Field("amount")
	assert.True(t, amount.HasDefault)
	assert.Equal(t, 0, amount.Default)

	require.Len(t, spec.Indexes, 4)
	assert.Equal(t, core.Index{Name: "idx_amount", Fields: []string{"amount"}}, spec.Indexes[0])
	assert.Equal(t, []string{"user_id", "amount"}, spec.Indexes[1].Fields)
	assert.True(t, spec.Indexes[2].Unique)
	assert.ElementsMatch(t, []string{"user_id", "item_id"}, spec.Indexes[2].Fields)
}

func TestCompileTTL(t *testing.T) {
	tests := []struct {
		ttl  any
		want time.Duration
	}{
		{60, time.Minute},
		{1.5, 1500 * time.Millisecond},
		{"2h", 2 * time.Hour},
	}
	for _, tt := range tests {
		def := core.NodeOf(map[string]any{
			"key":        "id",
			"ttl":        tt.ttl,
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		})
		spec, err := Compile("t", def)
		require.NoError(t, err)
		assert.Equal(t, tt.want, spec.TTL)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		def  any
	}{
		{"not an object", []any{"x"}},
		{"empty key", map[string]any{"key": []any{}, "properties": map[string]any{"id": map[string]any{}}}},
		{"missing key", map[string]any{"properties": map[string]any{"id": map[string]any{}}}},
		{"undeclared key", map[string]any{"key": "other", "properties": map[string]any{"id": map[string]any{}}}},
		{"repeated key", map[string]any{"key": []any{"id", "id"}, "properties": map[string]any{"id": map[string]any{}}}},
		{"no properties", map[string]any{"key": "id"}},
		{"bad ttl", map[string]any{"key": "id", "ttl": "soon", "properties": map[string]any{"id": map[string]any{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("t", core.NodeOf(tt.def))
			assert.ErrorIs(t, err, core.ErrInvalidSchema)
		})
	}
}

func TestCompileSchemaKeyword(t *testing.T) {
	def := core.NodeOf(map[string]any{
		"key":    []any{"user_id"},
		"schema": map[string]any{"user_id": map[string]any{"type": "string", "unique": true}},
	})
	spec, err := Compile("user", def)
	require.NoError(t, err)
	f, ok := spec.Field("user_id")
	require.True(t, ok)
	assert.True(t, f.Unique)
}

func TestApplyTimestamps(t *testing.T) {
	def := core.NodeOf(map[string]any{
		"key":        "id",
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	})
	out, enabled := ApplyTimestamps(def)
	require.True(t, enabled)
	props := Properties(out.(*core.Object))
	_, ok := props.Get(FieldCreatedAt)
	assert.True(t, ok)
	_, ok = props.Get(FieldUpdatedAt)
	assert.True(t, ok)

	_, ok = Properties(def.(*core.Object)).Get(FieldCreatedAt)
	assert.False(t, ok, "input must not be modified")

	off := core.NodeOf(map[string]any{
		"key":        "id",
		"timestamps": false,
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	})
	out, enabled = ApplyTimestamps(off)
	assert.False(t, enabled)
	_, ok = Properties(out.(*core.Object)).Get(FieldCreatedAt)
	assert.False(t, ok)
	_, ok = out.(*core.Object).Get(KeyTimestamps)
	assert.False(t, ok)

	indexed := core.NodeOf(map[string]any{
		"key":        "id",
		"timestamps": map[string]any{"index": true},
		"indexes":    []any{"id"},
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	})
	out, _ = ApplyTimestamps(indexed)
	idx, _ := out.(*core.Object).Get(KeyIndexes)
	assert.Equal(t, []any{"id", FieldCreatedAt, FieldUpdatedAt}, idx.Interface())
}

func TestTranslatorRoundTrip(t *testing.T) {
	spec := &core.TableSpec{Name: "user_item", Key: []string{"user_id", "item_id"}}
	tr := NewTranslator("app:")

	record := NormalizeRecord(core.Record{
		"user_id": "U:1",
		"item_id": 7,
		"amount":  2.5,
		"data":    map[string]any{"n": 3},
		"tags":    []string{"a"},
	})
	key, value, err := tr.ToKV(record, spec)
	require.NoError(t, err)
	assert.Equal(t, `app:user_item:U\:1:7`, key)

	back, err := tr.FromKV(value)
	require.NoError(t, err)
	assert.Equal(t, record, back)

	_, _, err = tr.ToKV(core.Record{"user_id": "U"}, spec)
	assert.Error(t, err)
}
