package table

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/adapter"
	"github.com/rzpsarthak13/unidb/internal/changefeed"
	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

func userDefinition() map[string]any {
	return map[string]any{
		"key": []any{"user_id"},
		"properties": map[string]any{
			"user_id": map[string]any{"type": "string"},
			"point":   map[string]any{"type": "int", "default": 0},
			"tags":    map[string]any{"type": "list", "default": []any{}},
			"data": map[string]any{
				"type":       "map",
				"properties": map[string]any{"key": map[string]any{"type": "string", "required": true}},
			},
		},
	}
}

type recordingPublisher struct {
	events []*changefeed.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *changefeed.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newTestTable(t *testing.T, def map[string]any, cfg Config) (*Table, *adapter.MemoryAdapter) {
	t.Helper()
	ctx := context.Background()
	a := adapter.NewMemoryAdapter(nil)
	require.NoError(t, a.Connect(ctx))

	node, timestamps := schema.ApplyTimestamps(core.NodeOf(def))
	conv := schema.NewConverter(schema.NewTypeMapper(a.Vocabulary()), a.IndexStyle())
	spec, err := schema.Compile("user", conv.Convert(node))
	require.NoError(t, err)
	model, err := a.Define(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, a.Sync(ctx))

	validator, err := schema.NewSchemaValidator(schema.NewValidatorConverter().Convert(node), spec.Key)
	require.NoError(t, err)

	cfg.Adapter = a.Type()
	cfg.Timestamps = timestamps
	return New(model, validator, cfg, nil), a
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tbl.now = func() time.Time { return when }

	stored, err := tbl.Set(ctx, map[string]any{"user_id": "U1", "nickname": "dropped"})
	require.NoError(t, err)

	want := core.Record{
		"user_id":    "U1",
		"point":      int64(0),
		"tags":       []any{},
		"created_at": "2024-05-01T10:00:00Z",
		"updated_at": "2024-05-01T10:00:00Z",
	}
	assert.Equal(t, want, stored)

	got, err := tbl.Get(ctx, core.Conditions{"user_id": "U1"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, userDefinition(), Config{})

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tbl.now = func() time.Time { return first }
	_, err := tbl.Set(ctx, map[string]any{"user_id": "U1", "point": 1})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	tbl.now = func() time.Time { return second }
	stored, err := tbl.Set(ctx, map[string]any{"user_id": "U1", "point": 2, "created_at": "1999-01-01T00:00:00Z"})
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T10:00:00Z", stored["created_at"])
	assert.Equal(t, "2024-05-01T11:00:00Z", stored["updated_at"])
	assert.Equal(t, int64(2), stored["point"])
}

func TestSetWithoutTimestamps(t *testing.T) {
	def := userDefinition()
	def["timestamps"] = false
	tbl, _ := newTestTable(t, def, Config{})

	stored, err := tbl.Set(context.Background(), map[string]any{"user_id": "U1"})
	require.NoError(t, err)
	assert.NotContains(t, stored, "created_at")
	assert.NotContains(t, stored, "updated_at")
}

func TestSetValidationError(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	tbl, _ := newTestTable(t, userDefinition(), Config{Publisher: pub})

	_, err := tbl.Set(ctx, map[string]any{"point": "many", "data": map[string]any{}})

	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "user", verr.Table)
	assert.Equal(t, []string{"data.key", "point", "user_id"}, verr.Errors.Paths())
	assert.Len(t, verr.Descriptors, 3)

	n, err := tbl.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "invalid documents are not written")
	assert.Empty(t, pub.events)
}

func TestValidate(t *testing.T) {
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	assert.Nil(t, tbl.Validate(context.Background(), map[string]any{"user_id": "U1"}))

	errs := tbl.Validate(context.Background(), map[string]any{"user_id": 1})
	require.Len(t, errs, 1)
	assert.Equal(t, "user_id", schema.NormalizePath(errs[0]))
}

func TestGetNoMatch(t *testing.T) {
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	got, err := tbl.Get(context.Background(), core.Conditions{"user_id": "missing"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetLeavesCallerOptionsAlone(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	for _, id := range []string{"U1", "U2", "U3"} {
		_, err := tbl.Set(ctx, map[string]any{"user_id": id})
		require.NoError(t, err)
	}

	backing := []Option{WithConsistency(core.ConsistencyStrong), WithLimit(3)}
	opts := backing[:1]
	_, err := tbl.Get(ctx, nil, opts...)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.options(backing).Limit, "spare capacity must not be written")

	got, err := tbl.Find(ctx, nil, backing...)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFindCountAndProjection(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	for i, id := range []string{"U1", "U2", "U3"} {
		_, err := tbl.Set(ctx, map[string]any{"user_id": id, "point": i})
		require.NoError(t, err)
	}

	n, err := tbl.Count(ctx, core.Conditions{"point": map[string]any{"$gte": 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := tbl.Find(ctx, core.Conditions{"user_id": map[string]any{"$in": []any{"U1", "U3"}}},
		WithProjection("user_id", "point", "password"))
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"user_id": "U1", "point": int64(0)},
		{"user_id": "U3", "point": int64(2)},
	}, got)

	got, err = tbl.Find(ctx, nil, WithProjection("password"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Empty(t, got[0], "projection outside the whitelist returns no fields")

	got, err = tbl.Find(ctx, nil, WithLimit(2))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, userDefinition(), Config{})
	_, err := tbl.Set(ctx, map[string]any{"user_id": "U1"})
	require.NoError(t, err)

	require.NoError(t, tbl.Remove(ctx, core.Conditions{"user_id": "U1"}))
	require.NoError(t, tbl.Remove(ctx, core.Conditions{"user_id": "U1"}), "removing nothing is not an error")

	got, err := tbl.Get(ctx, core.Conditions{"user_id": "U1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOptionsResolution(t *testing.T) {
	tbl, _ := newTestTable(t, userDefinition(), Config{TTL: time.Minute, Consistency: core.ConsistencyEventual})

	o := tbl.options(nil)
	require.NotNil(t, o.TTL)
	assert.Equal(t, time.Minute, *o.TTL)
	assert.Equal(t, core.ConsistencyEventual, o.Consistency)

	o = tbl.options([]Option{WithTTL(0), WithConsistency(core.ConsistencyStrong), WithLimit(3)})
	require.NotNil(t, o.TTL)
	assert.Zero(t, *o.TTL)
	assert.Equal(t, core.ConsistencyStrong, o.Consistency)
	assert.Equal(t, 3, o.Limit)

	noTTL, _ := newTestTable(t, userDefinition(), Config{})
	assert.Nil(t, noTTL.options(nil).TTL)
}

func TestPublishesChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	tbl, _ := newTestTable(t, userDefinition(), Config{Publisher: pub})

	stored, err := tbl.Set(ctx, map[string]any{"user_id": "U1"})
	require.NoError(t, err)
	require.NoError(t, tbl.Remove(ctx, core.Conditions{"user_id": "U1"}))

	require.Len(t, pub.events, 2)
	assert.Equal(t, changefeed.OpSet, pub.events[0].Op)
	assert.Equal(t, map[string]any{"user_id": "U1"}, pub.events[0].Key)
	assert.Equal(t, stored, pub.events[0].Record)
	assert.Equal(t, changefeed.OpRemove, pub.events[1].Op)
	assert.Nil(t, pub.events[1].Record)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: changefeed.ErrQueueFull}
	tbl, _ := newTestTable(t, userDefinition(), Config{Publisher: pub})

	_, err := tbl.Set(context.Background(), map[string]any{"user_id": "U1"})
	assert.NoError(t, err)
}

func TestAdapterErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	tbl, a := newTestTable(t, userDefinition(), Config{})
	require.NoError(t, a.Disconnect(ctx))

	_, err := tbl.Find(ctx, core.Conditions{"user_id": "U1"})
	var aerr *core.AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "memory", aerr.Adapter)
	assert.Equal(t, "find", aerr.Op)
	assert.ErrorIs(t, err, core.ErrNotConnected)

	_, err = tbl.Set(ctx, map[string]any{"user_id": "U1"})
	assert.ErrorIs(t, err, core.ErrNotConnected)
}
