package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// fakeDynamo keeps items per table and records Query and Scan inputs.
// Scan returns every item of the table and Query the items matching its
// key condition; filter expressions are left to the adapter.
type fakeDynamo struct {
	mu      sync.Mutex
	tables  map[string]*dynamodb.CreateTableInput
	items   map[string]map[string]map[string]types.AttributeValue
	ttl     map[string]string
	queries []*dynamodb.QueryInput
	scans   []*dynamodb.ScanInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables: make(map[string]*dynamodb.CreateTableInput),
		items:  make(map[string]map[string]map[string]types.AttributeValue),
		ttl:    make(map[string]string),
	}
}

func avString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return string(v.Value)
	}
	return ""
}

func (f *fakeDynamo) itemKey(table string, item map[string]types.AttributeValue) string {
	var parts []string
	for _, ks := range f.tables[table].KeySchema {
		parts = append(parts, avString(item[aws.ToString(ks.AttributeName)]))
	}
	return strings.Join(parts, "|")
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	return &dynamodb.GetItemOutput{Item: f.items[table][f.itemKey(table, in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	key := f.itemKey(table, in.Item)
	if strings.HasPrefix(aws.ToString(in.ConditionExpression), "attribute_not_exists") {
		if _, ok := f.items[table][key]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	if f.items[table] == nil {
		f.items[table] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[table][key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem supports the sequence update only.
func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	item, ok := f.items[table][f.itemKey(table, in.Key)]
	if !ok || avString(item[sequenceValueField]) != avString(in.ExpressionAttributeValues[":expected"]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("mismatch")}
	}
	item[sequenceValueField] = in.ExpressionAttributeValues[":next"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	delete(f.items[table], f.itemKey(table, in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) all(table string) []map[string]types.AttributeValue {
	var out []map[string]types.AttributeValue
	for _, item := range f.items[table] {
		out = append(out, item)
	}
	return out
}

// Query rejects filters on key attributes, as DynamoDB does, and returns
// the items matching the key condition.
func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	table := aws.ToString(in.TableName)

	keys := make(map[string]bool)
	for _, ks := range f.tables[table].KeySchema {
		keys[aws.ToString(ks.AttributeName)] = true
	}
	for _, token := range strings.Fields(strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(aws.ToString(in.FilterExpression))) {
		if name, ok := in.ExpressionAttributeNames[token]; ok && keys[name] {
			return nil, fmt.Errorf("ValidationException: Filter Expression can only contain non-primary key attributes: %s", name)
		}
	}

	var out []map[string]types.AttributeValue
	for _, item := range f.all(table) {
		ok, err := matchKeyCondition(item, in)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

// matchKeyCondition evaluates clauses of the form "#n = :v" or
// "#n BETWEEN :a AND :b" joined by AND.
func matchKeyCondition(item map[string]types.AttributeValue, in *dynamodb.QueryInput) (bool, error) {
	tokens := strings.Fields(aws.ToString(in.KeyConditionExpression))
	for i := 0; i < len(tokens); {
		if i+2 >= len(tokens) {
			return false, fmt.Errorf("malformed key condition %q", aws.ToString(in.KeyConditionExpression))
		}
		attr := item[in.ExpressionAttributeNames[tokens[i]]]
		op := tokens[i+1]
		cmp := func(token string) int {
			return compareAttribute(attr, in.ExpressionAttributeValues[token])
		}
		switch op {
		case "=":
			if attr == nil || cmp(tokens[i+2]) != 0 {
				return false, nil
			}
		case "<", "<=", ">", ">=":
			if attr == nil {
				return false, nil
			}
			c := cmp(tokens[i+2])
			if (op == "<" && c >= 0) || (op == "<=" && c > 0) || (op == ">" && c <= 0) || (op == ">=" && c < 0) {
				return false, nil
			}
		case "BETWEEN":
			if i+4 >= len(tokens) || tokens[i+3] != "AND" {
				return false, fmt.Errorf("malformed BETWEEN in %q", aws.ToString(in.KeyConditionExpression))
			}
			if attr == nil || cmp(tokens[i+2]) < 0 || cmp(tokens[i+4]) > 0 {
				return false, nil
			}
			i += 2
		default:
			return false, fmt.Errorf("unsupported key condition operator %q", op)
		}
		i += 3
		if i < len(tokens) {
			if tokens[i] != "AND" {
				return false, fmt.Errorf("malformed key condition %q", aws.ToString(in.KeyConditionExpression))
			}
			i++
		}
	}
	return true, nil
}

func compareAttribute(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, _ := strconv.ParseFloat(an.Value, 64)
		y, _ := strconv.ParseFloat(bn.Value, 64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(avString(a), avString(b))
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	return &dynamodb.ScanOutput{Items: f.all(aws.ToString(in.TableName))}, nil
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[aws.ToString(in.TableName)] = in
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[aws.ToString(in.TableName)]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[aws.ToString(in.TableName)] = aws.ToString(in.TimeToLiveSpecification.AttributeName)
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func newDynamo(t *testing.T, specs ...*core.TableSpec) (*DynamoDBAdapter, *fakeDynamo) {
	t.Helper()
	ctx := context.Background()
	fake := newFakeDynamo()
	a := NewDynamoDBAdapter(DynamoDBConfig{Region: "local"}, "app_", nil)
	a.setClient(fake)
	for _, spec := range specs {
		_, err := a.Define(ctx, spec)
		require.NoError(t, err)
	}
	require.NoError(t, a.Sync(ctx))
	return a, fake
}

func TestDynamoSyncCreatesTables(t *testing.T) {
	spec := userItemSpec()
	spec.TTL = time.Hour
	spec.Indexes = append(spec.Indexes, core.Index{Name: "idx_data", Fields: []string{"data"}})
	_, fake := newDynamo(t, spec)

	created := fake.tables["app_user_item"]
	require.NotNil(t, created)
	assert.Equal(t, types.BillingModePayPerRequest, created.BillingMode)
	require.Len(t, created.KeySchema, 2)
	assert.Equal(t, "user_id", aws.ToString(created.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeHash, created.KeySchema[0].KeyType)
	assert.Equal(t, "item_id", aws.ToString(created.KeySchema[1].AttributeName))

	require.Len(t, created.GlobalSecondaryIndexes, 1, "map attributes cannot be indexed")
	assert.Equal(t, "idx_amount", aws.ToString(created.GlobalSecondaryIndexes[0].IndexName))
	assert.Len(t, created.AttributeDefinitions, 3)

	assert.Equal(t, dynamoTTL, fake.ttl["app_user_item"])
	assert.Contains(t, fake.tables, "app_sequence")
	_, ttlOnSequence := fake.ttl["app_sequence"]
	assert.False(t, ttlOnSequence)
}

func TestDynamoSyntheticSortKey(t *testing.T) {
	ctx := context.Background()
	spec := &core.TableSpec{
		Name: "ledger",
		Key:  []string{"account", "day", "seq"},
		Fields: []core.Field{
			{Name: "account", Type: "S"}, {Name: "day", Type: "S"}, {Name: "seq", Type: "N"},
		},
	}
	a, fake := newDynamo(t, spec)
	assert.Equal(t, dynamoSortKey, aws.ToString(fake.tables["app_ledger"].KeySchema[1].AttributeName))

	m, err := a.model("ledger")
	require.NoError(t, err)
	_, err = m.Upsert(ctx, core.Record{"account": "A", "day": "2024-01-01", "seq": int64(3)}, core.Options{})
	require.NoError(t, err)

	for _, item := range fake.items["app_ledger"] {
		assert.Equal(t, "2024-01-01#3", avString(item[dynamoSortKey]))
	}
	got, err := m.Find(ctx, core.Conditions{"account": "A"}, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"account": "A", "day": "2024-01-01", "seq": int64(3)}}, got)
}

func TestDynamoFindQueriesOrScans(t *testing.T) {
	ctx := context.Background()
	a, fake := newDynamo(t, userItemSpec())
	m, err := a.model("user_item")
	require.NoError(t, err)

	for _, r := range []core.Record{
		{"user_id": "U1", "item_id": "I1", "amount": int64(3), "data": map[string]any{"n": int64(1)}},
		{"user_id": "U1", "item_id": "I2", "amount": 4.5},
		{"user_id": "U2", "item_id": "I1", "amount": int64(9)},
	} {
		_, err := m.Upsert(ctx, r, core.Options{})
		require.NoError(t, err)
	}

	got, err := m.Find(ctx, core.Conditions{"user_id": "U1"}, core.Options{Consistency: core.ConsistencyStrong})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.Record{"user_id": "U1", "item_id": "I1", "amount": int64(3), "data": map[string]any{"n": int64(1)}}, got[0])
	assert.Equal(t, 4.5, got[1]["amount"])

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Equal(t, "#n0 = :v0", aws.ToString(q.KeyConditionExpression))
	assert.Nil(t, q.FilterExpression)
	assert.True(t, aws.ToBool(q.ConsistentRead))

	got, err = m.Find(ctx, core.Conditions{"amount": map[string]any{"$gt": 4}}, core.Options{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Len(t, fake.scans, 1)
	assert.Equal(t, "#n0 > :v0", aws.ToString(fake.scans[0].FilterExpression))

	got, err = m.Find(ctx, core.Conditions{"item_id": map[string]any{"$in": []any{}}}, core.Options{})
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := m.Count(ctx, core.Conditions{"item_id": "I1"}, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.Delete(ctx, core.Conditions{"user_id": "U1"}, core.Options{}))
	assert.Len(t, fake.items["app_user_item"], 1)
}

func TestDynamoFindBySortKey(t *testing.T) {
	ctx := context.Background()
	a, fake := newDynamo(t, userItemSpec())
	m, err := a.model("user_item")
	require.NoError(t, err)

	for _, r := range []core.Record{
		{"user_id": "U1", "item_id": "I1", "amount": int64(3)},
		{"user_id": "U1", "item_id": "I2", "amount": int64(5)},
		{"user_id": "U1", "item_id": "I3", "amount": int64(8)},
		{"user_id": "U2", "item_id": "I1", "amount": int64(9)},
	} {
		_, err := m.Upsert(ctx, r, core.Options{})
		require.NoError(t, err)
	}
	ids := func(recs []core.Record) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r["user_id"].(string)+"/"+r["item_id"].(string))
		}
		return out
	}
	last := func() *dynamodb.QueryInput { return fake.queries[len(fake.queries)-1] }

	t.Run("full key", func(t *testing.T) {
		fake.queries = nil
		got, err := m.Find(ctx, core.Conditions{"user_id": "U1", "item_id": "I2"}, core.Options{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I2"}, ids(got))
		require.Len(t, fake.queries, 1)
		assert.Equal(t, "#n0 = :v0 AND #n1 = :v1", aws.ToString(last().KeyConditionExpression))
		assert.Nil(t, last().FilterExpression)
	})

	t.Run("in on sort key", func(t *testing.T) {
		fake.queries = nil
		got, err := m.Find(ctx, core.Conditions{
			"user_id": "U1",
			"item_id": map[string]any{"$in": []any{"I3", "I1", "I3", "I9"}},
		}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I1", "U1/I3"}, ids(got))
		require.Len(t, fake.queries, 3, "one query per distinct value")
		for _, q := range fake.queries {
			assert.Equal(t, "#n0 = :v0 AND #n1 = :v1", aws.ToString(q.KeyConditionExpression))
			assert.Nil(t, q.FilterExpression)
		}
	})

	t.Run("range on sort key", func(t *testing.T) {
		fake.queries = nil
		got, err := m.Find(ctx, core.Conditions{"user_id": "U1", "item_id": map[string]any{"$gt": "I1"}}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I2", "U1/I3"}, ids(got))
		assert.Equal(t, "#n0 = :v0 AND #n1 > :v1", aws.ToString(last().KeyConditionExpression))

		got, err = m.Find(ctx, core.Conditions{"user_id": "U1", "item_id": map[string]any{"$gte": "I2", "$lte": "I3"}}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I2", "U1/I3"}, ids(got))
		assert.Equal(t, "#n0 = :v0 AND #n1 BETWEEN :v1 AND :v2", aws.ToString(last().KeyConditionExpression))
	})

	t.Run("not equal on sort key", func(t *testing.T) {
		got, err := m.Find(ctx, core.Conditions{"user_id": "U1", "item_id": map[string]any{"$ne": "I2"}}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I1", "U1/I3"}, ids(got))
		assert.Equal(t, "#n0 = :v0", aws.ToString(last().KeyConditionExpression))
		assert.Nil(t, last().FilterExpression)
	})

	t.Run("sort key with attribute filter", func(t *testing.T) {
		got, err := m.Find(ctx, core.Conditions{
			"user_id": "U1",
			"item_id": map[string]any{"$in": []any{"I2", "I3"}},
			"amount":  map[string]any{"$gt": 6},
		}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I3"}, ids(got))
		assert.Equal(t, "#n2 > :v2", aws.ToString(last().FilterExpression))
	})

	t.Run("count and delete by full key", func(t *testing.T) {
		n, err := m.Count(ctx, core.Conditions{"user_id": "U2", "item_id": "I1"}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, m.Delete(ctx, core.Conditions{"user_id": "U1", "item_id": "I1"}, core.Options{}))
		assert.Len(t, fake.items["app_user_item"], 3)
		got, err := m.Find(ctx, core.Conditions{"user_id": "U1"}, core.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"U1/I2", "U1/I3"}, ids(got))
	})
}

func TestSortKeyRanges(t *testing.T) {
	ranges, empty := sortKeyRanges(core.Conditions{"pk": "A"}, "sk")
	assert.False(t, empty)
	assert.Equal(t, []sortKeyRange{{}}, ranges)

	ranges, _ = sortKeyRanges(core.Conditions{"sk": "x"}, "")
	assert.Equal(t, []sortKeyRange{{}}, ranges, "no sort key attribute")

	_, empty = sortKeyRanges(core.Conditions{"sk": map[string]any{"$in": []any{}}}, "sk")
	assert.True(t, empty)

	ranges, _ = sortKeyRanges(core.Conditions{"sk": map[string]any{"$lt": 5, "$ne": 3}}, "sk")
	assert.Equal(t, []sortKeyRange{{op: "<", values: []any{5}}}, ranges)

	ranges, _ = sortKeyRanges(core.Conditions{"sk": map[string]any{"$nin": []any{1}}}, "sk")
	assert.Equal(t, []sortKeyRange{{}}, ranges)
}

func TestDynamoTTL(t *testing.T) {
	ctx := context.Background()
	a, fake := newDynamo(t, userItemSpec())
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }
	m, _ := a.model("user_item")

	ttl := 30 * time.Second
	_, err := m.Upsert(ctx, core.Record{"user_id": "U", "item_id": "I"}, core.Options{TTL: &ttl})
	require.NoError(t, err)
	for _, item := range fake.items["app_user_item"] {
		assert.Equal(t, "1700000030", avString(item[dynamoTTL]))
	}

	got, _ := m.Find(ctx, core.Conditions{"user_id": "U"}, core.Options{})
	require.Len(t, got, 1)
	assert.NotContains(t, got[0], dynamoTTL)

	now = now.Add(time.Minute)
	got, _ = m.Find(ctx, core.Conditions{"user_id": "U"}, core.Options{})
	assert.Empty(t, got)
}

func TestDynamoSequences(t *testing.T) {
	ctx := context.Background()
	a, _ := newDynamo(t)
	seq := a.Sequences()

	_, exists, err := seq.Read(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, seq.CompareAndSwap(ctx, "orders", 0, false, 1))
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 0, false, 1), core.ErrConditionFailed)
	require.NoError(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2))
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2), core.ErrConditionFailed)

	v, exists, err := seq.Read(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(2), v)
}

func TestDynamoNotConnected(t *testing.T) {
	a := NewDynamoDBAdapter(DynamoDBConfig{Region: "local"}, "", nil)
	assert.ErrorIs(t, a.Sync(context.Background()), core.ErrNotConnected)
	assert.Nil(t, a.Connection())
}

func TestExpressionBuilderFilter(t *testing.T) {
	b := newExpressionBuilder()
	expr, empty, err := b.filter(core.Conditions{
		"user_id": "U",
		"amount":  map[string]any{"$gte": 3, "$lt": 10},
		"item_id": map[string]any{"$nin": []any{"a", "b"}},
		"type":    map[string]any{"$ne": "x"},
	})
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t,
		"#n0 >= :v0 AND #n0 < :v1 AND NOT (#n1 IN (:v2, :v3)) AND (attribute_not_exists(#n2) OR #n2 <> :v4) AND #n3 = :v5",
		expr)
	assert.Equal(t, map[string]string{"#n0": "amount", "#n1": "item_id", "#n2": "type", "#n3": "user_id"}, b.names)
	assert.Len(t, b.values, 6)

	_, _, err = newExpressionBuilder().filter(core.Conditions{"a": map[string]any{"$regex": "x"}})
	assert.Error(t, err)
}
