package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// TypeDynamoDB is the registry identifier of the DynamoDB adapter.
const TypeDynamoDB = "dynamodb"

// Synthetic attributes written next to the record fields.
const (
	dynamoSortKey = "_sk"
	dynamoTTL     = "_ttl"
)

const dynamoTableWait = 2 * time.Minute

var dynamoVocabulary = vocabularyFor(map[string]string{
	"string":     "S",
	"number":     "N",
	"boolean":    "BOOL",
	"datetime":   "S",
	"identifier": "S",
	"binary":     "B",
	"collection": "L",
	"structure":  "M",
})

func init() {
	// sets of strings map to the native string set type
	dynamoVocabulary["set"] = "SS"
}

// dynamoClient is the subset of *dynamodb.Client the adapter uses.
type dynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// DynamoDBAdapter stores each table in its own DynamoDB table named
// "<prefix><table>". The partition key is the first key field.
type DynamoDBAdapter struct {
	cfg    DynamoDBConfig
	prefix string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	client dynamoClient
	models map[string]*dynamoModel
	order  []string
}

// NewDynamoDBAdapter creates an unconnected DynamoDB adapter.
func NewDynamoDBAdapter(cfg DynamoDBConfig, prefix string, logger *zap.Logger) *DynamoDBAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBAdapter{
		cfg:    cfg,
		prefix: prefix,
		logger: logger.Named("adapter.dynamodb"),
		now:    time.Now,
		models: make(map[string]*dynamoModel),
	}
}

// Type returns the registry identifier.
func (a *DynamoDBAdapter) Type() string { return TypeDynamoDB }

// Connect loads the AWS configuration and creates the client.
func (a *DynamoDBAdapter) Connect(ctx context.Context) error {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(a.cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Override credentials if provided
	if a.cfg.AccessKeyID != "" && a.cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(a.cfg.AccessKeyID, a.cfg.SecretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if a.cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(a.cfg.Endpoint)
		})
	}

	a.setClient(dynamodb.NewFromConfig(awsCfg, clientOptions...))
	a.logger.Info("connected", zap.String("region", a.cfg.Region), zap.String("endpoint", a.cfg.Endpoint))
	return nil
}

func (a *DynamoDBAdapter) setClient(client dynamoClient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = client
}

// Disconnect drops the client. The SDK client holds no connection to close.
func (a *DynamoDBAdapter) Disconnect(ctx context.Context) error {
	a.setClient(nil)
	return nil
}

// Connection returns the DynamoDB client, or nil before Connect.
func (a *DynamoDBAdapter) Connection() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil
	}
	return a.client
}

// Vocabulary returns the attribute type table.
func (a *DynamoDBAdapter) Vocabulary() core.TypeVocabulary { return dynamoVocabulary }

// IndexStyle returns the wide-column style.
func (a *DynamoDBAdapter) IndexStyle() core.IndexStyle { return core.IndexStyleWide }

// Define registers spec for the next Sync.
func (a *DynamoDBAdapter) Define(ctx context.Context, spec *core.TableSpec) (core.Model, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defineLocked(spec), nil
}

func (a *DynamoDBAdapter) defineLocked(spec *core.TableSpec) *dynamoModel {
	m, ok := a.models[spec.Name]
	if !ok {
		m = &dynamoModel{adapter: a}
		a.models[spec.Name] = m
		a.order = append(a.order, spec.Name)
	}
	m.spec = spec
	m.tableName = a.prefix + spec.Name
	return m
}

func (a *DynamoDBAdapter) getClient() (dynamoClient, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, core.ErrNotConnected
	}
	return a.client, nil
}

// Sync creates missing tables, their global secondary indexes and the
// TTL setting. Existing tables are left untouched.
func (a *DynamoDBAdapter) Sync(ctx context.Context) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if _, ok := a.models[SequenceTable]; !ok {
		a.defineLocked(sequenceSpec(dynamoVocabulary))
	}
	models := make([]*dynamoModel, 0, len(a.order))
	for _, name := range a.order {
		models = append(models, a.models[name])
	}
	a.mu.Unlock()

	for _, m := range models {
		if err := a.syncTable(ctx, client, m); err != nil {
			return core.WrapAdapter(TypeDynamoDB, "sync", m.spec.Name, err)
		}
	}
	return nil
}

func (a *DynamoDBAdapter) syncTable(ctx context.Context, client dynamoClient, m *dynamoModel) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(m.tableName)})
	if err == nil {
		a.logger.Debug("table exists", zap.String("table", m.tableName))
		return a.syncTTL(ctx, client, m)
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", m.tableName, err)
	}

	if _, err := client.CreateTable(ctx, m.createTableInput()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", m.tableName, err)
	}
	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(m.tableName)}, dynamoTableWait); err != nil {
		return fmt.Errorf("failed waiting for table %s: %w", m.tableName, err)
	}
	a.logger.Info("table created", zap.String("table", m.tableName))
	return a.syncTTL(ctx, client, m)
}

func (a *DynamoDBAdapter) syncTTL(ctx context.Context, client dynamoClient, m *dynamoModel) error {
	if m.spec.TTL <= 0 {
		return nil
	}
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(m.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(dynamoTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		// already enabled tables reject the update
		a.logger.Debug("ttl update skipped", zap.String("table", m.tableName), zap.Error(err))
	}
	return nil
}

// Sequences returns the conditional-write sequence store.
func (a *DynamoDBAdapter) Sequences() core.SequenceStore {
	return &dynamoSequences{adapter: a}
}

func (a *DynamoDBAdapter) model(name string) (*dynamoModel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotSynced, name)
	}
	return m, nil
}

type dynamoModel struct {
	adapter   *DynamoDBAdapter
	spec      *core.TableSpec
	tableName string
}

func (m *dynamoModel) Spec() *core.TableSpec { return m.spec }

// sortAttribute returns the sort key attribute, or "" for single field keys.
func (m *dynamoModel) sortAttribute() string {
	switch len(m.spec.Key) {
	case 1:
		return ""
	case 2:
		return m.spec.Key[1]
	default:
		return dynamoSortKey
	}
}

func (m *dynamoModel) keyAttributeType(field string) types.ScalarAttributeType {
	if field == dynamoSortKey {
		return types.ScalarAttributeTypeS
	}
	f, _ := m.spec.Field(field)
	switch f.Type {
	case "N":
		return types.ScalarAttributeTypeN
	case "B":
		return types.ScalarAttributeTypeB
	default:
		return types.ScalarAttributeTypeS
	}
}

func (m *dynamoModel) createTableInput() *dynamodb.CreateTableInput {
	defined := map[string]bool{}
	var attrs []types.AttributeDefinition
	define := func(name string) {
		if defined[name] {
			return
		}
		defined[name] = true
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: m.keyAttributeType(name),
		})
	}

	keySchema := func(hash, rng string) []types.KeySchemaElement {
		define(hash)
		ks := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
		if rng != "" {
			define(rng)
			ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
		}
		return ks
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(m.tableName),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema:   keySchema(m.spec.PartitionKey(), m.sortAttribute()),
	}

	for _, idx := range m.spec.Indexes {
		if len(idx.Fields) == 0 || len(idx.Fields) > 2 || !m.indexable(idx.Fields) {
			continue
		}
		rng := ""
		if len(idx.Fields) == 2 {
			rng = idx.Fields[1]
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keySchema(idx.Fields[0], rng),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	input.AttributeDefinitions = attrs
	return input
}

// indexable reports whether every field has a key-capable attribute type.
func (m *dynamoModel) indexable(fields []string) bool {
	for _, name := range fields {
		f, ok := m.spec.Field(name)
		if !ok {
			return false
		}
		switch f.Type {
		case "S", "N", "B":
		default:
			return false
		}
	}
	return true
}

func (m *dynamoModel) encode(record core.Record, ttl time.Duration) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(record))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if m.sortAttribute() == dynamoSortKey {
		sk, err := m.sortKeyValue(record)
		if err != nil {
			return nil, err
		}
		item[dynamoSortKey] = &types.AttributeValueMemberS{Value: sk}
	}
	if ttl > 0 {
		expires := m.adapter.now().Add(ttl).Unix()
		item[dynamoTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}
	return item, nil
}

func (m *dynamoModel) sortKeyValue(record core.Record) (string, error) {
	parts := make([]string, 0, len(m.spec.Key)-1)
	for _, k := range m.spec.Key[1:] {
		v, ok := record[k]
		if !ok || v == nil {
			return "", fmt.Errorf("record is missing key field %s", k)
		}
		parts = append(parts, core.KeyString(v))
	}
	return strings.Join(parts, "#"), nil
}

func (m *dynamoModel) decode(item map[string]types.AttributeValue) (core.Record, bool, error) {
	if ttl, ok := item[dynamoTTL].(*types.AttributeValueMemberN); ok {
		if expires, err := strconv.ParseInt(ttl.Value, 10, 64); err == nil && expires <= m.adapter.now().Unix() {
			return nil, false, nil
		}
	}
	var out map[string]any
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	delete(out, dynamoTTL)
	delete(out, dynamoSortKey)
	return schema.NormalizeRecord(out), true, nil
}

func (m *dynamoModel) keyItem(record core.Record) (map[string]types.AttributeValue, error) {
	key := make(map[string]types.AttributeValue, 2)
	pk := m.spec.PartitionKey()
	av, err := attributevalue.Marshal(record[pk])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key %s: %w", pk, err)
	}
	key[pk] = av
	switch sk := m.sortAttribute(); sk {
	case "":
	case dynamoSortKey:
		v, err := m.sortKeyValue(record)
		if err != nil {
			return nil, err
		}
		key[sk] = &types.AttributeValueMemberS{Value: v}
	default:
		av, err := attributevalue.Marshal(record[sk])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %s: %w", sk, err)
		}
		key[sk] = av
	}
	return key, nil
}

func (m *dynamoModel) Count(ctx context.Context, conditions core.Conditions, opts core.Options) (int64, error) {
	records, err := m.Find(ctx, conditions, core.Options{Consistency: opts.Consistency})
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Find queries the partition when the partition key is an equality
// condition and scans otherwise. A query carries the sort key in its key
// condition, one query per value for an $in, since DynamoDB rejects
// filter expressions on primary key attributes. Every other condition
// becomes part of the filter expression, and the full conditions are
// matched again on the decoded records.
func (m *dynamoModel) Find(ctx context.Context, conditions core.Conditions, opts core.Options) ([]core.Record, error) {
	client, err := m.adapter.getClient()
	if err != nil {
		return nil, err
	}

	pk := m.spec.PartitionKey()
	pkValue, hasPK := conditions.Equal(pk)
	consistent := aws.Bool(opts.Consistency == core.ConsistencyStrong)

	var records []core.Record
	collect := func(items []map[string]types.AttributeValue, stopAtLimit bool) (bool, error) {
		for _, item := range items {
			record, live, err := m.decode(item)
			if err != nil {
				return false, err
			}
			if !live || !core.Match(record, conditions) {
				continue
			}
			records = append(records, record)
		}
		return stopAtLimit && opts.Limit > 0 && len(records) >= opts.Limit, nil
	}

	if !hasPK {
		b := newExpressionBuilder()
		filter, empty, err := b.filter(conditions)
		if err != nil {
			return nil, err
		}
		if empty {
			return nil, nil
		}
		input := &dynamodb.ScanInput{
			TableName:      aws.String(m.tableName),
			ConsistentRead: consistent,
		}
		if filter != "" {
			input.FilterExpression = aws.String(filter)
			input.ExpressionAttributeNames = b.names
			input.ExpressionAttributeValues = b.values
		}
		paginator := dynamodb.NewScanPaginator(client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, core.WrapAdapter(TypeDynamoDB, "scan", m.spec.Name, err)
			}
			done, err := collect(page.Items, true)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
		}
		return m.found(records, opts, 0), nil
	}

	sk := m.sortAttribute()
	if sk == dynamoSortKey {
		sk = ""
	}
	filterConds := make(core.Conditions, len(conditions))
	for k, v := range conditions {
		if k != pk && (sk == "" || k != sk) {
			filterConds[k] = v
		}
	}
	ranges, empty := sortKeyRanges(conditions, sk)
	if empty {
		return nil, nil
	}

	for _, r := range ranges {
		b := newExpressionBuilder()
		placeholder, err := b.value(pkValue)
		if err != nil {
			return nil, err
		}
		keyCondition := b.name(pk) + " = " + placeholder
		if r.op != "" {
			rendered, err := r.render(b, sk)
			if err != nil {
				return nil, err
			}
			keyCondition += " AND " + rendered
		}
		filter, empty, err := b.filter(filterConds)
		if err != nil {
			return nil, err
		}
		if empty {
			return nil, nil
		}

		input := &dynamodb.QueryInput{
			TableName:                 aws.String(m.tableName),
			KeyConditionExpression:    aws.String(keyCondition),
			ConsistentRead:            consistent,
			ExpressionAttributeNames:  b.names,
			ExpressionAttributeValues: b.values,
		}
		if filter != "" {
			input.FilterExpression = aws.String(filter)
		}
		paginator := dynamodb.NewQueryPaginator(client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, core.WrapAdapter(TypeDynamoDB, "query", m.spec.Name, err)
			}
			done, err := collect(page.Items, len(ranges) == 1)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
		}
	}
	return m.found(records, opts, len(ranges)), nil
}

func (m *dynamoModel) found(records []core.Record, opts core.Options, queries int) []core.Record {
	sortByKey(m.spec, records)
	m.adapter.logger.Debug("find",
		zap.String("table", m.tableName),
		zap.Int("queries", queries),
		zap.Int("records", len(records)),
	)
	return finish(records, opts)
}

// sortKeyRange is the sort key part of one key condition. An empty op
// leaves the sort key unconstrained.
type sortKeyRange struct {
	op     string
	values []any
}

func (r sortKeyRange) render(b *expressionBuilder, field string) (string, error) {
	name := b.name(field)
	placeholders := make([]string, len(r.values))
	for i, v := range r.values {
		p, err := b.value(v)
		if err != nil {
			return "", err
		}
		placeholders[i] = p
	}
	if r.op == "BETWEEN" {
		return name + " BETWEEN " + placeholders[0] + " AND " + placeholders[1], nil
	}
	return name + " " + r.op + " " + placeholders[0], nil
}

// sortKeyRanges turns the condition on sort key sk into key condition
// ranges. Equality and $in become one equality range per value. Bounds
// become a single comparison, or BETWEEN for $gte with $lte. Conditions
// a key condition cannot express ($ne, $nin, a second bound) are left to
// the match on decoded records. empty reports an $in that matches
// nothing.
func sortKeyRanges(conditions core.Conditions, sk string) (ranges []sortKeyRange, empty bool) {
	if _, ok := conditions[sk]; sk == "" || !ok {
		return []sortKeyRange{{}}, false
	}
	ops := make(map[string]any)
	for _, p := range (core.Conditions{sk: conditions[sk]}).Predicates() {
		ops[p.Op] = p.Value
	}

	if v, ok := ops["$eq"]; ok {
		return []sortKeyRange{{op: "=", values: []any{v}}}, false
	}
	if in, ok := ops[core.OpIn]; ok {
		var distinct []any
		for _, item := range core.ToSlice(in) {
			seen := false
			for _, d := range distinct {
				if core.Equal(d, item) {
					seen = true
					break
				}
			}
			if !seen {
				distinct = append(distinct, item)
			}
		}
		if len(distinct) == 0 {
			return nil, true
		}
		for _, v := range distinct {
			ranges = append(ranges, sortKeyRange{op: "=", values: []any{v}})
		}
		return ranges, false
	}

	lo, hasLo := ops[core.OpGte]
	hi, hasHi := ops[core.OpLte]
	if hasLo && hasHi {
		return []sortKeyRange{{op: "BETWEEN", values: []any{lo, hi}}}, false
	}
	for _, bound := range []struct{ op, expr string }{
		{core.OpGt, ">"}, {core.OpGte, ">="}, {core.OpLt, "<"}, {core.OpLte, "<="},
	} {
		if v, ok := ops[bound.op]; ok {
			return []sortKeyRange{{op: bound.expr, values: []any{v}}}, false
		}
	}
	return []sortKeyRange{{}}, false
}

func (m *dynamoModel) Upsert(ctx context.Context, record core.Record, opts core.Options) (core.Record, error) {
	client, err := m.adapter.getClient()
	if err != nil {
		return nil, err
	}
	if _, ok := m.spec.KeyOf(record); !ok {
		return nil, fmt.Errorf("record is missing key fields %v", m.spec.Key)
	}
	item, err := m.encode(record, opts.TTLValue())
	if err != nil {
		return nil, err
	}
	if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
	}); err != nil {
		return nil, core.WrapAdapter(TypeDynamoDB, "put", m.spec.Name, err)
	}
	m.adapter.logger.Debug("put", zap.String("table", m.tableName), zap.Duration("ttl", opts.TTLValue()))
	return copyRecord(record), nil
}

// Delete finds the matching records and deletes them one by one.
func (m *dynamoModel) Delete(ctx context.Context, conditions core.Conditions, opts core.Options) error {
	client, err := m.adapter.getClient()
	if err != nil {
		return err
	}
	records, err := m.Find(ctx, conditions, core.Options{Consistency: core.ConsistencyStrong})
	if err != nil {
		return err
	}
	for _, record := range records {
		key, err := m.keyItem(record)
		if err != nil {
			return err
		}
		if _, err := client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(m.tableName),
			Key:       key,
		}); err != nil {
			return core.WrapAdapter(TypeDynamoDB, "delete", m.spec.Name, err)
		}
	}
	m.adapter.logger.Debug("delete", zap.String("table", m.tableName), zap.Int("removed", len(records)))
	return nil
}

// expressionBuilder accumulates attribute name and value placeholders.
type expressionBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	tokens map[string]string
}

func newExpressionBuilder() *expressionBuilder {
	return &expressionBuilder{tokens: make(map[string]string)}
}

func (b *expressionBuilder) name(field string) string {
	if token, ok := b.tokens[field]; ok {
		return token
	}
	if b.names == nil {
		b.names = make(map[string]string)
	}
	token := fmt.Sprintf("#n%d", len(b.tokens))
	b.tokens[field] = token
	b.names[token] = field
	return token
}

func (b *expressionBuilder) value(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal condition value: %w", err)
	}
	if b.values == nil {
		b.values = make(map[string]types.AttributeValue)
	}
	token := fmt.Sprintf(":v%d", len(b.values))
	b.values[token] = av
	return token, nil
}

// filter renders conditions as a filter expression. empty reports a
// condition that can match nothing, such as an empty $in.
func (b *expressionBuilder) filter(conditions core.Conditions) (expr string, empty bool, err error) {
	var clauses []string
	for _, p := range conditions.Predicates() {
		name := b.name(p.Field)
		switch p.Op {
		case "$eq", core.OpNe, core.OpGt, core.OpGte, core.OpLt, core.OpLte:
			v, err := b.value(p.Value)
			if err != nil {
				return "", false, err
			}
			switch p.Op {
			case "$eq":
				clauses = append(clauses, name+" = "+v)
			case core.OpNe:
				clauses = append(clauses, "(attribute_not_exists("+name+") OR "+name+" <> "+v+")")
			case core.OpGt:
				clauses = append(clauses, name+" > "+v)
			case core.OpGte:
				clauses = append(clauses, name+" >= "+v)
			case core.OpLt:
				clauses = append(clauses, name+" < "+v)
			case core.OpLte:
				clauses = append(clauses, name+" <= "+v)
			}
		case core.OpIn, core.OpNin:
			items := core.ToSlice(p.Value)
			if len(items) == 0 {
				if p.Op == core.OpIn {
					return "", true, nil
				}
				continue
			}
			placeholders := make([]string, len(items))
			for i, item := range items {
				v, err := b.value(item)
				if err != nil {
					return "", false, err
				}
				placeholders[i] = v
			}
			clause := name + " IN (" + strings.Join(placeholders, ", ") + ")"
			if p.Op == core.OpNin {
				clause = "NOT (" + clause + ")"
			}
			clauses = append(clauses, clause)
		default:
			return "", false, fmt.Errorf("unsupported operator %s on %s", p.Op, p.Field)
		}
	}
	return strings.Join(clauses, " AND "), false, nil
}

// dynamoSequences implements compare-and-swap with condition expressions
// on the sequence table.
type dynamoSequences struct {
	adapter *DynamoDBAdapter
}

func (s *dynamoSequences) table() (dynamoClient, string, error) {
	client, err := s.adapter.getClient()
	if err != nil {
		return nil, "", err
	}
	m, err := s.adapter.model(SequenceTable)
	if err != nil {
		return nil, "", err
	}
	return client, m.tableName, nil
}

func (s *dynamoSequences) Read(ctx context.Context, key string) (int64, bool, error) {
	client, table, err := s.table()
	if err != nil {
		return 0, false, err
	}
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            map[string]types.AttributeValue{sequenceKeyField: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, core.WrapAdapter(TypeDynamoDB, "sequence.read", SequenceTable, err)
	}
	if out.Item == nil {
		return 0, false, nil
	}
	n, ok := out.Item[sequenceValueField].(*types.AttributeValueMemberN)
	if !ok {
		return 0, true, nil
	}
	value, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid sequence value %q: %w", n.Value, err)
	}
	return value, true, nil
}

func (s *dynamoSequences) CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error {
	client, table, err := s.table()
	if err != nil {
		return err
	}
	names := map[string]string{"#k": sequenceKeyField, "#v": sequenceValueField}
	nextValue := &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)}

	if !exists {
		_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item: map[string]types.AttributeValue{
				sequenceKeyField:   &types.AttributeValueMemberS{Value: key},
				sequenceValueField: nextValue,
			},
			ConditionExpression:      aws.String("attribute_not_exists(#k)"),
			ExpressionAttributeNames: map[string]string{"#k": sequenceKeyField},
		})
	} else {
		_, err = client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(table),
			Key:                      map[string]types.AttributeValue{sequenceKeyField: &types.AttributeValueMemberS{Value: key}},
			UpdateExpression:         aws.String("SET #v = :next"),
			ConditionExpression:      aws.String("attribute_exists(#k) AND #v = :expected"),
			ExpressionAttributeNames: names,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":next":     nextValue,
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			},
		})
	}
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("sequence %s: %w", key, core.ErrConditionFailed)
	}
	return core.WrapAdapter(TypeDynamoDB, "sequence.swap", SequenceTable, err)
}

// DynamoDBAdapterFactory creates DynamoDB adapters.
type DynamoDBAdapterFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBAdapterFactory) Type() string { return TypeDynamoDB }

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBAdapterFactory) Validate(config Config) error {
	if config.Type != TypeDynamoDB {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.DynamoDB.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if (config.DynamoDB.AccessKeyID == "") != (config.DynamoDB.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Create creates a new DynamoDB adapter.
func (f *DynamoDBAdapterFactory) Create(config Config) (core.Adapter, error) {
	return NewDynamoDBAdapter(config.DynamoDB, config.Prefix, config.logger()), nil
}

func init() {
	RegisterFactory(&DynamoDBAdapterFactory{})
}
