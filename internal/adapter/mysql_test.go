package adapter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/unidb/internal/core"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

// fakeSQL records executed statements. Queries are not supported.
type fakeSQL struct {
	statements []string
	args       [][]any
	affected   int64
	err        error
}

func (f *fakeSQL) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.statements = append(f.statements, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	return fakeResult(f.affected), nil
}

func (f *fakeSQL) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("queries are not supported by the fake")
}

func (f *fakeSQL) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	panic("queries are not supported by the fake")
}

func mysqlSpec() *core.TableSpec {
	return &core.TableSpec{
		Name: "user",
		Key:  []string{"user_id"},
		Fields: []core.Field{
			{Name: "user_id", Type: "VARCHAR(255)", Required: true},
			{Name: "email", Type: "VARCHAR(255)", Unique: true},
			{Name: "point", Type: "BIGINT"},
			{Name: "birthday", Type: "DATETIME(6)"},
			{Name: "data", Type: "JSON"},
		},
		Indexes: []core.Index{
			{Name: "idx_point", Fields: []string{"point"}},
			{Name: "idx_data", Fields: []string{"data"}},
			{Name: "uniq_point_email", Fields: []string{"point", "email"}, Unique: true},
		},
	}
}

func newMySQL(t *testing.T) (*MySQLAdapter, *fakeSQL, *mysqlModel) {
	t.Helper()
	fake := &fakeSQL{affected: 1}
	a := NewMySQLAdapter(MySQLConfig{Host: "localhost", Database: "app"}, "app_", nil)
	a.db = fake
	_, err := a.Define(context.Background(), mysqlSpec())
	require.NoError(t, err)
	m, err := a.model("user")
	require.NoError(t, err)
	return a, fake, m
}

func TestBuildCreateTable(t *testing.T) {
	want := "CREATE TABLE IF NOT EXISTS `app_user` (\n" +
		"  `user_id` VARCHAR(255) NOT NULL,\n" +
		"  `email` VARCHAR(255) NULL,\n" +
		"  `point` BIGINT NULL,\n" +
		"  `birthday` DATETIME(6) NULL,\n" +
		"  `data` JSON NULL,\n" +
		"  `_expires_at` DATETIME(6) NULL,\n" +
		"  PRIMARY KEY (`user_id`),\n" +
		"  UNIQUE KEY `uniq_email` (`email`),\n" +
		"  KEY `idx_point` (`point`),\n" +
		"  UNIQUE KEY `uniq_point_email` (`point`, `email`),\n" +
		"  KEY `idx_expires_at` (`_expires_at`)\n" +
		")"
	assert.Equal(t, want, buildCreateTable("app_user", mysqlSpec()))
}

func TestMySQLSync(t *testing.T) {
	a, fake, _ := newMySQL(t)
	require.NoError(t, a.Sync(context.Background()))
	require.Len(t, fake.statements, 2)
	assert.True(t, strings.HasPrefix(fake.statements[0], "CREATE TABLE IF NOT EXISTS `app_user`"))
	assert.Contains(t, fake.statements[1], "`app_sequence`")
	assert.Contains(t, fake.statements[1], "`value` BIGINT NULL")
}

func TestMySQLBuildWhere(t *testing.T) {
	_, _, m := newMySQL(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args, err := m.buildWhere(core.Conditions{
		"user_id":  map[string]any{"$in": []any{"a", "b"}},
		"point":    map[string]any{"$gte": 3.0},
		"email":    map[string]any{"$ne": "x@example.com"},
		"birthday": map[string]any{"$lt": "2000-01-01T00:00:00Z"},
		"missing":  "x",
	}, now)
	require.NoError(t, err)
	assert.Equal(t,
		"`birthday` < ? AND (`email` IS NULL OR `email` <> ?) AND 1 = 0 AND `point` >= ? AND `user_id` IN (?, ?)"+
			" AND (`_expires_at` IS NULL OR `_expires_at` > ?)",
		where)
	assert.Equal(t, []any{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		"x@example.com",
		int64(3),
		"a", "b",
		now,
	}, args)

	where, _, err = m.buildWhere(core.Conditions{"point": map[string]any{"$in": []any{}}, "email": map[string]any{"$nin": []any{}}}, now)
	require.NoError(t, err)
	assert.Equal(t, "1 = 0 AND (`_expires_at` IS NULL OR `_expires_at` > ?)", where)

	_, _, err = m.buildWhere(core.Conditions{"point": "many"}, now)
	assert.Error(t, err)
}

func TestMySQLBuildSelect(t *testing.T) {
	_, _, m := newMySQL(t)
	query, _, err := m.buildSelect(core.Conditions{"user_id": "U"}, core.Options{Limit: 1}, time.Now())
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `user_id`, `email`, `point`, `birthday`, `data` FROM `app_user` WHERE `user_id` = ?"+
			" AND (`_expires_at` IS NULL OR `_expires_at` > ?) ORDER BY `user_id` LIMIT 1",
		query)
}

func TestMySQLUpsert(t *testing.T) {
	a, fake, m := newMySQL(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ttl := time.Hour
	_, err := m.Upsert(context.Background(), core.Record{
		"user_id": "U1",
		"point":   int64(5),
		"data":    map[string]any{"k": "v"},
	}, core.Options{TTL: &ttl})
	require.NoError(t, err)

	require.Len(t, fake.statements, 1)
	assert.Equal(t,
		"INSERT INTO `app_user` (`user_id`, `email`, `point`, `birthday`, `data`, `_expires_at`) VALUES (?, ?, ?, ?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE `email` = VALUES(`email`), `point` = VALUES(`point`), `birthday` = VALUES(`birthday`),"+
			" `data` = VALUES(`data`), `_expires_at` = VALUES(`_expires_at`)",
		fake.statements[0])
	assert.Equal(t, []any{"U1", nil, int64(5), nil, `{"k":"v"}`, now.Add(time.Hour)}, fake.args[0])

	_, err = m.Upsert(context.Background(), core.Record{"point": int64(1)}, core.Options{})
	assert.Error(t, err)
}

func TestMySQLDecodeRow(t *testing.T) {
	_, _, m := newMySQL(t)
	record, err := m.decodeRow([]any{
		[]byte("U1"),
		nil,
		int64(5),
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		[]byte(`{"n":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, core.Record{
		"user_id":  "U1",
		"point":    int64(5),
		"birthday": "2024-01-02T03:04:05Z",
		"data":     map[string]any{"n": int64(2)},
	}, record)
}

func TestMySQLSequenceSwap(t *testing.T) {
	ctx := context.Background()
	a, fake, _ := newMySQL(t)
	require.NoError(t, a.Sync(ctx))
	seq := a.Sequences()

	require.NoError(t, seq.CompareAndSwap(ctx, "orders", 0, false, 1))
	assert.Equal(t, "INSERT IGNORE INTO `app_sequence` (`key`, `value`, `_expires_at`) VALUES (?, ?, NULL)", fake.statements[2])
	assert.Equal(t, []any{"orders", int64(1)}, fake.args[2])

	require.NoError(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2))
	assert.Equal(t, "UPDATE `app_sequence` SET `value` = ? WHERE `key` = ? AND `value` = ?", fake.statements[3])
	assert.Equal(t, []any{int64(2), "orders", int64(1)}, fake.args[3])

	fake.affected = 0
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 1, true, 2), core.ErrConditionFailed)

	fake.err = &mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}
	assert.ErrorIs(t, seq.CompareAndSwap(ctx, "orders", 0, false, 1), core.ErrConditionFailed)

	fake.err = errors.New("connection reset")
	err := seq.CompareAndSwap(ctx, "orders", 2, true, 3)
	var adapterErr *core.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, TypeMySQL, adapterErr.Adapter)
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLConfig{Host: "db", Database: "app", Username: "u", Password: "p"}.DSN()
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "app", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}
