package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// TypeMySQL is the registry identifier of the MySQL adapter.
const TypeMySQL = "mysql"

// mysqlExpiresAt holds the absolute expiry of rows written with a TTL.
const mysqlExpiresAt = "_expires_at"

// mysqlDuplicateEntry is the server error number for a duplicate key.
const mysqlDuplicateEntry = 1062

var mysqlVocabulary = func() core.TypeVocabulary {
	vocab := vocabularyFor(map[string]string{
		"string":     "VARCHAR(255)",
		"number":     "BIGINT",
		"boolean":    "BOOLEAN",
		"datetime":   "DATETIME(6)",
		"identifier": "VARCHAR(64)",
		"binary":     "BLOB",
		"collection": "JSON",
		"structure":  "JSON",
	})
	vocab["text"] = "TEXT"
	for _, token := range []string{"decimal", "double", "float", "number"} {
		vocab[token] = "DOUBLE"
	}
	return vocab
}()

// sqlDB is the subset of *sql.DB the adapter uses.
type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLAdapter maps every table onto a MySQL table with one column per
// declared field. Nested objects and lists are stored in JSON columns.
type MySQLAdapter struct {
	cfg    MySQLConfig
	prefix string
	logger *zap.Logger
	mapper *schema.TypeMapper
	now    func() time.Time

	mu     sync.RWMutex
	native *sql.DB
	db     sqlDB
	models map[string]*mysqlModel
	order  []string
}

// NewMySQLAdapter creates an unconnected MySQL adapter.
func NewMySQLAdapter(cfg MySQLConfig, prefix string, logger *zap.Logger) *MySQLAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQLAdapter{
		cfg:    cfg,
		prefix: prefix,
		logger: logger.Named("adapter.mysql"),
		mapper: schema.NewTypeMapper(mysqlVocabulary),
		now:    time.Now,
		models: make(map[string]*mysqlModel),
	}
}

// DSN returns the driver data source name for the configuration.
func (c MySQLConfig) DSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.Username
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN()
}

// Type returns the registry identifier.
func (a *MySQLAdapter) Type() string { return TypeMySQL }

// Connect opens the pool and pings the server.
func (a *MySQLAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", a.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if a.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.MaxOpenConns)
	}
	if a.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(a.cfg.MaxIdleConns)
	}
	if a.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(a.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.mu.Lock()
	a.native = db
	a.db = db
	a.mu.Unlock()
	a.logger.Info("connected", zap.String("host", a.cfg.Host), zap.String("database", a.cfg.Database))
	return nil
}

// Disconnect closes the pool. It is a no-op before Connect.
func (a *MySQLAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	native := a.native
	a.native = nil
	a.db = nil
	a.mu.Unlock()
	if native == nil {
		return nil
	}
	if err := native.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Connection returns the *sql.DB, or nil before Connect.
func (a *MySQLAdapter) Connection() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil
	}
	if a.native != nil {
		return a.native
	}
	return a.db
}

// Vocabulary returns the column type table.
func (a *MySQLAdapter) Vocabulary() core.TypeVocabulary { return mysqlVocabulary }

// IndexStyle returns the document style.
func (a *MySQLAdapter) IndexStyle() core.IndexStyle { return core.IndexStyleDocument }

// Define registers spec for the next Sync.
func (a *MySQLAdapter) Define(ctx context.Context, spec *core.TableSpec) (core.Model, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defineLocked(spec), nil
}

func (a *MySQLAdapter) defineLocked(spec *core.TableSpec) *mysqlModel {
	m, ok := a.models[spec.Name]
	if !ok {
		m = &mysqlModel{adapter: a}
		a.models[spec.Name] = m
		a.order = append(a.order, spec.Name)
	}
	m.spec = spec
	m.tableName = a.prefix + spec.Name
	return m
}

func (a *MySQLAdapter) getDB() (sqlDB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, core.ErrNotConnected
	}
	return a.db, nil
}

// Sync runs CREATE TABLE IF NOT EXISTS for every defined table.
func (a *MySQLAdapter) Sync(ctx context.Context) error {
	db, err := a.getDB()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if _, ok := a.models[SequenceTable]; !ok {
		a.defineLocked(sequenceSpec(mysqlVocabulary))
	}
	models := make([]*mysqlModel, 0, len(a.order))
	for _, name := range a.order {
		models = append(models, a.models[name])
	}
	a.mu.Unlock()

	for _, m := range models {
		ddl := buildCreateTable(m.tableName, m.spec)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return core.WrapAdapter(TypeMySQL, "sync", m.spec.Name, err)
		}
		a.logger.Debug("table synced", zap.String("table", m.tableName))
	}
	return nil
}

// Sequences returns the conditional-write sequence store.
func (a *MySQLAdapter) Sequences() core.SequenceStore {
	return &mysqlSequences{adapter: a}
}

func (a *MySQLAdapter) model(name string) (*mysqlModel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotSynced, name)
	}
	return m, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// indexableColumn reports whether a column type can be part of a key
// without a prefix length.
func indexableColumn(colType string) bool {
	switch strings.ToUpper(colType) {
	case "JSON", "TEXT", "BLOB", "LONGTEXT", "MEDIUMTEXT", "LONGBLOB", "MEDIUMBLOB":
		return false
	}
	return true
}

func columnType(f core.Field) string {
	if f.Type == "" {
		return "JSON"
	}
	return f.Type
}

func buildCreateTable(table string, spec *core.TableSpec) string {
	var lines []string
	for _, f := range spec.Fields {
		line := quoteIdent(f.Name) + " " + columnType(f)
		if f.Required {
			line += " NOT NULL"
		} else {
			line += " NULL"
		}
		lines = append(lines, line)
	}
	lines = append(lines, quoteIdent(mysqlExpiresAt)+" DATETIME(6) NULL")

	keyCols := make([]string, len(spec.Key))
	for i, k := range spec.Key {
		keyCols[i] = quoteIdent(k)
	}
	lines = append(lines, "PRIMARY KEY ("+strings.Join(keyCols, ", ")+")")

	for _, f := range spec.Fields {
		if f.Unique && !spec.IsKey(f.Name) && indexableColumn(columnType(f)) {
			lines = append(lines, "UNIQUE KEY "+quoteIdent("uniq_"+f.Name)+" ("+quoteIdent(f.Name)+")")
		}
	}
	for _, idx := range spec.Indexes {
		cols := make([]string, 0, len(idx.Fields))
		for _, name := range idx.Fields {
			f, ok := spec.Field(name)
			if !ok || !indexableColumn(columnType(f)) {
				cols = nil
				break
			}
			cols = append(cols, quoteIdent(name))
		}
		if len(cols) == 0 {
			continue
		}
		kind := "KEY "
		if idx.Unique {
			kind = "UNIQUE KEY "
		}
		lines = append(lines, kind+quoteIdent(idx.Name)+" ("+strings.Join(cols, ", ")+")")
	}
	lines = append(lines, "KEY "+quoteIdent("idx"+mysqlExpiresAt)+" ("+quoteIdent(mysqlExpiresAt)+")")

	return "CREATE TABLE IF NOT EXISTS " + quoteIdent(table) + " (\n  " + strings.Join(lines, ",\n  ") + "\n)"
}

type mysqlModel struct {
	adapter   *MySQLAdapter
	spec      *core.TableSpec
	tableName string
}

func (m *mysqlModel) Spec() *core.TableSpec { return m.spec }

// buildWhere renders conditions plus the expiry filter. Conditions on
// undeclared fields match nothing, or everything when negated.
func (m *mysqlModel) buildWhere(conditions core.Conditions, now time.Time) (string, []any, error) {
	var clauses []string
	var args []any
	for _, p := range conditions.Predicates() {
		f, declared := m.spec.Field(p.Field)
		if !declared {
			if p.Op != core.OpNe && p.Op != core.OpNin {
				clauses = append(clauses, "1 = 0")
			}
			continue
		}
		col := quoteIdent(p.Field)
		convert := func(v any) (any, error) {
			out, err := m.adapter.mapper.ConvertToDBValue(v, columnType(f))
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", p.Field, err)
			}
			return out, nil
		}
		switch p.Op {
		case "$eq", core.OpNe, core.OpGt, core.OpGte, core.OpLt, core.OpLte:
			v, err := convert(p.Value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, v)
			switch p.Op {
			case "$eq":
				clauses = append(clauses, col+" = ?")
			case core.OpNe:
				clauses = append(clauses, "("+col+" IS NULL OR "+col+" <> ?)")
			case core.OpGt:
				clauses = append(clauses, col+" > ?")
			case core.OpGte:
				clauses = append(clauses, col+" >= ?")
			case core.OpLt:
				clauses = append(clauses, col+" < ?")
			case core.OpLte:
				clauses = append(clauses, col+" <= ?")
			}
		case core.OpIn, core.OpNin:
			items := core.ToSlice(p.Value)
			if len(items) == 0 {
				if p.Op == core.OpIn {
					clauses = append(clauses, "1 = 0")
				}
				continue
			}
			marks := make([]string, len(items))
			for i, item := range items {
				v, err := convert(item)
				if err != nil {
					return "", nil, err
				}
				marks[i] = "?"
				args = append(args, v)
			}
			list := "(" + strings.Join(marks, ", ") + ")"
			if p.Op == core.OpIn {
				clauses = append(clauses, col+" IN "+list)
			} else {
				clauses = append(clauses, "("+col+" IS NULL OR "+col+" NOT IN "+list+")")
			}
		default:
			return "", nil, fmt.Errorf("unsupported operator %s on %s", p.Op, p.Field)
		}
	}

	expires := quoteIdent(mysqlExpiresAt)
	clauses = append(clauses, "("+expires+" IS NULL OR "+expires+" > ?)")
	args = append(args, now.UTC())
	return strings.Join(clauses, " AND "), args, nil
}

func (m *mysqlModel) orderBy() string {
	cols := make([]string, len(m.spec.Key))
	for i, k := range m.spec.Key {
		cols[i] = quoteIdent(k)
	}
	return strings.Join(cols, ", ")
}

func (m *mysqlModel) buildSelect(conditions core.Conditions, opts core.Options, now time.Time) (string, []any, error) {
	where, args, err := m.buildWhere(conditions, now)
	if err != nil {
		return "", nil, err
	}
	cols := make([]string, len(m.spec.Fields))
	for i, f := range m.spec.Fields {
		cols[i] = quoteIdent(f.Name)
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + quoteIdent(m.tableName) +
		" WHERE " + where + " ORDER BY " + m.orderBy()
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	return query, args, nil
}

// buildUpsert writes every declared column so that the stored row is
// fully replaced. Absent fields become NULL.
func (m *mysqlModel) buildUpsert(record core.Record, ttl time.Duration, now time.Time) (string, []any, error) {
	cols := make([]string, 0, len(m.spec.Fields)+1)
	marks := make([]string, 0, len(m.spec.Fields)+1)
	updates := make([]string, 0, len(m.spec.Fields)+1)
	args := make([]any, 0, len(m.spec.Fields)+1)

	for _, f := range m.spec.Fields {
		v, err := m.adapter.mapper.ConvertToDBValue(record[f.Name], columnType(f))
		if err != nil {
			return "", nil, fmt.Errorf("invalid value for %s: %w", f.Name, err)
		}
		col := quoteIdent(f.Name)
		cols = append(cols, col)
		marks = append(marks, "?")
		args = append(args, v)
		if !m.spec.IsKey(f.Name) {
			updates = append(updates, col+" = VALUES("+col+")")
		}
	}

	expires := quoteIdent(mysqlExpiresAt)
	cols = append(cols, expires)
	marks = append(marks, "?")
	if at := expiresAt(now, ttl); at.IsZero() {
		args = append(args, nil)
	} else {
		args = append(args, at.UTC())
	}
	updates = append(updates, expires+" = VALUES("+expires+")")

	query := "INSERT INTO " + quoteIdent(m.tableName) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")" +
		" ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	return query, args, nil
}

func (m *mysqlModel) Count(ctx context.Context, conditions core.Conditions, opts core.Options) (int64, error) {
	db, err := m.adapter.getDB()
	if err != nil {
		return 0, err
	}
	where, args, err := m.buildWhere(conditions, m.adapter.now())
	if err != nil {
		return 0, err
	}
	var count int64
	query := "SELECT COUNT(*) FROM " + quoteIdent(m.tableName) + " WHERE " + where
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, core.WrapAdapter(TypeMySQL, "count", m.spec.Name, err)
	}
	return count, nil
}

func (m *mysqlModel) Find(ctx context.Context, conditions core.Conditions, opts core.Options) ([]core.Record, error) {
	db, err := m.adapter.getDB()
	if err != nil {
		return nil, err
	}
	query, args, err := m.buildSelect(conditions, opts, m.adapter.now())
	if err != nil {
		return nil, err
	}
	m.adapter.logger.Debug("select", zap.String("query", query), zap.Int("args", len(args)))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapAdapter(TypeMySQL, "select", m.spec.Name, err)
	}
	defer rows.Close()

	var records []core.Record
	for rows.Next() {
		values := make([]any, len(m.spec.Fields))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record, err := m.decodeRow(values)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapAdapter(TypeMySQL, "select", m.spec.Name, err)
	}
	return finish(records, core.Options{Projection: opts.Projection}), nil
}

// decodeRow converts scanned columns back to record values. NULL
// columns are left out of the record.
func (m *mysqlModel) decodeRow(values []any) (core.Record, error) {
	record := make(core.Record, len(values))
	for i, f := range m.spec.Fields {
		v, err := m.adapter.mapper.ConvertFromDBValue(values[i], columnType(f))
		if err != nil {
			return nil, fmt.Errorf("failed to convert column %s: %w", f.Name, err)
		}
		if v != nil {
			record[f.Name] = v
		}
	}
	return schema.NormalizeRecord(record), nil
}

func (m *mysqlModel) Upsert(ctx context.Context, record core.Record, opts core.Options) (core.Record, error) {
	db, err := m.adapter.getDB()
	if err != nil {
		return nil, err
	}
	if _, ok := m.spec.KeyOf(record); !ok {
		return nil, fmt.Errorf("record is missing key fields %v", m.spec.Key)
	}
	query, args, err := m.buildUpsert(record, opts.TTLValue(), m.adapter.now())
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return nil, core.WrapAdapter(TypeMySQL, "upsert", m.spec.Name, err)
	}
	return copyRecord(record), nil
}

func (m *mysqlModel) Delete(ctx context.Context, conditions core.Conditions, opts core.Options) error {
	db, err := m.adapter.getDB()
	if err != nil {
		return err
	}
	// expired rows are deleted too
	where, args, err := m.buildWhere(conditions, time.Time{})
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, "DELETE FROM "+quoteIdent(m.tableName)+" WHERE "+where, args...)
	if err != nil {
		return core.WrapAdapter(TypeMySQL, "delete", m.spec.Name, err)
	}
	removed, _ := result.RowsAffected()
	m.adapter.logger.Debug("delete", zap.String("table", m.tableName), zap.Int64("removed", removed))
	return nil
}

// mysqlSequences implements compare-and-swap with INSERT IGNORE and a
// guarded UPDATE, detecting lost races through RowsAffected.
type mysqlSequences struct {
	adapter *MySQLAdapter
}

func (s *mysqlSequences) table() (sqlDB, string, error) {
	db, err := s.adapter.getDB()
	if err != nil {
		return nil, "", err
	}
	m, err := s.adapter.model(SequenceTable)
	if err != nil {
		return nil, "", err
	}
	return db, quoteIdent(m.tableName), nil
}

func (s *mysqlSequences) Read(ctx context.Context, key string) (int64, bool, error) {
	db, table, err := s.table()
	if err != nil {
		return 0, false, err
	}
	var value sql.NullInt64
	query := "SELECT " + quoteIdent(sequenceValueField) + " FROM " + table + " WHERE " + quoteIdent(sequenceKeyField) + " = ?"
	err = db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, core.WrapAdapter(TypeMySQL, "sequence.read", SequenceTable, err)
	}
	return value.Int64, true, nil
}

func (s *mysqlSequences) CompareAndSwap(ctx context.Context, key string, expected int64, exists bool, next int64) error {
	db, table, err := s.table()
	if err != nil {
		return err
	}
	keyCol, valueCol := quoteIdent(sequenceKeyField), quoteIdent(sequenceValueField)

	var result sql.Result
	if !exists {
		result, err = db.ExecContext(ctx,
			"INSERT IGNORE INTO "+table+" ("+keyCol+", "+valueCol+", "+quoteIdent(mysqlExpiresAt)+") VALUES (?, ?, NULL)",
			key, next)
	} else {
		result, err = db.ExecContext(ctx,
			"UPDATE "+table+" SET "+valueCol+" = ? WHERE "+keyCol+" = ? AND "+valueCol+" = ?",
			next, key, expected)
	}
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("sequence %s: %w", key, core.ErrConditionFailed)
		}
		return core.WrapAdapter(TypeMySQL, "sequence.swap", SequenceTable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WrapAdapter(TypeMySQL, "sequence.swap", SequenceTable, err)
	}
	if affected == 0 {
		return fmt.Errorf("sequence %s: %w", key, core.ErrConditionFailed)
	}
	return nil
}

// MySQLAdapterFactory creates MySQL adapters.
type MySQLAdapterFactory struct{}

// Type returns the type identifier for this factory.
func (f *MySQLAdapterFactory) Type() string { return TypeMySQL }

// Validate validates the MySQL-specific configuration.
func (f *MySQLAdapterFactory) Validate(config Config) error {
	if config.Type != TypeMySQL {
		return fmt.Errorf("invalid type for MySQL factory: %s", config.Type)
	}
	c := config.MySQL
	if c.Host == "" {
		return fmt.Errorf("host is required for MySQL")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required for MySQL")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got: %d", c.Port)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("pool sizes must be non-negative")
	}
	return nil
}

// Create creates a new MySQL adapter.
func (f *MySQLAdapterFactory) Create(config Config) (core.Adapter, error) {
	return NewMySQLAdapter(config.MySQL, config.Prefix, config.logger()), nil
}

func init() {
	RegisterFactory(&MySQLAdapterFactory{})
}
