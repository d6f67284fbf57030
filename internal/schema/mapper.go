package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Tokens lists the abstract type vocabulary accepted in schema
// definitions, grouped by kind.
var Tokens = map[string][]string{
	"string":     {"string", "text", "varchar", "ascii", "inet"},
	"number":     {"int", "integer", "bigint", "varint", "counter", "decimal", "double", "float", "number"},
	"boolean":    {"bool", "boolean"},
	"datetime":   {"date", "datetime", "timestamp"},
	"identifier": {"uuid", "timeuuid", "object_id", "objectid"},
	"binary":     {"blob", "buffer"},
	"collection": {"array", "list", "set"},
	"structure":  {"map", "object", "mixed", "any"},
}

// ValidatorVocabulary maps abstract tokens to the kinds the validator
// checks values against.
var ValidatorVocabulary = core.TypeVocabulary{
	"any":       "any",
	"array":     "array",
	"ascii":     "string",
	"bigint":    "integer",
	"blob":      "binary",
	"bool":      "boolean",
	"boolean":   "boolean",
	"buffer":    "binary",
	"counter":   "integer",
	"date":      "datetime",
	"datetime":  "datetime",
	"decimal":   "number",
	"double":    "number",
	"float":     "number",
	"inet":      "string",
	"int":       "integer",
	"integer":   "integer",
	"list":      "array",
	"map":       "map",
	"mixed":     "any",
	"number":    "number",
	"object":    "object",
	"object_id": "string",
	"objectid":  "string",
	"set":       "array",
	"string":    "string",
	"text":      "string",
	"timestamp": "datetime",
	"timeuuid":  "string",
	"uuid":      "string",
	"varchar":   "string",
	"varint":    "integer",
}

// TypeMapper resolves abstract type tokens against one backend
// vocabulary and coerces Go values to the resolved native types.
type TypeMapper struct {
	vocabulary core.TypeVocabulary
}

// NewTypeMapper creates a type mapper for the given vocabulary.
func NewTypeMapper(vocabulary core.TypeVocabulary) *TypeMapper {
	return &TypeMapper{vocabulary: vocabulary}
}

// Map returns the native type for token. Matching ignores case and
// surrounding space. Unknown tokens are returned unchanged so that
// definitions may name native types directly.
func (tm *TypeMapper) Map(token string) string {
	if native, ok := tm.vocabulary[strings.ToLower(strings.TrimSpace(token))]; ok {
		return native
	}
	return token
}

// MapValue maps a "type" value from a definition tree. Only strings
// are looked up; anything else passes through.
func (tm *TypeMapper) MapValue(v any) any {
	if s, ok := v.(string); ok {
		return tm.Map(s)
	}
	return v
}

// ConvertToDBValue converts a Go value to the representation a SQL
// column of dbType expects.
func (tm *TypeMapper) ConvertToDBValue(value any, dbType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch baseType(dbType) {
	case "INT", "INTEGER", "MEDIUMINT", "BIGINT", "SMALLINT", "TINYINT":
		return toInt64(value)
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return toFloat64(value)
	case "DECIMAL", "NUMERIC", "VARCHAR", "CHAR", "TEXT", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT":
		return toString(value)
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return toBytes(value)
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		t, err := toTime(value)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case "BOOLEAN", "BOOL":
		return toBool(value)
	case "JSON", "JSONB":
		return toJSON(value)
	default:
		return toString(value)
	}
}

// ConvertFromDBValue converts a scanned column value back to the Go
// value stored in records.
func (tm *TypeMapper) ConvertFromDBValue(value any, dbType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	if valuer, ok := value.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, nil
		}
		value = val
	}

	switch baseType(dbType) {
	case "INT", "INTEGER", "MEDIUMINT", "BIGINT", "SMALLINT", "TINYINT":
		return toInt64(value)
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return toFloat64(value)
	case "BOOLEAN", "BOOL":
		return toBool(value)
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		t, err := toTime(value)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case "JSON", "JSONB":
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return value, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("cannot parse JSON column: %w", err)
		}
		return out, nil
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return toBytes(value)
	default:
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return value, nil
	}
}

func baseType(dbType string) string {
	upper := strings.ToUpper(strings.TrimSpace(dbType))
	if idx := strings.Index(upper, "("); idx > 0 {
		return upper[:idx]
	}
	return upper
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case []byte:
		return toInt64(string(v))
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func toFloat64(value any) (float64, error) {
	if f, ok := core.ToFloat(value); ok {
		return f, nil
	}
	switch v := value.(type) {
	case []byte:
		return toFloat64(string(v))
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return fmt.Sprintf("%g", v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(bytes), nil
	}
}

func toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to []byte", value)
	}
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return toTime(string(v))
	case string:
		for _, format := range timeFormats {
			if t, err := time.Parse(format, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time string: %s", v)
	case int64:
		return time.Unix(v, 0), nil
	case float64:
		return time.Unix(int64(v), 0), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(v).Int() != 0, nil
	case uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Uint() != 0, nil
	case []byte:
		return toBool(string(v))
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i != 0, nil
			}
			return false, fmt.Errorf("cannot convert string to bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

// MySQL expects JSON columns as strings holding valid JSON.
func toJSON(value any) (any, error) {
	switch v := value.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("cannot parse JSON string")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("cannot parse JSON bytes")
		}
		return string(v), nil
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal %T to JSON: %w", v, err)
		}
		return string(bytes), nil
	}
}
