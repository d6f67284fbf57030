package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Validation kinds produced by ValidatorVocabulary.
const (
	KindString   = "string"
	KindInteger  = "integer"
	KindNumber   = "number"
	KindBoolean  = "boolean"
	KindDatetime = "datetime"
	KindBinary   = "binary"
	KindObject   = "object"
	KindMap      = "map"
	KindArray    = "array"
	KindAny      = "any"
)

type rule struct {
	kind       string
	required   bool
	enum       []any
	properties []namedRule
	items      *rule
}

type namedRule struct {
	name string
	rule *rule
}

// SchemaValidator checks documents against a definition converted with
// NewValidatorConverter.
type SchemaValidator struct {
	root *rule
}

// NewSchemaValidator compiles a validator converted definition. Fields
// listed in key are always required.
func NewSchemaValidator(def core.Node, key []string) (*SchemaValidator, error) {
	obj, ok := def.(*core.Object)
	if !ok {
		return nil, fmt.Errorf("%w: definition must be an object", core.ErrInvalidSchema)
	}
	root, err := compileRule(obj)
	if err != nil {
		return nil, err
	}
	root.kind = KindObject
	for _, k := range key {
		for _, p := range root.properties {
			if p.name == k {
				p.rule.required = true
			}
		}
	}
	return &SchemaValidator{root: root}, nil
}

func compileRule(obj *core.Object) (*rule, error) {
	r := &rule{kind: KindAny}
	if t, ok := obj.Get(KeyType); ok {
		if s, ok := t.(core.Scalar); ok {
			if kind, ok := s.AsString(); ok {
				r.kind = kind
			}
		}
	}
	r.required = boolValue(obj, "required")
	if e, ok := obj.Get("enum"); ok {
		r.enum = core.ToSlice(e.Interface())
	}
	if props := Properties(obj); props != nil {
		for _, name := range props.Keys() {
			n, _ := props.Get(name)
			child, ok := n.(*core.Object)
			if !ok {
				return nil, fmt.Errorf("%w: field %q must be an object", core.ErrInvalidSchema, name)
			}
			cr, err := compileRule(child)
			if err != nil {
				return nil, err
			}
			r.properties = append(r.properties, namedRule{name: name, rule: cr})
		}
	}
	if items, ok := obj.Get("items"); ok {
		if child, ok := items.(*core.Object); ok {
			cr, err := compileRule(child)
			if err != nil {
				return nil, err
			}
			r.items = cr
		}
	}
	return r, nil
}

// ValidateRecord returns one descriptor per failed check, or nil.
func (sv *SchemaValidator) ValidateRecord(record map[string]any) []core.ErrorDescriptor {
	var errs []core.ErrorDescriptor
	sv.validateObject(sv.root, record, nil, "", &errs)
	return errs
}

func (sv *SchemaValidator) validateObject(r *rule, doc map[string]any, path []string, schemaPath string, errs *[]core.ErrorDescriptor) {
	for _, p := range r.properties {
		fieldPath := append(append([]string(nil), path...), p.name)
		fieldSchemaPath := schemaPath + "/" + KeyProperties + "/" + p.name
		value, present := doc[p.name]
		if !present || value == nil {
			if p.rule.required {
				*errs = append(*errs, core.ErrorDescriptor{
					Property:   bracketPath(fieldPath),
					SchemaPath: fieldSchemaPath + "/required",
					Message:    "is required",
				})
			}
			continue
		}
		sv.validateValue(p.rule, value, fieldPath, fieldSchemaPath, errs)
	}
}

func (sv *SchemaValidator) validateValue(r *rule, value any, path []string, schemaPath string, errs *[]core.ErrorDescriptor) {
	if !kindMatches(r.kind, value) {
		*errs = append(*errs, core.ErrorDescriptor{
			Property:   bracketPath(path),
			SchemaPath: schemaPath + "/type",
			Message:    "must be of type " + r.kind,
			Actual:     value,
		})
		return
	}
	if len(r.enum) > 0 {
		found := false
		for _, allowed := range r.enum {
			if core.Equal(value, allowed) {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, core.ErrorDescriptor{
				Property:   bracketPath(path),
				SchemaPath: schemaPath + "/enum",
				Message:    fmt.Sprintf("must be one of %v", r.enum),
				Actual:     value,
			})
			return
		}
	}
	if len(r.properties) > 0 {
		if nested, ok := asMap(value); ok {
			sv.validateObject(r, nested, path, schemaPath, errs)
		}
	}
	if r.items != nil {
		for i, item := range core.ToSlice(value) {
			itemPath := append(append([]string(nil), path...), strconv.Itoa(i))
			sv.validateValue(r.items, item, itemPath, schemaPath+"/items", errs)
		}
	}
}

func kindMatches(kind string, value any) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInteger:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float32:
			return float64(v) == math.Trunc(float64(v))
		case float64:
			return v == math.Trunc(v)
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case KindNumber:
		_, ok := core.ToFloat(value)
		return ok
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindDatetime:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, err := toTime(v)
			return err == nil
		}
		return false
	case KindBinary:
		switch value.(type) {
		case []byte, string:
			return true
		}
		return false
	case KindObject, KindMap:
		_, ok := asMap(value)
		return ok
	case KindArray:
		if _, ok := value.([]byte); ok {
			return false
		}
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	default:
		return true
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case core.Record:
		return v, true
	}
	return nil, false
}

// bracketPath renders path segments as "$['a']['b']".
func bracketPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range path {
		b.WriteString("['")
		b.WriteString(seg)
		b.WriteString("']")
	}
	return b.String()
}
