package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Compile builds the typed table spec from a converted definition.
func Compile(name string, converted core.Node) (*core.TableSpec, error) {
	root, ok := converted.(*core.Object)
	if !ok {
		return nil, fmt.Errorf("%w: table %s: definition must be an object", core.ErrInvalidSchema, name)
	}

	spec := &core.TableSpec{
		Name:      name,
		Converted: converted,
	}

	key, err := stringList(root, "key")
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %v", core.ErrInvalidSchema, name, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: table %s: key is empty", core.ErrInvalidSchema, name)
	}
	spec.Key = key

	props := Properties(root)
	if props == nil {
		return nil, fmt.Errorf("%w: table %s: no properties declared", core.ErrInvalidSchema, name)
	}
	for _, fieldName := range props.Keys() {
		node, _ := props.Get(fieldName)
		field, err := compileField(fieldName, node)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", core.ErrInvalidSchema, name, err)
		}
		spec.Fields = append(spec.Fields, field)
	}

	for i, k := range spec.Key {
		if !spec.HasField(k) {
			return nil, fmt.Errorf("%w: table %s: key field %q is not declared", core.ErrInvalidSchema, name, k)
		}
		for j := range spec.Fields {
			if spec.Fields[j].Name == k {
				spec.Fields[j].Required = true
			}
		}
		for _, other := range spec.Key[:i] {
			if other == k {
				return nil, fmt.Errorf("%w: table %s: key field %q repeated", core.ErrInvalidSchema, name, k)
			}
		}
	}

	for _, k := range []string{KeyIndex, KeyIndexes} {
		n, ok := root.Get(k)
		if !ok {
			continue
		}
		indexes, err := compileIndexes(n)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", core.ErrInvalidSchema, name, err)
		}
		spec.Indexes = append(spec.Indexes, indexes...)
	}

	if n, ok := root.Get("ttl"); ok {
		ttl, err := ParseTTL(n)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", core.ErrInvalidSchema, name, err)
		}
		spec.TTL = ttl
	}

	if n, ok := root.Get(KeyOptions); ok {
		if m, ok := n.Interface().(map[string]any); ok {
			spec.Options = m
		}
	}

	return spec, nil
}

// Properties returns the field map of a definition, declared under
// either "properties" or "schema".
func Properties(def *core.Object) *core.Object {
	for _, k := range []string{KeyProperties, KeySchema} {
		if n, ok := def.Get(k); ok {
			if obj, ok := n.(*core.Object); ok {
				return obj
			}
		}
	}
	return nil
}

func compileField(name string, n core.Node) (core.Field, error) {
	obj, ok := n.(*core.Object)
	if !ok {
		return core.Field{}, fmt.Errorf("field %q must be an object", name)
	}
	field := core.Field{Name: name}
	if t, ok := obj.Get(KeyType); ok {
		if s, ok := t.(core.Scalar); ok {
			field.Type, _ = s.AsString()
		}
	}
	field.Required = boolValue(obj, "required")
	field.Unique = boolValue(obj, "unique")
	if d, ok := obj.Get("default"); ok {
		field.Default = d.Interface()
		field.HasDefault = true
	}
	return field, nil
}

func compileIndexes(n core.Node) ([]core.Index, error) {
	list, ok := n.(core.List)
	if !ok {
		list = core.List{n}
	}
	out := make([]core.Index, 0, len(list))
	for _, entry := range list {
		var idx core.Index
		switch v := entry.(type) {
		case core.Scalar:
			name, ok := v.AsString()
			if !ok {
				return nil, fmt.Errorf("index entry %v is not a field name", v.Value)
			}
			idx.Fields = []string{name}
		case *core.Object:
			f, ok := v.Get(KeyFields)
			if !ok {
				return nil, fmt.Errorf("index entry has no fields")
			}
			fields, ok := f.(*core.Object)
			if !ok {
				return nil, fmt.Errorf("index fields must be a mapping")
			}
			idx.Fields = fields.Keys()
			if o, ok := v.Get(KeyOptions); ok {
				if opts, ok := o.Interface().(map[string]any); ok {
					idx.Options = opts
					if u, ok := opts["unique"].(bool); ok {
						idx.Unique = u
					}
					if n, ok := opts["name"].(string); ok {
						idx.Name = n
					}
				}
			}
		default:
			return nil, fmt.Errorf("unsupported index entry %T", entry)
		}
		if idx.Name == "" {
			idx.Name = "idx_" + strings.Join(idx.Fields, "_")
		}
		out = append(out, idx)
	}
	return out, nil
}

func stringList(obj *core.Object, key string) ([]string, error) {
	n, ok := obj.Get(key)
	if !ok {
		return nil, nil
	}
	switch v := n.(type) {
	case core.Scalar:
		s, ok := v.AsString()
		if !ok {
			return nil, fmt.Errorf("%s must be a string or a list of strings", key)
		}
		return []string{s}, nil
	case core.List:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(core.Scalar)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings", key)
			}
			str, ok := s.AsString()
			if !ok || str == "" {
				return nil, fmt.Errorf("%s must be a list of strings", key)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", key)
	}
}

func boolValue(obj *core.Object, key string) bool {
	n, ok := obj.Get(key)
	if !ok {
		return false
	}
	s, ok := n.(core.Scalar)
	if !ok {
		return false
	}
	b, _ := s.Value.(bool)
	return b
}

// ParseTTL accepts seconds as a number or a Go duration string.
func ParseTTL(n core.Node) (time.Duration, error) {
	s, ok := n.(core.Scalar)
	if !ok {
		return 0, fmt.Errorf("ttl must be a scalar")
	}
	if str, ok := s.AsString(); ok {
		d, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid ttl %q: %w", str, err)
		}
		return d, nil
	}
	secs, ok := core.ToFloat(s.Value)
	if !ok || secs < 0 {
		return 0, fmt.Errorf("invalid ttl %v", s.Value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
