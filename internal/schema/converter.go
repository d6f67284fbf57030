package schema

import (
	"github.com/rzpsarthak13/unidb/internal/core"
)

// Definition keys with special meaning during conversion.
const (
	KeyType       = "type"
	KeyProperties = "properties"
	KeySchema     = "schema"
	KeyIndex      = "index"
	KeyIndexes    = "indexes"
	KeyFields     = "fields"
	KeyOptions    = "options"
)

// Converter rewrites a definition tree for one backend. It maps every
// "type" value through a TypeMapper and normalizes index declarations.
type Converter struct {
	mapper     *TypeMapper
	style      core.IndexStyle
	keepNested bool
}

// NewConverter creates a backend converter. Nested "properties" under a
// typed field are dropped, leaving the backend an opaque structure.
func NewConverter(mapper *TypeMapper, style core.IndexStyle) *Converter {
	return &Converter{mapper: mapper, style: style}
}

// NewValidatorConverter creates the converter feeding the validator. It
// keeps nested properties so nested fields can be checked.
func NewValidatorConverter() *Converter {
	return &Converter{
		mapper:     NewTypeMapper(ValidatorVocabulary),
		style:      core.IndexStyleDocument,
		keepNested: true,
	}
}

// Convert returns a converted copy of n. The input is not modified.
// Converting an already converted tree returns an equal tree.
func (c *Converter) Convert(n core.Node) core.Node {
	return c.convert(n, true, false)
}

// fieldMap is set while walking a properties map, whose keys are field
// names rather than definition keywords.
func (c *Converter) convert(n core.Node, root, fieldMap bool) core.Node {
	switch v := n.(type) {
	case *core.Object:
		if fieldMap {
			out := core.NewObject()
			for _, k := range v.Keys() {
				child, _ := v.Get(k)
				out.Set(k, c.convert(child, false, false))
			}
			return out
		}
		_, typed := v.Get(KeyType)
		out := core.NewObject()
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			switch k {
			case KeyType:
				if s, ok := child.(core.Scalar); ok {
					out.Set(k, core.Scalar{Value: c.mapper.MapValue(s.Value)})
				} else {
					out.Set(k, c.convert(child, false, false))
				}
			case KeyIndex, KeyIndexes:
				out.Set(k, c.normalizeIndexes(child))
			case KeyProperties:
				if typed && !root && !c.keepNested {
					continue
				}
				out.Set(k, c.convert(child, false, true))
			case KeySchema:
				out.Set(k, c.convert(child, false, true))
			default:
				out.Set(k, c.convert(child, false, false))
			}
		}
		return out
	case core.List:
		out := make(core.List, len(v))
		for i, item := range v {
			out[i] = c.convert(item, false, false)
		}
		return out
	default:
		return n
	}
}

func (c *Converter) normalizeIndexes(n core.Node) core.Node {
	entries, ok := n.(core.List)
	if !ok {
		entries = core.List{n}
	}
	out := make(core.List, 0, len(entries))
	for _, entry := range entries {
		out = append(out, c.normalizeIndex(entry))
	}
	return out
}

// normalizeIndex shapes one index declaration:
//
//	"email"                      -> {fields: {email: 1}}
//	["a", "b"]                   -> {fields: {a: 1, b: 1}}
//	{fields: [...]|{...}, ...}   -> {fields: {...}, options: ...}
//	{a: 1, b: -1}                -> {fields: {a: 1, b: -1}}
//
// In the wide style a single field index without options collapses to
// the bare field name.
func (c *Converter) normalizeIndex(n core.Node) core.Node {
	var fields *core.Object
	var options core.Node

	switch v := n.(type) {
	case core.Scalar:
		name, ok := v.AsString()
		if !ok {
			return n
		}
		fields = fieldSet([]string{name})
	case core.List:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(core.Scalar)
			if !ok {
				return n
			}
			name, ok := s.AsString()
			if !ok {
				return n
			}
			names = append(names, name)
		}
		fields = fieldSet(names)
	case *core.Object:
		if f, ok := v.Get(KeyFields); ok {
			switch fv := f.(type) {
			case *core.Object:
				fields = core.Clone(fv).(*core.Object)
			case core.List:
				list := c.normalizeIndex(fv)
				if obj, ok := list.(*core.Object); ok {
					inner, _ := obj.Get(KeyFields)
					fields, _ = inner.(*core.Object)
				} else if s, ok := list.(core.Scalar); ok {
					name, _ := s.AsString()
					fields = fieldSet([]string{name})
				}
			case core.Scalar:
				if name, ok := fv.AsString(); ok {
					fields = fieldSet([]string{name})
				}
			}
			if fields == nil {
				return core.Clone(n)
			}
			if o, ok := v.Get(KeyOptions); ok {
				options = core.Clone(o)
			}
		} else {
			fields = core.Clone(v).(*core.Object)
		}
	default:
		return n
	}

	if c.style == core.IndexStyleWide && fields.Len() == 1 && options == nil {
		return core.Scalar{Value: fields.Keys()[0]}
	}

	out := core.NewObject()
	out.Set(KeyFields, fields)
	if options != nil {
		out.Set(KeyOptions, options)
	}
	return out
}

func fieldSet(names []string) *core.Object {
	obj := core.NewObject()
	for _, name := range names {
		obj.Set(name, core.Scalar{Value: 1})
	}
	return obj
}
