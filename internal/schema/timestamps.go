package schema

import (
	"github.com/rzpsarthak13/unidb/internal/core"
)

// Timestamp fields maintained on every write.
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// KeyTimestamps controls the timestamp fields: false disables them,
// {index: true} also indexes them.
const KeyTimestamps = "timestamps"

// ApplyTimestamps returns a copy of def with created_at and updated_at
// declared, unless the definition opts out. The second result reports
// whether timestamps are enabled.
func ApplyTimestamps(def core.Node) (core.Node, bool) {
	obj, ok := def.(*core.Object)
	if !ok {
		return def, false
	}
	out := core.Clone(obj).(*core.Object)

	index := false
	if n, ok := out.Get(KeyTimestamps); ok {
		out.Delete(KeyTimestamps)
		switch v := n.(type) {
		case core.Scalar:
			if enabled, ok := v.Value.(bool); ok && !enabled {
				return out, false
			}
		case *core.Object:
			index = boolValue(v, "index")
		}
	}

	props := Properties(out)
	if props == nil {
		return out, false
	}
	for _, name := range []string{FieldCreatedAt, FieldUpdatedAt} {
		if _, exists := props.Get(name); exists {
			continue
		}
		field := core.NewObject()
		field.Set(KeyType, core.Scalar{Value: "timestamp"})
		props.Set(name, field)
	}

	if index {
		var list core.List
		if existing, ok := out.Get(KeyIndexes); ok {
			if l, ok := existing.(core.List); ok {
				list = l
			} else {
				list = core.List{existing}
			}
		}
		list = append(list, core.Scalar{Value: FieldCreatedAt}, core.Scalar{Value: FieldUpdatedAt})
		out.Set(KeyIndexes, list)
	}
	return out, true
}
