package schema

import (
	"github.com/rzpsarthak13/unidb/internal/core"
)

// Merge combines a redefinition into an existing definition. Objects
// merge key by key, recursively; lists and scalars from src replace
// whatever dst held. Neither argument is modified.
func Merge(dst, src core.Node) core.Node {
	if src == nil {
		return core.Clone(dst)
	}
	if dst == nil {
		return core.Clone(src)
	}

	dstObj, dstIsObj := dst.(*core.Object)
	srcObj, srcIsObj := src.(*core.Object)
	if !dstIsObj || !srcIsObj {
		return core.Clone(src)
	}

	out := core.Clone(dstObj).(*core.Object)
	for _, k := range srcObj.Keys() {
		child, _ := srcObj.Get(k)
		if existing, ok := out.Get(k); ok {
			out.Set(k, Merge(existing, child))
			continue
		}
		out.Set(k, core.Clone(child))
	}
	return out
}
