package core

import (
	"fmt"
	"sort"
)

// Node is one element of a schema definition tree. It is one of
// *Object, List or Scalar.
type Node interface {
	// Interface converts the node back into plain Go values
	// (map[string]any, []any and scalars).
	Interface() any

	isNode()
}

// Object is an insertion-ordered mapping of child nodes.
type Object struct {
	keys   []string
	values map[string]Node
}

// List is an ordered sequence of child nodes.
type List []Node

// Scalar is a leaf value: string, number, bool or nil.
type Scalar struct {
	Value any
}

func (*Object) isNode() {}
func (List) isNode()    {}
func (Scalar) isNode()  {}

// NewObject creates an empty object node.
func NewObject() *Object {
	return &Object{values: make(map[string]Node)}
}

// Get returns the child stored under key.
func (o *Object) Get(key string) (Node, bool) {
	if o == nil {
		return nil, false
	}
	n, ok := o.values[key]
	return n, ok
}

// Set stores a child, appending the key if it is new.
func (o *Object) Set(key string, n Node) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = n
}

// Delete removes a child if present.
func (o *Object) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of children.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Interface implements Node.
func (o *Object) Interface() any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = o.values[k].Interface()
	}
	return out
}

// Interface implements Node.
func (l List) Interface() any {
	out := make([]any, len(l))
	for i, n := range l {
		out[i] = n.Interface()
	}
	return out
}

// Interface implements Node.
func (s Scalar) Interface() any {
	return s.Value
}

// AsString returns the scalar as a string and whether it was one.
func (s Scalar) AsString() (string, bool) {
	v, ok := s.Value.(string)
	return v, ok
}

// NodeOf builds a node tree from plain Go values. Map keys are sorted
// because Go maps carry no order; load definitions from yaml to keep
// the declared order.
func NodeOf(v any) Node {
	switch val := v.(type) {
	case Node:
		return val
	case map[string]any:
		obj := NewObject()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, NodeOf(val[k]))
		}
		return obj
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = item
		}
		return NodeOf(m)
	case []any:
		list := make(List, len(val))
		for i, item := range val {
			list[i] = NodeOf(item)
		}
		return list
	case []string:
		list := make(List, len(val))
		for i, item := range val {
			list[i] = Scalar{Value: item}
		}
		return list
	case []map[string]any:
		list := make(List, len(val))
		for i, item := range val {
			list[i] = NodeOf(item)
		}
		return list
	default:
		return Scalar{Value: v}
	}
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch val := n.(type) {
	case *Object:
		out := NewObject()
		for _, k := range val.keys {
			out.Set(k, Clone(val.values[k]))
		}
		return out
	case List:
		out := make(List, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return n
	}
}
