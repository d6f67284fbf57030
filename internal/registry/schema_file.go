package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Schema is one named definition read from a schema file.
type Schema struct {
	Name       string
	Definition core.Node
}

// LoadSchemaFile reads a YAML file mapping table names to definitions.
func LoadSchemaFile(path string) ([]Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	schemas, err := ParseSchemas(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return schemas, nil
}

// ParseSchemas decodes YAML mapping table names to definitions. Tables
// and their properties keep the order they are written in.
func ParseSchemas(data []byte) ([]Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}

	root, err := nodeFromYAML(&doc)
	if err != nil {
		return nil, err
	}
	obj, ok := root.(*core.Object)
	if !ok {
		if s, isScalar := root.(core.Scalar); isScalar && s.Value == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: top level must map table names to definitions", core.ErrInvalidSchema)
	}

	schemas := make([]Schema, 0, obj.Len())
	for _, name := range obj.Keys() {
		def, _ := obj.Get(name)
		schemas = append(schemas, Schema{Name: name, Definition: def})
	}
	return schemas, nil
}

func nodeFromYAML(n *yaml.Node) (core.Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return core.Scalar{}, nil
		}
		return nodeFromYAML(n.Content[0])
	case yaml.AliasNode:
		return nodeFromYAML(n.Alias)
	case yaml.MappingNode:
		obj := core.NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Tag == "!!merge" {
				merged, err := nodeFromYAML(v)
				if err != nil {
					return nil, err
				}
				if mo, ok := merged.(*core.Object); ok {
					for _, mk := range mo.Keys() {
						if _, exists := obj.Get(mk); !exists {
							child, _ := mo.Get(mk)
							obj.Set(mk, child)
						}
					}
				}
				continue
			}
			child, err := nodeFromYAML(v)
			if err != nil {
				return nil, err
			}
			obj.Set(k.Value, child)
		}
		return obj, nil
	case yaml.SequenceNode:
		list := make(core.List, 0, len(n.Content))
		for _, item := range n.Content {
			child, err := nodeFromYAML(item)
			if err != nil {
				return nil, err
			}
			list = append(list, child)
		}
		return list, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return core.Scalar{Value: v}, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", n.Line, n.Kind)
	}
}
