package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// RootPath keys errors that do not name a field.
const RootPath = "$"

var (
	bracketJoin  = strings.NewReplacer("][", ".")
	bracketStrip = strings.NewReplacer("'", "", "\"", "", "$", "", "[", "", "]", "")
)

// ConvertErrors normalizes validator output into an ErrorMap. It accepts
// a list of descriptors ([]core.ErrorDescriptor, []map[string]any or
// []any), a map carrying an "errors" list, or a *core.ValidationError.
// Anything else yields an empty map. Errors reported for the same path
// are kept together in arrival order.
func ConvertErrors(raw any) core.ErrorMap {
	out := make(core.ErrorMap)
	for _, d := range Descriptors(raw) {
		out.Add(SplitPath(d), d)
	}
	return out
}

// Descriptors extracts the error descriptors from any shape accepted by
// ConvertErrors.
func Descriptors(raw any) []core.ErrorDescriptor {
	switch v := raw.(type) {
	case nil:
		return nil
	case []core.ErrorDescriptor:
		return v
	case *core.ValidationError:
		return v.Descriptors
	case error:
		var ve *core.ValidationError
		if errors.As(v, &ve) {
			return ve.Descriptors
		}
		return nil
	case []map[string]any:
		out := make([]core.ErrorDescriptor, 0, len(v))
		for _, m := range v {
			out = append(out, descriptorFromMap(m))
		}
		return out
	case []any:
		out := make([]core.ErrorDescriptor, 0, len(v))
		for _, item := range v {
			switch e := item.(type) {
			case core.ErrorDescriptor:
				out = append(out, e)
			case *core.ErrorDescriptor:
				if e != nil {
					out = append(out, *e)
				}
			case map[string]any:
				out = append(out, descriptorFromMap(e))
			}
		}
		return out
	case map[string]any:
		if errs, ok := v["errors"]; ok {
			switch errs.(type) {
			case []any, []map[string]any, []core.ErrorDescriptor:
				return Descriptors(errs)
			}
		}
		return nil
	default:
		return nil
	}
}

func descriptorFromMap(m map[string]any) core.ErrorDescriptor {
	d := core.ErrorDescriptor{Actual: m["actual"]}
	for _, k := range []string{"property", "instancePath", "dataPath", "path"} {
		if s, ok := m[k].(string); ok && s != "" {
			d.Property = s
			break
		}
	}
	if d.Property == "" {
		if params, ok := m["params"].(map[string]any); ok {
			if s, ok := params["key"].(string); ok {
				d.Property = s
			}
		}
	}
	if s, ok := m["schemaPath"].(string); ok {
		d.SchemaPath = s
	}
	switch msg := m["message"].(type) {
	case string:
		d.Message = msg
	case nil:
	default:
		d.Message = fmt.Sprint(msg)
	}
	return d
}

// NormalizePath returns the dotted field path a descriptor refers to.
// The property may be written as "$['a']['b']", "$.a.b", "/a/b" or
// "a.b"; without a property the schema path "/properties/a/properties/b/..."
// is used.
func NormalizePath(d core.ErrorDescriptor) string {
	if d.Property != "" {
		return normalizeProperty(d.Property)
	}
	if d.SchemaPath != "" {
		return schemaPathFields(d.SchemaPath)
	}
	return RootPath
}

// SplitPath returns the path segments of a descriptor.
func SplitPath(d core.ErrorDescriptor) []string {
	path := NormalizePath(d)
	var out []string
	for _, seg := range strings.Split(path, ".") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return []string{RootPath}
	}
	return out
}

func normalizeProperty(p string) string {
	if p == "instance" {
		return RootPath
	}
	p = strings.TrimPrefix(p, "instance.")
	if strings.ContainsAny(p, "[$") {
		p = bracketStrip.Replace(bracketJoin.Replace(p))
	}
	if strings.HasPrefix(p, "/") {
		p = strings.ReplaceAll(p, "/", ".")
	}
	p = strings.Trim(p, ".")
	if p == "" {
		return RootPath
	}
	return p
}

func schemaPathFields(sp string) string {
	segments := strings.Split(strings.TrimPrefix(sp, "#"), "/")
	var fields []string
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == KeyProperties {
			fields = append(fields, segments[i+1])
			i++
		}
	}
	if len(fields) == 0 {
		return RootPath
	}
	return strings.Join(fields, ".")
}
