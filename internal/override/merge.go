package override

import (
	"reflect"

	"funnel/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
)

// applySchemaOverride rewrites a tool input schema per the override's
// strategy. The result is always a fresh schema; the original is never
// mutated.
func applySchemaOverride(original mcp.ToolInputSchema, ov *config.InputSchemaOverride) mcp.ToolInputSchema {
	switch ov.Strategy {
	case config.StrategyReplace:
		out := mcp.ToolInputSchema{Type: "object"}
		if original.Type != "" {
			out.Type = original.Type
		}
		out.Properties = copyValueMap(ov.Properties)
		out.Required = append([]string(nil), ov.Required...)
		return out

	case config.StrategyMerge:
		out := copySchema(original)
		if out.Properties == nil && len(ov.Properties) > 0 {
			out.Properties = make(map[string]interface{}, len(ov.Properties))
		}
		// Shallow: top-level property entries from the override win per key.
		for k, v := range ov.Properties {
			out.Properties[k] = deepCopyValue(v)
		}
		if ov.Required != nil {
			out.Required = append([]string(nil), ov.Required...)
		}
		return out

	case config.StrategyDeepMerge:
		out := copySchema(original)
		source := ov.Properties
		if len(ov.PropertyOverrides) > 0 {
			source = ov.PropertyOverrides
		}
		merged := deepMergeMaps(out.Properties, source, newVisitSet())
		out.Properties = merged
		if ov.Required != nil {
			out.Required = append([]string(nil), ov.Required...)
		}
		return out
	}
	return copySchema(original)
}

// visitSet tracks visited map nodes by identity to survive cyclic inputs.
type visitSet map[uintptr]bool

func newVisitSet() visitSet { return make(visitSet) }

// seen marks m visited and reports whether it already was.
func (v visitSet) seen(m map[string]interface{}) bool {
	if m == nil {
		return false
	}
	ptr := reflect.ValueOf(m).Pointer()
	if v[ptr] {
		return true
	}
	v[ptr] = true
	return false
}

// deepMergeMaps recursively merges override into original, returning a new
// map. Objects merge key-by-key; a nested "properties" sub-map recurses;
// primitives and arrays from the override replace the original. On a
// detected cycle the original subtree is kept unchanged.
func deepMergeMaps(original, override map[string]interface{}, visited visitSet) map[string]interface{} {
	if visited.seen(original) || visited.seen(override) {
		return original
	}

	out := make(map[string]interface{}, len(original)+len(override))
	for k, v := range original {
		out[k] = v
	}
	for k, ovVal := range override {
		origVal, exists := out[k]
		if !exists {
			out[k] = deepCopyValueGuarded(ovVal, visited)
			continue
		}
		origMap, origIsMap := asStringMap(origVal)
		ovMap, ovIsMap := asStringMap(ovVal)
		if origIsMap && ovIsMap {
			out[k] = deepMergeMaps(origMap, ovMap, visited)
			continue
		}
		// Primitives and arrays: override replaces original.
		out[k] = deepCopyValueGuarded(ovVal, visited)
	}
	return out
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// copySchema clones a schema one level deep plus a deep copy of properties,
// so merges never alias the cached original.
func copySchema(s mcp.ToolInputSchema) mcp.ToolInputSchema {
	out := s
	out.Properties = copyValueMap(s.Properties)
	out.Required = append([]string(nil), s.Required...)
	return out
}

func copyValueMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	return deepCopyValueGuarded(v, newVisitSet())
}

// deepCopyValueGuarded copies nested maps and slices; a cyclic map is
// returned as-is rather than recursed into.
func deepCopyValueGuarded(v interface{}, visited visitSet) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		if visited.seen(typed) {
			return typed
		}
		out := make(map[string]interface{}, len(typed))
		for k, nested := range typed {
			out[k] = deepCopyValueGuarded(nested, visited)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, nested := range typed {
			out[i] = deepCopyValueGuarded(nested, visited)
		}
		return out
	default:
		return v
	}
}
