package override

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the override may be applied.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// ValidateOverride compares a tool before and after an override.
//
// Errors: a property's type changed.
// Warnings: a formerly-required parameter was removed; a new required
// parameter was added (meaningful for dynamic changes, where callers may
// already depend on the original contract).
func ValidateOverride(original, overridden mcp.Tool) ValidationResult {
	var result ValidationResult

	for name, origVal := range original.InputSchema.Properties {
		ovVal, exists := overridden.InputSchema.Properties[name]
		if !exists {
			continue
		}
		origType := propertyType(origVal)
		ovType := propertyType(ovVal)
		if origType != "" && ovType != "" && origType != ovType {
			result.Errors = append(result.Errors,
				fmt.Sprintf("property %q changed type from %s to %s", name, origType, ovType))
		}
	}

	origRequired := stringSet(original.InputSchema.Required)
	ovRequired := stringSet(overridden.InputSchema.Required)

	for name := range origRequired {
		if !ovRequired[name] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("formerly required parameter %q was removed from required", name))
		}
	}
	for name := range ovRequired {
		if !origRequired[name] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("new required parameter %q was added", name))
		}
	}

	return result
}

func propertyType(v interface{}) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	t, _ := m["type"].(string)
	return t
}

func stringSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// syntheticTool is the minimal tool dynamic mutations are validated against.
func syntheticTool(name string) mcp.Tool {
	return mcp.Tool{
		Name: name,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"input": map[string]interface{}{"type": "string"},
			},
			Required: []string{"input"},
		},
	}
}
