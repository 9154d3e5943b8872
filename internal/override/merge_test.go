package override

import (
	"testing"

	"funnel/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMergeNestedProperties(t *testing.T) {
	original := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"config": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"database": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"host": map[string]interface{}{"default": "localhost"},
							"port": map[string]interface{}{"default": 3000},
						},
					},
				},
			},
			"untouched": map[string]interface{}{"type": "string"},
		},
	}

	merged := applySchemaOverride(original, &config.InputSchemaOverride{
		Strategy: config.StrategyDeepMerge,
		Properties: map[string]interface{}{
			"config": map[string]interface{}{
				"properties": map[string]interface{}{
					"database": map[string]interface{}{
						"properties": map[string]interface{}{
							"port": map[string]interface{}{"default": 5432},
							"ssl":  map[string]interface{}{"default": true},
						},
					},
				},
			},
		},
	})

	db := merged.Properties["config"].(map[string]interface{})["properties"].(map[string]interface{})["database"].(map[string]interface{})
	props := db["properties"].(map[string]interface{})

	assert.Equal(t, "localhost", props["host"].(map[string]interface{})["default"], "preserved")
	assert.Equal(t, 5432, props["port"].(map[string]interface{})["default"], "overridden")
	assert.Equal(t, true, props["ssl"].(map[string]interface{})["default"], "added")
	assert.Contains(t, merged.Properties, "untouched")
	assert.Equal(t, "object", db["type"], "sibling keys survive the recursion")
}

func TestDeepMergePrimitivesAndArraysReplace(t *testing.T) {
	original := map[string]interface{}{
		"enum":  []interface{}{"a", "b"},
		"count": 1,
	}
	override := map[string]interface{}{
		"enum":  []interface{}{"c"},
		"count": 2,
	}

	merged := deepMergeMaps(original, override, newVisitSet())
	assert.Equal(t, []interface{}{"c"}, merged["enum"])
	assert.Equal(t, 2, merged["count"])
}

func TestDeepMergeCycleTerminates(t *testing.T) {
	cyclic := map[string]interface{}{"type": "object"}
	cyclic["self"] = cyclic

	original := map[string]interface{}{
		"node": map[string]interface{}{"type": "object"},
	}
	override := map[string]interface{}{
		"node": cyclic,
		"other": map[string]interface{}{"ok": true},
	}

	// Must terminate; the revisited cyclic map is inserted by reference
	// instead of being copied again.
	merged := deepMergeMaps(original, override, newVisitSet())
	require.Contains(t, merged, "node")
	require.Contains(t, merged, "other")
}

func TestDeepMergeCycleInOriginalKeepsOriginalSubtree(t *testing.T) {
	cyclic := map[string]interface{}{"k": "v"}
	cyclic["loop"] = cyclic

	original := map[string]interface{}{"node": cyclic}
	override := map[string]interface{}{"node": map[string]interface{}{"k": "changed"}}

	merged := deepMergeMaps(original, override, newVisitSet())
	// Keys present only on the original side, including the self-reference,
	// are carried over by reference, so the merge never walks the loop.
	assert.Contains(t, merged, "node")
}

func TestReplaceKeepsOriginalType(t *testing.T) {
	original := mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{"a": 1}}
	out := applySchemaOverride(original, &config.InputSchemaOverride{
		Strategy:   config.StrategyReplace,
		Properties: map[string]interface{}{"b": map[string]interface{}{"type": "string"}},
	})
	assert.Equal(t, "object", out.Type)
	assert.NotContains(t, out.Properties, "a")
}

func TestShallowMergeRequiredExplicitlyProvided(t *testing.T) {
	original := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
		Required:   []string{"a"},
	}
	out := applySchemaOverride(original, &config.InputSchemaOverride{
		Strategy: config.StrategyMerge,
		Required: []string{},
	})
	assert.Empty(t, out.Required)
}
