// Package override compiles the tool override table into an ordered rule
// set and applies it to exposed tool descriptors. Engines are immutable:
// the dynamic facade swaps a fresh engine in on every mutation.
package override

import (
	"sort"

	"funnel/internal/config"
	"funnel/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// rule is one compiled override entry.
type rule struct {
	pattern  pattern
	override config.ToolOverride
}

// Engine is an immutable compiled rule set, ordered most specific first.
type Engine struct {
	rules []rule
}

// NewEngine compiles the override table. Pattern pairs that can both match
// some name are reported as warnings; compilation never fails.
func NewEngine(overrides map[string]config.ToolOverride) *Engine {
	rules := make([]rule, 0, len(overrides))
	for source, ov := range overrides {
		rules = append(rules, rule{pattern: compilePattern(source), override: ov})
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].pattern.moreSpecificThan(rules[j].pattern)
	})

	engine := &Engine{rules: rules}
	for _, conflict := range engine.Conflicts() {
		logging.Warn("Override", "Patterns '%s' and '%s' may conflict", conflict[0], conflict[1])
	}
	return engine
}

// Conflicts returns every unordered pattern pair that can match a common
// name. Diagnostic only; the first (most specific) rule still wins.
func (e *Engine) Conflicts() [][2]string {
	var out [][2]string
	for i := 0; i < len(e.rules); i++ {
		for j := i + 1; j < len(e.rules); j++ {
			a, b := e.rules[i].pattern, e.rules[j].pattern
			if a.source == b.source {
				continue
			}
			if a.intersects(b) {
				out = append(out, [2]string{a.source, b.source})
			}
		}
	}
	return out
}

// Lookup returns the first matching rule's override for name.
func (e *Engine) Lookup(name string) (config.ToolOverride, bool) {
	for _, r := range e.rules {
		if r.pattern.matches(name) {
			return r.override, true
		}
	}
	return config.ToolOverride{}, false
}

// Apply rewrites a namespaced tool descriptor through the first matching
// rule. The second return is false when the rule hides the tool from the
// catalog entirely. Tools without a matching rule pass through unchanged.
// Application is idempotent: the output carries the overridden name, and
// rules are keyed by the pre-override namespaced name.
func (e *Engine) Apply(tool mcp.Tool, namespacedName string) (mcp.Tool, bool) {
	ov, ok := e.Lookup(namespacedName)
	if !ok {
		return tool, true
	}

	if ov.Enabled != nil && !*ov.Enabled {
		return tool, false
	}

	out := tool
	if ov.Name != "" {
		out.Name = ov.Name
	}
	if ov.Description != "" {
		out.Description = ov.Description
	}
	if len(ov.Annotations) > 0 {
		out.Meta = mergeAnnotations(tool.Meta, ov.Annotations)
	}
	if ov.InputSchemaOverride != nil {
		out.InputSchema = applySchemaOverride(tool.InputSchema, ov.InputSchemaOverride)
	}
	return out, true
}

// mergeAnnotations merges override annotations under _meta.annotations,
// preserving any existing meta fields.
func mergeAnnotations(meta *mcp.Meta, annotations map[string]interface{}) *mcp.Meta {
	out := &mcp.Meta{AdditionalFields: make(map[string]any)}
	if meta != nil {
		out.ProgressToken = meta.ProgressToken
		for k, v := range meta.AdditionalFields {
			out.AdditionalFields[k] = v
		}
	}

	existing, _ := out.AdditionalFields["annotations"].(map[string]interface{})
	merged := make(map[string]interface{}, len(existing)+len(annotations))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range annotations {
		merged[k] = deepCopyValue(v)
	}
	out.AdditionalFields["annotations"] = merged
	return out
}

// Size returns the number of compiled rules.
func (e *Engine) Size() int {
	return len(e.rules)
}
