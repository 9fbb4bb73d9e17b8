// Package tool adapts the tool listings of connected servers into a callable
// registry and dispatches model-initiated calls through the approval gate and
// the retry engine, recording every run in the runtime snapshot.
package tool

import (
	"strings"

	"github.com/chartmesh/chartmesh/mcp"
)

// Registry maps the aliases a model may use to the tool they identify. Each
// tool is reachable by its fully qualified name, a sanitized variant with
// dots replaced by double underscores, and its bare short name when no other
// tool shares it.
type Registry struct {
	aliases map[string]mcp.ToolInfo
	order   []mcp.ToolInfo
}

// BuildRegistry indexes the given tool listings. On duplicate fully qualified
// names the first listing wins.
func BuildRegistry(tools []mcp.ToolInfo) *Registry {
	r := &Registry{aliases: make(map[string]mcp.ToolInfo, len(tools)*2)}
	for _, t := range tools {
		if _, dup := r.aliases[t.Name]; dup {
			continue
		}
		r.aliases[t.Name] = t
		r.order = append(r.order, t)
	}

	// Short-name uniqueness is decided over the surviving tools, so a tool
	// listed twice under the same qualified name keeps its short alias.
	shortCount := make(map[string]int, len(r.order))
	for _, t := range r.order {
		shortCount[shortName(t.Name)]++
	}
	for _, t := range r.order {
		if sanitized := SanitizeName(t.Name); sanitized != t.Name {
			r.aliases[sanitized] = t
		}
		if short := shortName(t.Name); short != t.Name && shortCount[short] == 1 {
			r.aliases[short] = t
		}
	}
	return r
}

// Resolve looks up the tool identified by alias.
func (r *Registry) Resolve(alias string) (mcp.ToolInfo, bool) {
	info, ok := r.aliases[alias]
	return info, ok
}

// Tools returns the registered tools in listing order, one entry per tool.
func (r *Registry) Tools() []mcp.ToolInfo {
	return append([]mcp.ToolInfo(nil), r.order...)
}

// Len reports the number of distinct registered tools.
func (r *Registry) Len() int { return len(r.order) }

// PreferredAlias returns the shortest unambiguous alias for a tool: the bare
// short name when unique, otherwise the sanitized qualified name. The result
// is safe to hand to model providers that reject dots in tool names.
func (r *Registry) PreferredAlias(info mcp.ToolInfo) string {
	short := shortName(info.Name)
	if registered, ok := r.aliases[short]; ok && registered.Name == info.Name && registered.ServerID == info.ServerID {
		return short
	}
	return SanitizeName(info.Name)
}

// SanitizeName rewrites a namespaced tool name into the character set model
// providers accept.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

func shortName(name string) string {
	if i := strings.Index(name, "."); i >= 0 && i+1 < len(name) {
		return name[i+1:]
	}
	return name
}
