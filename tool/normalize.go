package tool

import (
	"github.com/chartmesh/chartmesh/internal/util"
)

// synonymGroups lists interchangeable argument names models commonly emit.
// The first entry of each group is the canonical form.
var synonymGroups = [][]string{
	{"query", "q", "search", "term", "text", "input", "prompt"},
	{"url", "link", "uri", "href", "address"},
}

// NormalizeArguments renames synonym argument keys to the name the tool's
// input schema declares, or to the canonical synonym when the schema declares
// no properties. Keys the schema already accepts pass through unchanged, and
// a rename never clobbers a key the caller set explicitly.
func NormalizeArguments(args map[string]any, schema map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	props := util.SchemaProperties(schema)
	out := make(map[string]any, len(args))
	for key, val := range args {
		target := normalizeKey(key, props)
		if target != key {
			if _, explicit := args[target]; explicit {
				target = key
			}
		}
		out[target] = val
	}
	return out
}

func normalizeKey(key string, props map[string]any) string {
	if props != nil {
		if _, ok := props[key]; ok {
			return key
		}
	}
	group := synonymGroup(key)
	if group == nil {
		return key
	}
	if props == nil {
		return group[0]
	}
	for _, candidate := range group {
		if _, ok := props[candidate]; ok {
			return candidate
		}
	}
	return key
}

func synonymGroup(key string) []string {
	for _, group := range synonymGroups {
		for _, member := range group {
			if member == key {
				return group
			}
		}
	}
	return nil
}
