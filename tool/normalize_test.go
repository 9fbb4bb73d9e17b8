package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func schemaWith(props ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		properties[p] = map[string]any{"type": "string"}
	}
	return map[string]any{"type": "object", "properties": properties}
}

func TestNormalizeRenamesSynonymToSchemaProperty(t *testing.T) {
	out := NormalizeArguments(map[string]any{"q": "solar output"}, schemaWith("query", "limit"))
	assert.Equal(t, map[string]any{"query": "solar output"}, out)

	out = NormalizeArguments(map[string]any{"link": "https://example.com"}, schemaWith("url"))
	assert.Equal(t, map[string]any{"url": "https://example.com"}, out)
}

func TestNormalizeKeepsDeclaredKeys(t *testing.T) {
	out := NormalizeArguments(map[string]any{"text": "hi"}, schemaWith("text", "query"))
	assert.Equal(t, map[string]any{"text": "hi"}, out)
}

func TestNormalizeWithoutSchemaUsesCanonicalName(t *testing.T) {
	out := NormalizeArguments(map[string]any{"href": "https://example.com", "term": "tides"}, nil)
	assert.Equal(t, map[string]any{"url": "https://example.com", "query": "tides"}, out)
}

func TestNormalizeNeverClobbersExplicitKey(t *testing.T) {
	out := NormalizeArguments(map[string]any{"query": "a", "q": "b"}, schemaWith("query"))
	assert.Equal(t, "a", out["query"])
	assert.Equal(t, "b", out["q"])
}

func TestNormalizeLeavesUnrelatedKeysAlone(t *testing.T) {
	out := NormalizeArguments(map[string]any{"depth": 3}, schemaWith("query"))
	assert.Equal(t, map[string]any{"depth": 3}, out)
}

func TestNormalizeNilArguments(t *testing.T) {
	out := NormalizeArguments(nil, schemaWith("query"))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
