package util

import (
	"testing"

	"github.com/chartmesh/chartmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParametersRequiredField(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
		"required":   []any{"url"},
	}

	err := ValidateParameters(map[string]any{}, schema)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "url", verr.Field)

	assert.NoError(t, ValidateParameters(map[string]any{"url": "https://example.com"}, schema))
}

func TestValidateParametersTypeChecks(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":  map[string]any{"type": "integer"},
			"ratio":  map[string]any{"type": "number"},
			"labels": map[string]any{"type": "array"},
		},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"limit": float64(5)}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"limit": 5.5}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"ratio": 0.5}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"labels": "not an array"}, schema))
}

func TestValidateParametersNilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, ValidateParameters(map[string]any{"whatever": 1}, nil))
}

func TestValidateParametersExtraFieldsAllowed(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
	}
	assert.NoError(t, ValidateParameters(map[string]any{"url": "x", "depth": 2}, schema))
}
