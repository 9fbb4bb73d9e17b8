// Package util holds small schema helpers shared by the tool dispatcher.
package util

import (
	"fmt"

	"github.com/chartmesh/chartmesh/core"
)

// SchemaProperties extracts the "properties" object from a JSON-schema-like
// map, tolerating missing or malformed schemas by returning nil.
func SchemaProperties(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	return props
}

// ValidateParameters checks params against a minimal JSON schema subset:
// required field presence and primitive type matches. Extra fields are
// allowed; tool servers perform their own full validation.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, fieldName := range requiredFields(schema) {
		if _, exists := params[fieldName]; !exists {
			return &core.ValidationError{Field: fieldName, Message: "required field is missing"}
		}
	}

	properties := SchemaProperties(schema)
	for fieldName, value := range params {
		propMap, ok := properties[fieldName].(map[string]any)
		if !ok {
			continue
		}
		expectedType, _ := propMap["type"].(string)
		if expectedType != "" && !isValidType(value, expectedType) {
			return &core.ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
			}
		}
	}
	return nil
}

// requiredFields tolerates both []string and JSON-decoded []any shapes.
func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true
	}
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64: // JSON decoding produces float64 for all numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
