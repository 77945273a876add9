// Package schema sanitises caller-supplied JSON Schema tool declarations
// into the strict subset the upstream function-calling schema accepts.
package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

var allowedKeys = map[string]struct{}{
	"type": {}, "properties": {}, "required": {}, "description": {},
	"enum": {}, "items": {}, "nullable": {}, "minimum": {}, "maximum": {},
	"anyOf": {}, "ref": {}, "defs": {},
}

var droppedKeywords = map[string]struct{}{
	"not": {}, "if": {}, "then": {}, "else": {},
	"dependentSchemas": {}, "dependentRequired": {}, "dependencies": {},
	"patternProperties": {}, "propertyNames": {}, "unevaluatedProperties": {}, "unevaluatedItems": {},
	"prefixItems": {}, "contains": {}, "minContains": {}, "maxContains": {},
	"multipleOf": {}, "pattern": {}, "format": {}, "minItems": {}, "maxItems": {},
	"uniqueItems": {}, "minLength": {}, "maxLength": {}, "minProperties": {}, "maxProperties": {},
	"additionalProperties": {}, "contentMediaType": {}, "contentEncoding": {}, "const": {},
	"examples": {}, "readOnly": {}, "writeOnly": {}, "deprecated": {}, "title": {}, "default": {},
	"$schema": {}, "$id": {}, "$anchor": {}, "$comment": {},
}

// Sanitize converts a caller-supplied JSON Schema (as raw JSON) into the
// upstream function-declaration parameter subset, applying the §4.6.2 rules.
// A malformed input schema sanitises to an empty object.
func Sanitize(rawSchema []byte) map[string]any {
	var parsed map[string]any
	if len(rawSchema) == 0 {
		parsed = map[string]any{}
	} else if err := json.Unmarshal(rawSchema, &parsed); err != nil || parsed == nil {
		parsed = map[string]any{}
	}
	out := sanitizeObject(parsed)
	if len(out) == 0 {
		return map[string]any{"type": "OBJECT"}
	}
	return out
}

func sanitizeObject(schema map[string]any) map[string]any {
	for k := range droppedKeywords {
		delete(schema, k)
	}

	renameKey(schema, "$ref", "ref")
	renameKey(schema, "$defs", "defs")
	renameKey(schema, "definitions", "defs")

	if oneOf, ok := schema["oneOf"]; ok {
		delete(schema, "oneOf")
		if anyOf, exists := schema["anyOf"]; exists {
			if anyArr, ok := anyOf.([]any); ok {
				if oneArr, ok := oneOf.([]any); ok {
					schema["anyOf"] = append(anyArr, oneArr...)
				}
			}
		} else {
			schema["anyOf"] = oneOf
		}
	}

	if allOf, ok := schema["allOf"].([]any); ok {
		delete(schema, "allOf")
		if len(allOf) > 0 {
			if first, ok := allOf[0].(map[string]any); ok {
				for k, v := range first {
					if _, exists := schema[k]; !exists {
						schema[k] = v
					}
				}
			}
		}
	} else {
		delete(schema, "allOf")
	}

	convertExclusiveBounds(schema)
	normalizeType(schema)

	if _, hasType := schema["type"]; !hasType {
		if _, hasProps := schema["properties"]; hasProps {
			schema["type"] = "OBJECT"
		} else if _, hasItems := schema["items"]; hasItems {
			schema["type"] = "ARRAY"
		}
	}

	if v, ok := schema["enum"]; ok {
		if norm := normalizeStringySlice(v); norm != nil {
			schema["enum"] = norm
		} else {
			delete(schema, "enum")
		}
	}
	if v, ok := schema["required"]; ok {
		if norm := normalizeRequiredSlice(v); norm != nil {
			schema["required"] = norm
		} else {
			delete(schema, "required")
		}
	}

	normalizeNumber(schema, "minimum")
	normalizeNumber(schema, "maximum")

	if defs, ok := schema["defs"].(map[string]any); ok {
		for k, v := range defs {
			if child, ok := v.(map[string]any); ok {
				defs[k] = sanitizeObject(child)
			} else {
				delete(defs, k)
			}
		}
	} else {
		delete(schema, "defs")
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for k, v := range props {
			if child, ok := v.(map[string]any); ok {
				props[k] = sanitizeObject(child)
			} else {
				delete(props, k)
			}
		}
	} else {
		delete(schema, "properties")
	}

	if items, ok := schema["items"]; ok {
		switch it := items.(type) {
		case map[string]any:
			schema["items"] = sanitizeObject(it)
		case []any:
			var picked map[string]any
			for _, v := range it {
				if obj, ok := v.(map[string]any); ok {
					picked = obj
					break
				}
			}
			if picked != nil {
				schema["items"] = sanitizeObject(picked)
			} else {
				delete(schema, "items")
			}
		default:
			delete(schema, "items")
		}
	}

	if anyOf, ok := schema["anyOf"].([]any); ok {
		var dst []any
		for _, v := range anyOf {
			if obj, ok := v.(map[string]any); ok {
				dst = append(dst, sanitizeObject(obj))
			}
		}
		if len(dst) == 0 {
			delete(schema, "anyOf")
		} else {
			schema["anyOf"] = dst
		}
	} else if _, ok := schema["anyOf"]; ok {
		delete(schema, "anyOf")
	}

	return enforceAllowlist(schema)
}

func renameKey(schema map[string]any, from, to string) {
	v, ok := schema[from]
	if !ok {
		return
	}
	delete(schema, from)
	if _, exists := schema[to]; !exists {
		schema[to] = v
	}
}

func normalizeType(schema map[string]any) {
	raw, ok := schema["type"]
	if !ok {
		return
	}
	switch t := raw.(type) {
	case string:
		if norm, ok := normalizeTypeName(t); ok {
			schema["type"] = norm
		}
	case []any:
		hasNull := false
		var firstNonNull string
		for _, v := range t {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if strings.EqualFold(s, "null") {
				hasNull = true
				continue
			}
			if firstNonNull == "" {
				firstNonNull = s
			}
		}
		if hasNull {
			if _, exists := schema["nullable"]; !exists {
				schema["nullable"] = true
			}
		}
		if firstNonNull != "" {
			if norm, ok := normalizeTypeName(firstNonNull); ok {
				schema["type"] = norm
			} else {
				schema["type"] = strings.ToUpper(strings.TrimSpace(firstNonNull))
			}
		} else {
			delete(schema, "type")
		}
	default:
		delete(schema, "type")
	}
}

func normalizeTypeName(t string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "object":
		return "OBJECT", true
	case "array":
		return "ARRAY", true
	case "string":
		return "STRING", true
	case "integer", "int":
		return "INTEGER", true
	case "number":
		return "NUMBER", true
	case "boolean", "bool":
		return "BOOLEAN", true
	case "null":
		return "NULL", true
	}
	up := strings.ToUpper(strings.TrimSpace(t))
	switch up {
	case "TYPE_UNSPECIFIED", "STRING", "NUMBER", "INTEGER", "BOOLEAN", "ARRAY", "OBJECT", "NULL":
		return up, true
	}
	return "", false
}

func normalizeStringySlice(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(arr))
	for _, it := range arr {
		switch x := it.(type) {
		case string:
			out = append(out, x)
		case bool:
			out = append(out, strconv.FormatBool(x))
		case float64:
			out = append(out, trimTrailingZero(strconv.FormatFloat(x, 'f', -1, 64)))
		default:
			b, _ := json.Marshal(x)
			out = append(out, string(b))
		}
	}
	return out
}

func trimTrailingZero(s string) string {
	return strings.TrimSuffix(s, ".0")
}

func normalizeRequiredSlice(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(arr))
	for _, it := range arr {
		s, ok := it.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeNumber(schema map[string]any, key string) {
	v, ok := schema[key]
	if !ok {
		return
	}
	f, ok := toFloat(v)
	if !ok {
		delete(schema, key)
		return
	}
	schema[key] = f
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func convertExclusiveBounds(schema map[string]any) {
	convertExclusiveBound(schema, "exclusiveMinimum", "minimum", true)
	convertExclusiveBound(schema, "exclusiveMaximum", "maximum", false)
}

func convertExclusiveBound(schema map[string]any, exclusiveKey, boundKey string, isMin bool) {
	ex, ok := schema[exclusiveKey]
	if !ok {
		return
	}
	delete(schema, exclusiveKey)

	if _, hasBound := schema[boundKey]; !hasBound {
		if f, ok := toFloat(ex); ok {
			schema[boundKey] = adjustExclusive(f, schema, isMin)
		}
		return
	}
	if b, ok := ex.(bool); ok && b {
		if f, ok := toFloat(schema[boundKey]); ok {
			schema[boundKey] = adjustExclusive(f, schema, isMin)
		}
	}
}

func adjustExclusive(bound float64, schema map[string]any, isMin bool) float64 {
	t, _ := schema["type"].(string)
	if strings.EqualFold(t, "INTEGER") && bound == float64(int64(bound)) {
		if isMin {
			return bound + 1
		}
		return bound - 1
	}
	return bound
}

func enforceAllowlist(schema map[string]any) map[string]any {
	for k := range schema {
		if strings.HasPrefix(k, "$") {
			delete(schema, k)
			continue
		}
		if _, ok := allowedKeys[k]; !ok {
			delete(schema, k)
		}
	}
	if v, ok := schema["ref"]; ok {
		if _, ok := v.(string); !ok {
			delete(schema, "ref")
		}
	}
	if v, ok := schema["type"]; ok {
		if _, ok := v.(string); !ok {
			delete(schema, "type")
		}
	}
	if v, ok := schema["description"]; ok {
		if _, ok := v.(string); !ok {
			delete(schema, "description")
		}
	}
	if v, ok := schema["nullable"]; ok {
		if _, ok := v.(bool); !ok {
			delete(schema, "nullable")
		}
	}
	return schema
}
