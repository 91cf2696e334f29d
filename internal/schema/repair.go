// Package schema repairs and validates the heterogeneous JSON-Schema
// fragments that upstream MCP servers advertise as tool input/output
// schemas. The repair algorithm is ported line-for-line from the runtime's
// original schema-normalization pass (fix_schema_issues / convert_input_schema):
// upstream servers routinely emit schemas missing a "type" field, schemas
// whose "type" is a sequence instead of a single string, and nested
// properties/items with the same defects one level down.
package schema

import (
	"encoding/json"

	"github.com/kaptinlin/jsonschema"
)

// Repair applies the schema-repair algorithm to a decoded JSON-Schema
// fragment (a map[string]interface{}, as produced by encoding/json). It
// mutates and returns a corrected copy; the input is left untouched.
//
// Algorithm, applied recursively, once, before first use:
//  1. If the value is an object and has no "type": infer "object" when
//     "properties" is present, "array" when "items" is present, else
//     default to "object".
//  2. If "type" is a sequence, take the first string element and discard
//     the rest.
//  3. Recurse into properties.* and into items (whether items is a single
//     schema or a sequence of schemas).
//  4. If the value cannot be interpreted as a schema at all (not a map),
//     substitute the default empty-object schema.
//
// Repair is idempotent: repairing an already-repaired schema returns an
// equal value, and a schema already carrying type=="object" with a
// properties map is returned unchanged.
func Repair(raw interface{}) map[string]interface{} {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return DefaultObjectSchema()
	}
	return repairObject(obj)
}

// DefaultObjectSchema is the fallback schema substituted when a fragment
// cannot be repaired into something usable: an empty object schema.
func DefaultObjectSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func repairObject(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	fixType(out)

	if props, ok := out["properties"]; ok {
		out["properties"] = repairProperties(props)
	}
	if items, ok := out["items"]; ok {
		out["items"] = repairItems(items)
	}

	return out
}

// fixType implements steps 1 and 2 of the algorithm in place on out.
func fixType(out map[string]interface{}) {
	t, hasType := out["type"]

	if seq, ok := t.([]interface{}); ok {
		// Step 2: type-as-sequence collapses to its first string element.
		for _, el := range seq {
			if s, ok := el.(string); ok {
				out["type"] = s
				return
			}
		}
		// No string element found in the sequence; fall through to inference.
		hasType = false
	}

	if hasType {
		if _, isString := out["type"].(string); isString {
			return
		}
	}

	// Step 1: infer a missing/unusable type.
	if _, hasProps := out["properties"]; hasProps {
		out["type"] = "object"
		return
	}
	if _, hasItems := out["items"]; hasItems {
		out["type"] = "array"
		return
	}
	out["type"] = "object"
}

func repairProperties(props interface{}) interface{} {
	m, ok := props.(map[string]interface{})
	if !ok {
		return props
	}
	repaired := make(map[string]interface{}, len(m))
	for name, propSchema := range m {
		if sub, ok := propSchema.(map[string]interface{}); ok {
			repaired[name] = repairObject(sub)
		} else {
			repaired[name] = propSchema
		}
	}
	return repaired
}

func repairItems(items interface{}) interface{} {
	switch v := items.(type) {
	case map[string]interface{}:
		return repairObject(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, el := range v {
			if sub, ok := el.(map[string]interface{}); ok {
				out[i] = repairObject(sub)
			} else {
				out[i] = el
			}
		}
		return out
	default:
		return items
	}
}

// IsObjectSchema reports whether a repaired schema's "type" is "object",
// the invariant the broker requires of every externally-advertised
// ToolDescriptor after repair (spec §3).
func IsObjectSchema(s map[string]interface{}) bool {
	t, _ := s["type"].(string)
	return t == "object"
}

// Validate checks the structural invariant required by validate_tool_schema
// (§4.1): the schema must be an object schema, and every entry in
// "required" must name a key present in "properties". It additionally
// confirms the schema compiles as a well-formed JSON-Schema document using
// the jsonschema validator pulled in from the rest of the example corpus,
// catching malformed constraint keywords (bad "pattern", conflicting
// "minimum"/"maximum", etc.) the repair pass itself doesn't look at.
func Validate(s map[string]interface{}) error {
	if !IsObjectSchema(s) {
		return errInvalidSchema{"input_schema.kind must be object"}
	}

	props, _ := s["properties"].(map[string]interface{})
	if required, ok := s["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := props[name]; !present {
				return errInvalidSchema{"required property '" + name + "' is not declared in properties"}
			}
		}
	}

	if _, err := jsonschema.NewCompiler().Compile(mustMarshal(s)); err != nil {
		return errInvalidSchema{"schema does not compile: " + err.Error()}
	}
	return nil
}

type errInvalidSchema struct{ msg string }

func (e errInvalidSchema) Error() string { return e.msg }

func mustMarshal(s map[string]interface{}) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`{"type":"object"}`)
	}
	return b
}
