package format

import (
	"reflect"
	"strings"
	"sync"
)

// schemaCache memoizes generated schemas per target type so repeated Format
// construction for the same type is cheap and produces identical documents.
var schemaCache sync.Map // reflect.Type -> map[string]any

// SchemaOf generates a JSON Schema document for a Go type. Nested named
// struct types are expanded recursively into "$defs" and referenced with
// "$ref" per standard JSON Schema; anonymous structs are inlined. A struct
// with no exported fields is valid and renders with empty "properties".
//
// Field naming and optionality follow encoding/json conventions: the json tag
// names the property, and pointer or omitempty fields are not required. A
// `description` tag becomes the property description.
func SchemaOf(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	return SchemaOfType(t)
}

// SchemaOfType is SchemaOf for an already-resolved reflect.Type.
func SchemaOfType(t reflect.Type) map[string]any {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(map[string]any)
	}

	defs := map[string]any{}
	schema := structSchema(t, defs, map[reflect.Type]bool{t: true})
	if name := t.Name(); name != "" && refersTo(schema, name) && defs[name] == nil {
		// Self-referential root: the body must also live in $defs so the
		// inner $ref resolves.
		body := map[string]any{}
		for k, v := range schema {
			body[k] = v
		}
		defs[name] = body
	}
	if len(defs) > 0 {
		schema["$defs"] = defs
	}

	schemaCache.Store(t, schema)
	return schema
}

// structSchema builds the schema body for one struct type, collecting nested
// named struct types into defs. seen guards against reference cycles.
func structSchema(t reflect.Type, defs map[string]any, seen map[reflect.Type]bool) map[string]any {
	properties := map[string]any{}
	required := []string{}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if jsonTag != "" {
			if name := strings.Split(jsonTag, ",")[0]; name != "" {
				fieldName = name
			}
		}

		fieldSchema := typeSchema(field.Type, defs, seen)
		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}
		properties[fieldName] = fieldSchema

		if field.Type.Kind() != reflect.Ptr && !hasOmitEmpty(jsonTag) {
			required = append(required, fieldName)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// typeSchema maps one Go type to its schema fragment, recursing through
// containers and deferring named structs to $defs.
func typeSchema(t reflect.Type, defs map[string]any, seen map[reflect.Type]bool) map[string]any {
	switch t.Kind() {
	case reflect.Ptr:
		return typeSchema(t.Elem(), defs, seen)
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{
			"type":  "array",
			"items": typeSchema(t.Elem(), defs, seen),
		}
	case reflect.Map:
		return map[string]any{
			"type":                 "object",
			"additionalProperties": typeSchema(t.Elem(), defs, seen),
		}
	case reflect.Struct:
		name := t.Name()
		if name == "" {
			// Anonymous struct: inline.
			return structSchema(t, defs, seen)
		}
		if !seen[t] {
			seen[t] = true
			defs[name] = structSchema(t, defs, seen)
		}
		return map[string]any{"$ref": "#/$defs/" + name}
	case reflect.Interface:
		return map[string]any{}
	default:
		return map[string]any{"type": "string"}
	}
}

// refersTo reports whether the schema fragment contains a $ref to name.
func refersTo(fragment any, name string) bool {
	switch v := fragment.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && ref == "#/$defs/"+name {
			return true
		}
		for _, nested := range v {
			if refersTo(nested, name) {
				return true
			}
		}
	case []any:
		for _, nested := range v {
			if refersTo(nested, name) {
				return true
			}
		}
	}
	return false
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}
