// Package toolschema derives backend tool specifications from declared
// descriptors or from introspectable Go parameter structs. Specs are built
// once per tool and cached by the registry for the lifetime of a request.
package toolschema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// Descriptor declares a tool. Either Parameters (an explicit JSON-Schema
// object) or Params (a struct value to introspect) supplies the input
// schema; Parameters wins when both are set.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is an explicit JSON-Schema object for the tool input.
	Parameters map[string]any
	// Params is a struct (or pointer to struct) whose fields describe the
	// tool input. Field names follow the json tag, descriptions come from
	// a `desc` tag, and fields are required unless they are pointers or
	// carry ",omitempty".
	Params any
}

// Build derives a ToolSpec from a descriptor. Callers treat a failure as
// "exclude this tool", not as a request-fatal error.
func Build(d Descriptor) (types.ToolSpec, error) {
	if d.Name == "" {
		return types.ToolSpec{}, fmt.Errorf("tool descriptor has no name")
	}

	schema := d.Parameters
	if schema == nil && d.Params != nil {
		derived, err := FromStruct(d.Params)
		if err != nil {
			return types.ToolSpec{}, fmt.Errorf("introspect %s: %w", d.Name, err)
		}
		schema = derived
	}
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return types.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: schema,
	}, nil
}

// FromStruct derives a JSON-Schema object from a parameters struct.
func FromStruct(params any) (map[string]any, error) {
	t := reflect.TypeOf(params)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("parameters must be a struct, got %T", params)
	}

	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, optional := fieldName(field)
		if name == "-" {
			continue
		}

		prop := map[string]any{"type": schemaType(field.Type)}
		if desc := field.Tag.Get("desc"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		if !optional && field.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

func fieldName(field reflect.StructField) (name string, optional bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			optional = true
		}
	}
	return name, optional
}

// schemaType maps a Go type to a JSON-Schema primitive type. Unknown
// kinds default to string.
func schemaType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
