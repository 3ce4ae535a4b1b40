package util

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ValidationError describes the first argument that does not satisfy a
// tool's parameter schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// typeCheckers accept the Go representations a decoded JSON or YAML value
// of the schema type may have.
var typeCheckers = map[string]func(v any) bool{
	"string":  func(v any) bool { _, ok := v.(string); return ok },
	"boolean": func(v any) bool { _, ok := v.(bool); return ok },
	"integer": func(v any) bool {
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	},
	"number": func(v any) bool {
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	},
	"array": func(v any) bool {
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	},
	"object": func(v any) bool {
		if v == nil {
			return false
		}
		return reflect.TypeOf(v).Kind() == reflect.Map
	},
}

// ValidateParameters checks params against a JSON-schema-like object
// description: required names, property types and enums. Properties not
// described by the schema are accepted; nil satisfies every type.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	props, _ := schema["properties"].(map[string]any)

	for name, value := range params {
		prop, ok := props[name].(map[string]any)
		if !ok || value == nil {
			continue
		}

		if typ, _ := prop["type"].(string); typ != "" {
			if check, known := typeCheckers[typ]; known && !check(value) {
				return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("expected type %s, got %T", typ, value)}
			}
		}

		if enum, ok := prop["enum"]; ok && !inEnum(enum, value) {
			return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("must be one of %v", enum)}
		}
	}

	return nil
}

func inEnum(enum, value any) bool {
	rv := reflect.ValueOf(enum)
	if rv.Kind() != reflect.Slice {
		return true
	}
	for i := range rv.Len() {
		if fmt.Sprint(rv.Index(i).Interface()) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

// stringList accepts []string (Go literal schemas) and []any (decoded
// schemas).
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// CreateSchema derives an object schema from the exported fields of a
// struct. Field names follow the json tag; fields are required unless they
// are pointers or tagged omitempty. A `description` tag is copied and an
// `enum` tag (comma separated) restricts the allowed values.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	properties := map[string]any{}
	schema := map[string]any{"type": "object", "properties": properties}

	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string

	for field := range fields(t) {
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if d := field.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := field.Tag.Get("enum"); e != "" {
			prop["enum"] = strings.Split(e, ",")
		}
		properties[name] = prop

		if !omitEmpty && field.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}

	if len(required) > 0 {
		slices.Sort(required)
		schema["required"] = required
	}

	return schema
}

func fields(t reflect.Type) func(yield func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && !yield(f) {
				return
			}
		}
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}

	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}

	return name, slices.Contains(strings.Split(opts, ","), "omitempty"), false
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return jsonType(t.Elem())
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
