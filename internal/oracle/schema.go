package oracle

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Schema is a JSON-schema description of the value a structured call must
// return. It is rendered into the prompt and, where supported, passed to
// the backend's JSON mode.
type Schema struct {
	Name       string              `json:"title,omitempty"`
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one field.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// String renders the schema as indented JSON.
func (s Schema) String() string {
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// SchemaFor derives a schema from T's exported fields, using json tags for
// names and desc tags for descriptions. Fields tagged omitempty are optional.
func SchemaFor[T any]() Schema {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := Schema{Name: t.Name(), Type: "object", Properties: map[string]Property{}}
	if t.Kind() != reflect.Struct {
		s.Type = jsonType(t)
		return s
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		p := propertyOf(f.Type)
		p.Description = f.Tag.Get("desc")
		s.Properties[name] = p
		if !strings.Contains(opts, "omitempty") {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func propertyOf(t reflect.Type) Property {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	p := Property{Type: jsonType(t)}
	if p.Type == "array" {
		item := propertyOf(t.Elem())
		p.Items = &item
	}
	return p
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}
