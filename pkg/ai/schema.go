package ai

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// GenerateSchema creates a JSON Schema from the given Go type.
func GenerateSchema(value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// SchemaHint renders the schema of value as indented JSON for inclusion in a
// prompt. Providers without structured output still follow it well.
func SchemaHint(value any) string {
	schema := GenerateSchema(value)
	schema.Version = ""
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
