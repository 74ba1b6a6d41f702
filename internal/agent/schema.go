package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives a JSON schema from a Go struct type describing a tool's
// input. Fields tagged omitempty are optional; everything else is required.
// The result is suitable for Tool.Schema.
func SchemaFor(v any) []byte {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		// Reflection of a plain struct does not fail to marshal.
		return []byte(`{"type":"object"}`)
	}
	return data
}
