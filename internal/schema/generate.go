package schema

import (
	"encoding/json"
	"fmt"

	invopopSchema "github.com/invopop/jsonschema"
)

// FormatResourceID marks a string property as a remote resource identifier.
// Such fields go through security.CheckIdentifier on top of the generic checks.
const FormatResourceID = "resource-id"

// marshalFunc is the JSON marshaler used by Generate. Package-level so tests
// can inject a failing marshaler.
var marshalFunc = json.Marshal

// Generate builds a closed-world JSON Schema from a Go input struct using
// invopop/jsonschema reflection. Fields without `omitempty` are required.
func Generate(input any) (json.RawMessage, error) {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	s := reflector.Reflect(input)

	data, err := marshalFunc(s)
	if err != nil {
		return nil, fmt.Errorf("schema: generate %T: %w", input, err)
	}
	return data, nil
}

// MustGenerate is like Generate but panics on failure. Intended for
// package-level contract tables built from static structs.
func MustGenerate(input any) json.RawMessage {
	data, err := Generate(input)
	if err != nil {
		panic(err)
	}
	return data
}
