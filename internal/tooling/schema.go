package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// marshalFunc is the JSON marshaler used by GenerateSchema. Package-level so
// tests can inject a failing marshaler to cover the error return path.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// GenerateSchema generates a JSON Schema string from a Go struct using
// invopop/jsonschema reflection. Additional properties are forbidden so that
// extraneous arguments fail validation.
func GenerateSchema(input interface{}) string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(input)

	schemaBytes, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}

// ValidationError describes a schema-validation failure with the offending
// instance location (e.g. "/width") when one can be determined.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid arguments at %s: %s", e.Field, e.Reason)
	}
	return "invalid arguments: " + e.Reason
}

// ValidateAgainstSchema validates JSON input against a JSON Schema string.
// Validation failures are returned as *ValidationError; schema compilation
// and malformed-JSON failures keep their own error types.
func ValidateAgainstSchema(input json.RawMessage, schemaStr string) error {
	schema, err := jsonschema.CompileString("", schemaStr)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	var inputData interface{}
	if err := json.Unmarshal(input, &inputData); err != nil {
		return &ValidationError{Reason: "arguments are not valid JSON"}
	}

	if err := schema.Validate(inputData); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafCause(ve)
			return &ValidationError{
				Field:  instancePath(leaf),
				Reason: leaf.Message,
			}
		}
		return &ValidationError{Reason: err.Error()}
	}

	return nil
}

// leafCause walks to the deepest single cause so the reported field points at
// the actual offending property rather than the schema root.
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// instancePath renders the JSON-pointer location of a validation error.
func instancePath(ve *jsonschema.ValidationError) string {
	loc := strings.TrimSpace(ve.InstanceLocation)
	if loc == "" || loc == "/" {
		return ""
	}
	return loc
}
