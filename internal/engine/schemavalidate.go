package engine

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaProvider is implemented by a ProtocolPlugin or AuthPlugin that wants
// its request-extra/auth-data payload checked against a JSON Schema before a
// run starts, instead of (or in addition to) hand-written Validate() checks.
// Grounded on the teacher's pkg/core/tools/schema.go, which validates
// response bodies the same way; here it validates plugin-declared input
// shapes ahead of time.
type SchemaProvider interface {
	DataSchema() string // JSON Schema document, or "" for none
}

// validateAgainstSchema runs gojsonschema against schema/data and turns any
// violation into a ValidationError tagged with source.
func validateAgainstSchema(schema string, data map[string]any, source string) []ValidationError {
	if schema == "" {
		return nil
	}
	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewGoLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return []ValidationError{{Message: fmt.Sprintf("schema validation error: %v", err), Source: source}}
	}
	if result.Valid() {
		return nil
	}
	var errs []ValidationError
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{Message: re.String(), Source: source})
	}
	return errs
}
