package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePersonSchema = `{
	"type": "object",
	"properties": {"name": {"type": "string"}},
	"required": ["name"]
}`

func TestValidateAgainstSchemaEmptySchemaIsNoOp(t *testing.T) {
	errs := validateAgainstSchema("", map[string]any{}, "protocol")
	assert.Empty(t, errs)
}

func TestValidateAgainstSchemaValidDocument(t *testing.T) {
	errs := validateAgainstSchema(samplePersonSchema, map[string]any{"name": "alice"}, "protocol")
	assert.Empty(t, errs)
}

func TestValidateAgainstSchemaInvalidDocument(t *testing.T) {
	errs := validateAgainstSchema(samplePersonSchema, map[string]any{}, "protocol")
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "protocol", errs[0].Source)
	}
}

func TestValidateAgainstSchemaMalformedSchema(t *testing.T) {
	errs := validateAgainstSchema(`{not json`, map[string]any{}, "auth")
	assert.Len(t, errs, 1)
}
