package validation_test

import (
	"testing"

	"github.com/sahilchouksey/search-gateway/utils/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRequest struct {
	Name string `json:"name" validate:"required,max=10"`
	Type string `json:"type" validate:"omitempty,oneof=search write admin"`
}

func TestFormatValidationErrorsUsesJSONNames(t *testing.T) {
	v := validation.NewValidator()

	err := v.ValidateStruct(keyRequest{Type: "root"})
	require.Error(t, err)

	fields := validation.FormatValidationErrors(err)
	assert.Equal(t, "name is required", fields["name"])
	assert.Equal(t, "type must be one of: search write admin", fields["type"])

	assert.NoError(t, v.ValidateStruct(keyRequest{Name: "ci", Type: "write"}))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", validation.SanitizeString("  a\x00bc "))
}
