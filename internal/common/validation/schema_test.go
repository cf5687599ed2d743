package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const confirmationSchema = `{
  "type": "object",
  "required": ["postingId", "candidacyId", "accept"],
  "properties": {
    "postingId": { "type": "string", "minLength": 1 },
    "candidacyId": { "type": "string", "minLength": 1 },
    "accept": { "type": "boolean" }
  }
}`

func schema(t *testing.T) map[string]interface{} {
	t.Helper()
	var s map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(confirmationSchema), &s))
	return s
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name      string
		input     map[string]interface{}
		valid     bool
		field     string
		errorCode string
	}{
		{
			name:  "valid",
			input: map[string]interface{}{"postingId": "p-1", "candidacyId": "c-1", "accept": true},
			valid: true,
		},
		{
			name:      "missing accept",
			input:     map[string]interface{}{"postingId": "p-1", "candidacyId": "c-1"},
			field:     "accept",
			errorCode: "REQUIRED_FIELD_MISSING",
		},
		{
			name:      "accept as string",
			input:     map[string]interface{}{"postingId": "p-1", "candidacyId": "c-1", "accept": "yes"},
			field:     "accept",
			errorCode: "INVALID_TYPE",
		},
		{
			name:      "empty posting id",
			input:     map[string]interface{}{"postingId": "", "candidacyId": "c-1", "accept": false},
			field:     "postingId",
			errorCode: "MIN_LENGTH_VIOLATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateInput(tt.input, schema(t))
			assert.Equal(t, tt.valid, result.Valid)
			if tt.valid {
				assert.Empty(t, result.Errors)
				return
			}
			require.True(t, result.HasErrors(tt.field), result.GetErrorMessages())
			for _, e := range result.Errors {
				if e.Field == tt.field {
					assert.Equal(t, tt.errorCode, e.Code)
				}
			}
		})
	}
}

func TestValidateInput_NoSchema(t *testing.T) {
	assert.True(t, ValidateInput(map[string]interface{}{"anything": 1}, nil).Valid)
}

func TestValidateInput_BrokenSchema(t *testing.T) {
	result := ValidateInput(map[string]interface{}{}, map[string]interface{}{"type": 42})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SCHEMA_INVALID", result.Errors[0].Code)
}

func TestValidateActivityNaming(t *testing.T) {
	assert.NoError(t, ValidateActivityNaming("substitution.handoff.sweep"))
	assert.Error(t, ValidateActivityNaming("Substitution-Sweep"))
}
