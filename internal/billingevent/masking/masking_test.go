package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   ", want: ""},
		{name: "short value fully masked", input: "abcd", want: "****"},
		{name: "keeps last four", input: "2850590940090418135201", want: "****5201"},
		{name: "keeps key prefix", input: "mp_live_f8a91b22c431", want: "mp_live_****c431"},
		{name: "prefix with short remainder", input: "tok_ab", want: "tok_****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecret(tt.input))
		})
	}
}

func TestMaskJSONMasksSensitiveKeysOnly(t *testing.T) {
	input := map[string]any{
		"status":         "ACTIVE",
		"account_number": "2850590940090418135201",
		"amount_cents":   int64(125000),
		"nested": map[string]any{
			"cbu":    "0170099220000067797370",
			"last4":  "7370",
			"reason": "insufficient_funds",
		},
		"token": []any{"tok_abcdef987654", "tok_z"},
	}

	out := MaskJSON(input)

	assert.Equal(t, "ACTIVE", out["status"])
	assert.Equal(t, "****5201", out["account_number"])
	assert.Equal(t, int64(125000), out["amount_cents"])

	nested, ok := out["nested"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "****7370", nested["cbu"])
	assert.Equal(t, "7370", nested["last4"])
	assert.Equal(t, "insufficient_funds", nested["reason"])

	tokens, ok := out["token"].([]any)
	assert.True(t, ok)
	assert.Equal(t, "tok_****7654", tokens[0])
	assert.Equal(t, "tok_****", tokens[1])
}

func TestMaskJSONDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"token": "tok_abcdef987654"}

	_ = MaskJSON(input)

	assert.Equal(t, "tok_abcdef987654", input["token"])
}

func TestMaskJSONDropsEmptyKeys(t *testing.T) {
	assert.Nil(t, MaskJSON(map[string]any{"  ": "value"}))
	assert.Nil(t, MaskJSON(nil))
}
