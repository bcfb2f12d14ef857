package plate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"letter three digits letter", "RAH972U", "RAH972U", true},
		{"four digits letter", "RA1234A", "RA1234A", true},
		{"three letters two digits", "RAAAB12", "RAAAB12", true},
		{"embedded in ocr garbage", "XXRAH972UYY", "RAH972U", true},
		{"lowercase with spaces", " ra h972u ", "RAH972U", true},
		{"dashes stripped", "RA-H97-2U", "RAH972U", true},
		{"only one digit", "RAABCD1", "", false},
		{"zero digits", "RAABCDE", "", false},
		{"too short", "RA123", "", false},
		{"wrong prefix", "RB1234A", "", false},
		{"prefix too late for full length", "XRA123", "", false},
		{"non alphanumeric tail", "RA12!4A", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Validate(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateDigitBoundary(t *testing.T) {
	// Exactly two digits is the acceptance boundary.
	_, ok := Validate("RAABC12")
	assert.True(t, ok)

	_, ok = Validate("RAABCD2")
	assert.False(t, ok)
}
