package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercases", input: "John@Example.COM", expected: "john@example.com"},
		{name: "trims whitespace", input: "  a@x.com  ", expected: "a@x.com"},
		{name: "already normalized", input: "a@x.com", expected: "a@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEmail(tt.input))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "strips formatting", input: "(555) 123-4567", expected: "5551234567"},
		{name: "strips plus and spaces", input: "+1 555 123 4567", expected: "15551234567"},
		{name: "digits pass through", input: "555", expected: "555"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}
