package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodingName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4.1", "o200k_base"},
		{"o3-mini", "o200k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"text-embedding-3-small", "cl100k_base"},
		{"claude-sonnet-4", "cl100k_base"},
		{"text-davinci-003", "p50k_base"},
		{"code-davinci-002", "p50k_base"},
		{"some-future-model", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodingName(tt.model), "model %q", tt.model)
	}
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens("", "gpt-4o"))
	assert.Equal(t, 1, CountTokens("a", "gpt-4o"), "non-empty text is at least one token")

	// English prose lands near chars/4.
	text := "the quick brown fox jumps over the lazy dog"
	n := CountTokens(text, "gpt-4o")
	assert.GreaterOrEqual(t, n, 9, "at least one token per word")
	assert.LessOrEqual(t, n, 15)

	// Longer text counts more tokens.
	assert.Greater(t, CountTokens(strings.Repeat(text+" ", 10), "gpt-4o"), n)
}

func TestCountTokensFloor(t *testing.T) {
	// A single long word still costs ceil(len/4).
	word := strings.Repeat("x", 40)
	assert.GreaterOrEqual(t, CountTokens(word, "unknown"), 10)
}

func TestCountTokensModelIndependentOfCase(t *testing.T) {
	assert.Equal(t, CountTokens("hello world", "GPT-4o"), CountTokens("hello world", "gpt-4o"))
}
