package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "fix: handle nil", FirstLine("fix: handle nil\n\nlong body"))
	assert.Equal(t, "no newline here", FirstLine("no newline here"))
	assert.Equal(t, "", FirstLine("\ntrailing"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "trun…", Truncate("truncated", 5))
	assert.Equal(t, "…", Truncate("ab", 1))
	assert.Equal(t, "unchanged", Truncate("unchanged", 0))
}

func TestTruncateMultibyte(t *testing.T) {
	// 5 runes, 15 bytes; cutting at 4 runes must not split a character.
	s := "日本語です"
	assert.Equal(t, "日本語…", Truncate(s, 4))
	assert.Equal(t, s, Truncate(s, 5))
}
