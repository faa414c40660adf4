// Package stringutil provides the string shaping helpers the surfaces use
// when rendering entry bodies and titles.
package stringutil

import "strings"

// FirstLine returns s up to (not including) the first newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Truncate shortens s to at most max runes, marking the cut with an
// ellipsis. Rune-aware so multi-byte titles are never split mid-character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
