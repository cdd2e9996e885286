// Package stringutil provides common string utility functions.
package stringutil

// TruncateString truncates a string to a maximum byte length.
// If the string is shorter than maxLen, it returns the original string.
// If the string is longer, it returns the first maxLen bytes.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// TruncateRunes truncates a string to a maximum rune count, appending an
// ellipsis when anything was cut. Safe for display of user text that may
// contain multi-byte characters.
func TruncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes < 1 {
		return ""
	}
	return string(runes[:maxRunes-1]) + "…"
}
