package stringutil

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than limit", input: "hello", maxLen: 10, want: "hello"},
		{name: "exact limit", input: "hello", maxLen: 5, want: "hello"},
		{name: "cut at limit", input: "hello world", maxLen: 5, want: "hello"},
		{name: "empty", input: "", maxLen: 5, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{name: "shorter than limit", input: "short", maxRunes: 10, want: "short"},
		{name: "cut with ellipsis", input: "a longer title", maxRunes: 9, want: "a longer…"},
		{name: "multibyte safe", input: "héllo wörld", maxRunes: 6, want: "héllo…"},
		{name: "zero limit", input: "abc", maxRunes: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.input, tt.maxRunes); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}
