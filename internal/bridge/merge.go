package bridge

import (
	"strings"
	"unicode"
)

// overlapProbeWindow bounds the suffix/prefix overlap search so merging
// stays cheap on long drafts.
const overlapProbeWindow = 256

// shortChunkLimit is the length under which a chunk is treated as
// token-like for the space-insertion heuristic.
const shortChunkLimit = 16

// mergeStreamText reconciles an incoming streamed chunk with the current
// draft. The wire protocol has historically delivered both true deltas and
// redundant re-snapshots, so plain concatenation would duplicate text.
//
// Resolution order:
//  1. chunk extends or contains the draft -> replace with chunk
//  2. draft already contains the chunk at its start -> keep draft
//  3. longest suffix(draft)/prefix(chunk) overlap within a bounded probe
//     window -> append only the non-overlapping remainder
//  4. short token-like chunk across alphanumeric boundaries -> join with a
//     space
//  5. otherwise append verbatim
func mergeStreamText(current, chunk string) string {
	if chunk == "" {
		return current
	}
	if current == "" {
		return chunk
	}

	// Re-snapshot cases: the chunk supersedes the draft.
	if len(chunk) >= len(current) {
		if chunk[:len(current)] == current {
			return chunk
		}
		if strings.Contains(chunk, current) {
			return chunk
		}
	}

	// Duplicate delivery: draft already starts with the chunk.
	if len(current) >= len(chunk) && current[:len(chunk)] == chunk {
		return current
	}

	// Overlap splice: trailing draft text repeated at the head of the chunk.
	if k := suffixPrefixOverlap(current, chunk); k > 0 {
		return current + chunk[k:]
	}

	// Token-like chunk: insert a space between alphanumeric boundaries.
	if len(chunk) <= shortChunkLimit {
		last := rune(current[len(current)-1])
		first := rune(chunk[0])
		if isWordRune(last) && isWordRune(first) {
			return current + " " + chunk
		}
	}

	return current + chunk
}

// suffixPrefixOverlap returns the length of the longest suffix of current
// that equals a prefix of chunk, probing at most overlapProbeWindow bytes.
func suffixPrefixOverlap(current, chunk string) int {
	max := len(current)
	if len(chunk) < max {
		max = len(chunk)
	}
	if max > overlapProbeWindow {
		max = overlapProbeWindow
	}
	for k := max; k > 0; k-- {
		if current[len(current)-k:] == chunk[:k] {
			return k
		}
	}
	return 0
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
