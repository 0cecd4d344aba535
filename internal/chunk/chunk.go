// Package chunk splits extracted document text into overlapping fixed-size
// windows, the unit of retrieval.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Default window geometry, in characters.
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Split cuts text into windows of size runes, each starting size-overlap runes
// after the previous one. The final window may be shorter. Empty or
// whitespace-only text yields no chunks. A non-positive size selects
// DefaultSize, and overlap is clamped to [0, size-1].
func Split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	step := size - overlap

	// Fast path: ASCII-only text can be sliced by byte offset.
	if isASCII(text) {
		return splitBytes(text, size, step)
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func splitBytes(text string, size, step int) []string {
	out := make([]string, 0, len(text)/step+1)
	for start := 0; start < len(text); start += step {
		end := min(start+size, len(text))
		out = append(out, text[start:end])
		if end == len(text) {
			break
		}
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
