package text

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Snippet returns an excerpt of at most maxRunes runes (ellipses excluded)
// centered on the first keyword found in content, or a prefix when none match.
func Snippet(content string, keywords []string, maxRunes int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return content
	}

	start := 0
	if pos := firstKeyword(content, keywords); pos >= 0 {
		center := utf8.RuneCountInString(content[:pos])
		start = center - maxRunes/3
		if start < 0 {
			start = 0
		}
		if start+maxRunes > len(runes) {
			start = len(runes) - maxRunes
		}
	}

	out := strings.TrimSpace(string(runes[start : start+maxRunes]))
	if start > 0 {
		out = ellipsis + out
	}
	if start+maxRunes < len(runes) {
		out += ellipsis
	}
	return out
}

// firstKeyword returns the byte offset of the earliest keyword match, or -1.
// Offsets are taken from the lowered string, so callers must only use them
// on content whose lowercase form keeps byte lengths (true for Hangul and ASCII).
func firstKeyword(content string, keywords []string) int {
	lower := strings.ToLower(content)
	if len(lower) != len(content) {
		return -1
	}
	best := -1
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if i := strings.Index(lower, kw); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}
