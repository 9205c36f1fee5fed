package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinKeywordRunes is the shortest token kept as a keyword.
const MinKeywordRunes = 2

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {}, "from": {},
	"and": {}, "or": {}, "not": {}, "that": {}, "this": {}, "it": {}, "its": {}, "as": {}, "has": {},
	"have": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "than": {}, "then": {},
	"그": {}, "이": {}, "저": {}, "것": {}, "수": {}, "등": {}, "및": {}, "또는": {}, "그리고": {},
	"하지만": {}, "있다": {}, "없다": {}, "이다": {}, "한다": {}, "했다": {}, "있는": {}, "대한": {},
	"통해": {}, "위해": {}, "매우": {}, "정말": {}, "사실": {},
}

// Normalize lowercases s, collapses runs of whitespace and trims it.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Keywords returns the distinct, stopword-filtered tokens of s that are at
// least MinKeywordRunes long, in first-seen order.
func Keywords(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(s) {
		if utf8.RuneCountInString(tok) < MinKeywordRunes {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// CountOccurrences sums the case-insensitive occurrences of every keyword in content.
func CountOccurrences(content string, keywords []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		n += strings.Count(lower, kw)
	}
	return n
}

// MatchedKeywords reports how many keywords appear at least once in s.
func MatchedKeywords(s string, keywords []string) int {
	lower := strings.ToLower(s)
	n := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// DetectLanguage returns "ko" when s contains Hangul, otherwise "en".
func DetectLanguage(s string) string {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return "ko"
		}
	}
	return "en"
}
