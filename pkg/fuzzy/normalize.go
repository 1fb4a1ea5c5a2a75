// Package fuzzy locates target text inside file content with progressive
// tolerance: exact match first, then whitespace-insensitive, unicode-
// normalized, prefix/substring, and finally Levenshtein similarity.
//
// The package is pure: strings in, values out. Byte offsets returned in
// matches index into the original (un-normalized) content; normalization is
// applied only to the comparison copies.
package fuzzy

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// NormalizeForFuzzy reduces a string to its loosest comparable form:
// lowercase, NFD decomposition, characters outside basic ASCII dropped,
// whitespace runs collapsed to a single space, surrounding space trimmed.
func NormalizeForFuzzy(s string) string {
	s = strings.ToLower(s)
	s = norm.NFD.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// smart-punctuation substitutions for NormalizeUnicode
var unicodeSubstitutions = map[rune]rune{
	'‘': '\'', '’': '\'', '‛': '\'', '′': '\'', '‵': '\'',
	'“': '"', '”': '"', '„': '"', '‟': '"', '″': '"', '‶': '"',
	'–': '-', '—': '-', '―': '-', '−': '-',
}

// NormalizeUnicode substitutes smart quotes and long dashes with their ASCII
// equivalents while preserving case and spacing.
func NormalizeUnicode(s string) string {
	return strings.Map(func(r rune) rune {
		if sub, ok := unicodeSubstitutions[r]; ok {
			return sub
		}
		return r
	}, s)
}

// Similarity returns 1 - distance/max(len) over runes, so 1.0 means equal
// (two empty strings are equal) and 0.0 means nothing in common.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
