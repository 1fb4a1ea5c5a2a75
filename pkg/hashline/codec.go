// Package hashline implements the line-addressed edit protocol: a per-line
// content tag, the N#TT:LINE display format, and a batch edit engine that
// validates every (line, tag) reference before any mutation is applied.
//
// Tags are computed over the line with all whitespace removed, so edits
// survive reformatting but not content changes. Everything in this package
// is pure: strings and values in, strings and values out, no I/O.
package hashline

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// TagAlphabet is the 16-symbol alphabet tags are rendered in. The high
// nibble of the line hash selects the first character, the low nibble the
// second. Both sides of the protocol must agree on it byte for byte.
const TagAlphabet = "ZPMQVRWSNKTXJBYH"

// Ref addresses an existing line: a 1-indexed line number plus the tag the
// caller last saw for it.
type Ref struct {
	Line int
	Tag  string
}

// String renders the ref in display form, e.g. "12#QX".
func (r Ref) String() string { return fmt.Sprintf("%d#%s", r.Line, r.Tag) }

// ComputeTag derives the 2-character tag for a line. The hash covers the
// line with every whitespace character removed (spaces, tabs, carriage
// returns, internal breaks), so tags are stable under reformatting. Operates
// on code points; trailing newlines are not part of a line.
func ComputeTag(line string) string {
	h := fnv.New32a()
	h.Write([]byte(stripWhitespace(line)))
	sum := h.Sum32()
	b := byte(sum) ^ byte(sum>>8) ^ byte(sum>>16) ^ byte(sum>>24)
	return string([]byte{TagAlphabet[b>>4], TagAlphabet[b&0x0f]})
}

// FormatLine renders one line in display form: "N#TT:LINE". Line numbers
// are 1-indexed.
func FormatLine(lineNo int, line string) string {
	return fmt.Sprintf("%d#%s:%s", lineNo, ComputeTag(line), line)
}

// FormatHashlines renders content in display form, one formatted line per
// input line, numbered from startLine. Content is split on '\n' bytes with
// nothing added or trimmed, so text ending in a newline renders a final
// empty line — the model sees an addressable anchor for appends.
func FormatHashlines(content string, startLine int) string {
	lines := strings.Split(content, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = FormatLine(startLine+i, l)
	}
	return strings.Join(out, "\n")
}

// ParseRef parses a reference like "12#QX". The syntax is permissive about
// what models actually emit: surrounding whitespace and a leading diff glyph
// ('>', '+', or '-') are accepted. The tag must be exactly two characters
// from TagAlphabet. A parse failure is an input-shape error, never a tag
// mismatch.
func ParseRef(s string) (Ref, error) {
	orig := s
	s = strings.TrimSpace(s)
	for len(s) > 0 && (s[0] == '>' || s[0] == '+' || s[0] == '-') {
		s = strings.TrimSpace(s[1:])
	}

	hash := strings.IndexByte(s, '#')
	if hash <= 0 {
		return Ref{}, fmt.Errorf("invalid line reference %q: want N#TT", orig)
	}
	digits := s[:hash]
	line := 0
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Ref{}, fmt.Errorf("invalid line number in reference %q", orig)
		}
		line = line*10 + int(digits[i]-'0')
	}
	if line < 1 {
		return Ref{}, fmt.Errorf("invalid line number in reference %q", orig)
	}

	tag := s[hash+1:]
	if len(tag) != 2 || !strings.ContainsRune(TagAlphabet, rune(tag[0])) || !strings.ContainsRune(TagAlphabet, rune(tag[1])) {
		return Ref{}, fmt.Errorf("invalid tag in reference %q: want two characters from %s", orig, TagAlphabet)
	}
	return Ref{Line: line, Tag: tag}, nil
}

// stripWhitespace removes every whitespace code point.
func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
