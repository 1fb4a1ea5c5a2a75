package fuzzy

import (
	"strings"
)

// ---------------------------------------------------------------------------
// SeekSequence — line-sequence search for line-addressed callers
// ---------------------------------------------------------------------------

// SeekOptions configures SeekSequence and FindContextLine.
type SeekOptions struct {
	// AllowFuzzy enables the similarity passes after the lighter
	// comparisons fail.
	AllowFuzzy bool
	// EOF scans windows from the end of the content first, so appended
	// content is preferred over an earlier duplicate.
	EOF bool
}

// SeekResult is the outcome of SeekSequence / FindContextLine.
// Index is the 0-based content line where the matched window starts; it is
// only meaningful when Kind is not KindNone.
type SeekResult struct {
	Kind       Kind
	Index      int
	Confidence float64
	// Count is the number of windows that matched the winning pass.
	Count int
}

// Fixed confidence per comparison pass. Later passes of equal quality must
// not promote over earlier ones, so each pass carries its own score.
const (
	confExact        = 1.0
	confRStrip       = 0.99
	confTrim         = 0.98
	confComment      = 0.975
	confUnicode      = 0.97
	confPrefix       = 0.965
	confSubstring    = 0.94
	seqFuzzyMinScore = 0.92

	substringMinLen = 6
	substringRatio  = 0.3
)

// linePass reports whether a content line matches a pattern line under one
// comparison level.
type linePass func(content, pattern string) bool

// SeekSequence finds the window of lines matching pattern, starting the scan
// at the 0-based index start. Comparison passes run strictly in order from
// exact equality down to per-line similarity; the first pass with any
// matching window decides the result. Ties within one pass follow the same
// dominant / closest rule as FindMatch.
func SeekSequence(lines, pattern []string, start int, opts SeekOptions) SeekResult {
	if len(pattern) == 0 || start < 0 || start+len(pattern) > len(lines) {
		return SeekResult{Kind: KindNone}
	}

	passes := []struct {
		conf float64
		pass linePass
	}{
		{confExact, func(c, p string) bool { return c == p }},
		{confRStrip, func(c, p string) bool { return rstrip(c) == rstrip(p) }},
		{confTrim, func(c, p string) bool { return strings.TrimSpace(c) == strings.TrimSpace(p) }},
		{confComment, func(c, p string) bool {
			return stripCommentPrefix(c) == stripCommentPrefix(p)
		}},
		{confUnicode, func(c, p string) bool {
			return strings.TrimSpace(NormalizeUnicode(c)) == strings.TrimSpace(NormalizeUnicode(p))
		}},
		{confPrefix, prefixAfterNormalize},
		{confSubstring, substringAfterNormalize},
	}

	for _, p := range passes {
		if r := seekPass(lines, pattern, start, opts.EOF, p.conf, p.pass); r.Kind != KindNone {
			return r
		}
	}

	if !opts.AllowFuzzy {
		return SeekResult{Kind: KindNone}
	}

	// Per-line mean similarity over normalized pairs.
	if r := seekScored(lines, pattern, start, opts.EOF); r.Kind != KindNone {
		return r
	}

	// Last resort: the character-level window search.
	content := strings.Join(lines[start:], "\n")
	res := FindMatch(content, strings.Join(pattern, "\n"), Options{AllowFuzzy: true})
	switch res.Kind {
	case KindUnique, KindDominant:
		return SeekResult{
			Kind:       res.Kind,
			Index:      start + res.Match.StartLine - 1,
			Confidence: res.Match.Confidence,
			Count:      res.Count,
		}
	case KindClosest:
		if res.Match.Confidence >= seqFuzzyMinScore {
			return SeekResult{
				Kind:       KindClosest,
				Index:      start + res.Match.StartLine - 1,
				Confidence: res.Match.Confidence,
				Count:      res.Count,
			}
		}
	}
	return SeekResult{Kind: KindNone}
}

// seekPass scans every window with one boolean comparison.
func seekPass(lines, pattern []string, start int, fromEnd bool, conf float64, pass linePass) SeekResult {
	matches := windowIndexes(lines, pattern, start, fromEnd, func(window []string) bool {
		for j, p := range pattern {
			if !pass(window[j], p) {
				return false
			}
		}
		return true
	})
	if len(matches) == 0 {
		return SeekResult{Kind: KindNone}
	}
	kind := KindUnique
	if len(matches) > 1 {
		// Equal fixed confidence per pass: never dominant.
		kind = KindClosest
	}
	return SeekResult{Kind: kind, Index: matches[0], Confidence: conf, Count: len(matches)}
}

// seekScored scans windows by mean per-line similarity, keeping the best
// score and applying the dominant rule on ties above the bar.
func seekScored(lines, pattern []string, start int, fromEnd bool) SeekResult {
	normPattern := make([]string, len(pattern))
	for i, p := range pattern {
		normPattern[i] = NormalizeForFuzzy(NormalizeUnicode(p))
	}

	best, second := -1.0, -1.0
	bestIdx := -1
	above := 0
	forEachWindow(lines, pattern, start, fromEnd, func(i int, window []string) {
		var sum float64
		for j := range pattern {
			sum += Similarity(NormalizeForFuzzy(NormalizeUnicode(window[j])), normPattern[j])
		}
		score := sum / float64(len(pattern))
		if score > best {
			second = best
			best, bestIdx = score, i
		} else if score > second {
			second = score
		}
		if score >= seqFuzzyMinScore {
			above++
		}
	})

	if bestIdx == -1 || best < seqFuzzyMinScore {
		return SeekResult{Kind: KindNone}
	}
	switch {
	case above == 1:
		return SeekResult{Kind: KindUnique, Index: bestIdx, Confidence: best, Count: 1}
	case best >= dominantConfidence && best-second >= dominantMargin:
		return SeekResult{Kind: KindDominant, Index: bestIdx, Confidence: best, Count: above}
	default:
		return SeekResult{Kind: KindClosest, Index: bestIdx, Confidence: best, Count: above}
	}
}

// windowIndexes collects the window start indexes accepted by ok, in scan
// order.
func windowIndexes(lines, pattern []string, start int, fromEnd bool, ok func([]string) bool) []int {
	var out []int
	forEachWindow(lines, pattern, start, fromEnd, func(i int, window []string) {
		if ok(window) {
			out = append(out, i)
		}
	})
	return out
}

func forEachWindow(lines, pattern []string, start int, fromEnd bool, fn func(int, []string)) {
	t := len(pattern)
	last := len(lines) - t
	if fromEnd {
		for i := last; i >= start; i-- {
			fn(i, lines[i:i+t])
		}
		return
	}
	for i := start; i <= last; i++ {
		fn(i, lines[i:i+t])
	}
}

// ---------------------------------------------------------------------------
// Per-line comparison helpers
// ---------------------------------------------------------------------------

func rstrip(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

// commentPrefixes are stripped (repeatedly, with surrounding space) before
// the comment-insensitive comparison.
var commentPrefixes = []string{"//", "/*", "*/", "#", ";", "*", "/ "}

func stripCommentPrefix(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := false
		for _, p := range commentPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

func prefixAfterNormalize(c, p string) bool {
	nc := NormalizeForFuzzy(NormalizeUnicode(c))
	np := NormalizeForFuzzy(NormalizeUnicode(p))
	if nc == "" || np == "" {
		return nc == np
	}
	return strings.HasPrefix(nc, np) || strings.HasPrefix(np, nc)
}

// substringAfterNormalize accepts a pattern line contained inside a longer
// content line, as long as it is substantial: at least substringMinLen
// normalized characters and at least substringRatio of the line it matches
// into.
func substringAfterNormalize(c, p string) bool {
	nc := NormalizeForFuzzy(NormalizeUnicode(c))
	np := NormalizeForFuzzy(NormalizeUnicode(p))
	if len(np) < substringMinLen {
		return false
	}
	if !strings.Contains(nc, np) {
		return false
	}
	return float64(len(np))/float64(len(nc)) >= substringRatio
}

// ---------------------------------------------------------------------------
// FindContextLine — single-line variant
// ---------------------------------------------------------------------------

// FindContextLine locates a single context line at or after startFrom.
// When the context ends in "()" and nothing matches, it retries once with a
// bare "(" suffix and once with no parentheses at all — both with fuzzy
// disabled, so the retries cannot cascade.
func FindContextLine(lines []string, context string, startFrom int, opts SeekOptions) SeekResult {
	res := SeekSequence(lines, []string{context}, startFrom, opts)
	if res.Kind != KindNone {
		return res
	}

	trimmed := strings.TrimRight(context, " \t")
	if !strings.HasSuffix(trimmed, "()") {
		return res
	}
	exact := SeekOptions{AllowFuzzy: false, EOF: opts.EOF}
	if r := SeekSequence(lines, []string{strings.TrimSuffix(trimmed, ")")}, startFrom, exact); r.Kind != KindNone {
		return r
	}
	return SeekSequence(lines, []string{strings.TrimSuffix(trimmed, "()")}, startFrom, exact)
}
