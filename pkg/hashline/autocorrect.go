package hashline

import "strings"

// Repair heuristics for edit artifacts models produce systematically:
// adjacent lines conflated into one, anchor lines re-echoed around inserted
// blocks, long lines re-wrapped, indentation dropped. Each heuristic only
// rewrites replacement content; the addressing contract is untouched.

// mergeSlack bounds how much longer a merged candidate line may be than the
// two lines it absorbs. Empirical; referenced by tests rather than retuned
// inline.
const mergeSlack = 32

// continuationTokens are the operators a line may legitimately end with
// when its statement continues on the next line. When a model rewrote the
// operator itself (typically && to ||), the operator-character strip pass
// below still recognizes the merge.
var continuationTokens = []string{
	"&&", "||", "??", "?", ":", "=", ",", "+", "-", "*", "/", "%", ".", "(",
}

const operatorChars = "&|?:=,+-*/%.("

// ---------------------------------------------------------------------------
// Merge detection (Set with a single replacement line)
// ---------------------------------------------------------------------------

// detectMerge recognizes a Set whose single replacement line absorbed an
// adjacent original line — the next line pulled up, or the previous pulled
// down — and rewrites it as a two-line replacement. The absorbed neighbor
// must not be addressed by another edit in the same batch.
func (a *applier) detectMerge(line int, content []string) (first, last int, out []string, ok bool) {
	if len(content) != 1 {
		return 0, 0, nil, false
	}
	candidate := stripWhitespace(content[0])
	cur := stripWhitespace(a.orig[line-1])
	if candidate == "" || cur == "" {
		return 0, 0, nil, false
	}

	// Next line pulled up: candidate is cur followed by the next line.
	if line < len(a.orig) && !a.touched[line+1] {
		next := stripWhitespace(a.orig[line])
		if next != "" && mergedFrom(candidate, cur, next) {
			return line, line + 1, content, true
		}
	}
	// Previous line pulled down: candidate is the previous line then cur.
	if line > 1 && !a.touched[line-1] {
		prev := stripWhitespace(a.orig[line-2])
		if prev != "" && mergedFrom(candidate, prev, cur) {
			return line - 1, line, content, true
		}
	}
	return 0, 0, nil, false
}

// mergedFrom reports whether candidate reads as a followed by b, within the
// slack budget. Three attempts: verbatim, with trailing continuation tokens
// stripped from the leading part, and with all operator characters removed.
func mergedFrom(candidate, a, b string) bool {
	if len(candidate) > len(a)+len(b)+mergeSlack {
		return false
	}
	if containsInOrder(candidate, a, b) {
		return true
	}
	if stripped := stripContinuationToken(a); stripped != a && stripped != "" {
		if containsInOrder(candidate, stripped, b) {
			return true
		}
	}
	ca := stripOperatorChars(candidate)
	oa, ob := stripOperatorChars(a), stripOperatorChars(b)
	if oa != "" && ob != "" && containsInOrder(ca, oa, ob) {
		return true
	}
	return false
}

// containsInOrder reports whether s contains a and then b, in that order.
func containsInOrder(s, a, b string) bool {
	i := strings.Index(s, a)
	if i == -1 {
		return false
	}
	return strings.Contains(s[i+len(a):], b)
}

func stripContinuationToken(s string) string {
	for _, tok := range continuationTokens {
		if strings.HasSuffix(s, tok) {
			return s[:len(s)-len(tok)]
		}
	}
	return s
}

func stripOperatorChars(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(operatorChars, r) {
			return -1
		}
		return r
	}, s)
}

// ---------------------------------------------------------------------------
// Range-boundary echo stripping
// ---------------------------------------------------------------------------

// stripRangeBoundaryEcho drops a leading replacement line that repeats the
// line just above the replaced range, and a trailing one that repeats the
// line just below. Only runs when the replacement grew, which is the shape
// a context re-echo produces.
func (a *applier) stripRangeBoundaryEcho(content []string, first, last int) []string {
	if len(content) <= last-first+1 {
		return content
	}
	if first >= 2 && len(content) > 0 && canonEqual(content[0], a.orig[first-2]) {
		content = content[1:]
	}
	if last < len(a.orig) && len(content) > 0 && canonEqual(content[len(content)-1], a.orig[last]) {
		content = content[:len(content)-1]
	}
	return content
}

// ---------------------------------------------------------------------------
// Wrapped-line restoration
// ---------------------------------------------------------------------------

const (
	wrapMinRun   = 2
	wrapMaxRun   = 10
	wrapMinCanon = 6
)

// restoreWrappedLines collapses a run of replacement lines that is a
// re-wrapped form of exactly one original line back to that original line.
// The run's concatenated canonical form must be substantial, occur once
// among the original lines, and not be producible by any other run in the
// replacement. Scans back-to-front so earlier runs keep their indices.
func (a *applier) restoreWrappedLines(content []string) []string {
	if len(content) < wrapMinRun {
		return content
	}

	origCount := make(map[string]int)
	origLine := make(map[string]string)
	for _, l := range a.orig {
		c := stripWhitespace(l)
		if len(c) >= wrapMinCanon {
			origCount[c]++
			origLine[c] = l
		}
	}
	if len(origCount) == 0 {
		return content
	}

	out := append([]string(nil), content...)
	for end := len(out); end >= wrapMinRun; end-- {
		for runLen := wrapMaxRun; runLen >= wrapMinRun; runLen-- {
			start := end - runLen
			if start < 0 {
				continue
			}
			canon := stripWhitespace(strings.Join(out[start:end], ""))
			if len(canon) < wrapMinCanon || origCount[canon] != 1 {
				continue
			}
			if countRuns(out, canon) != 1 {
				continue
			}
			collapsed := make([]string, 0, len(out)-runLen+1)
			collapsed = append(collapsed, out[:start]...)
			collapsed = append(collapsed, origLine[canon])
			collapsed = append(collapsed, out[end:]...)
			out = collapsed
			end = start + 1 // continue scanning above the collapsed run
			break
		}
	}
	return out
}

// countRuns counts the runs of wrapMinRun..wrapMaxRun lines whose
// concatenated canonical form equals canon.
func countRuns(lines []string, canon string) int {
	n := 0
	for start := 0; start < len(lines); start++ {
		acc := ""
		for end := start + 1; end <= len(lines) && end-start <= wrapMaxRun; end++ {
			acc += stripWhitespace(lines[end-1])
			if end-start >= wrapMinRun && acc == canon {
				n++
			}
			if len(acc) > len(canon) {
				break
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Indent restoration
// ---------------------------------------------------------------------------

// restoreIndent re-applies original indentation to a paired replacement:
// when the range and the replacement have the same number of lines and a
// replacement line arrives flush-left where its original partner was
// indented, the partner's indent is prepended.
func restoreIndent(content, origRange []string) []string {
	if len(content) != len(origRange) {
		return content
	}
	out := append([]string(nil), content...)
	changed := false
	for i, l := range out {
		if l == "" || hasLeadingSpace(l) {
			continue
		}
		indent := leadingWhitespace(origRange[i])
		if indent != "" {
			out[i] = indent + l
			changed = true
		}
	}
	if !changed {
		return content
	}
	return out
}

func hasLeadingSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\t')
}

func leadingWhitespace(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return s[:i]
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Anchor-echo stripping (Append / Prepend / Insert)
// ---------------------------------------------------------------------------

// stripAnchorEcho drops boundary lines of an inserted block that repeat the
// anchor lines: the first line against the line inserted after, the last
// against the line inserted before.
func stripAnchorEcho(content []string, after, before *string) []string {
	if after != nil && len(content) > 0 && canonEqual(content[0], *after) {
		content = content[1:]
	}
	if before != nil && len(content) > 0 && canonEqual(content[len(content)-1], *before) {
		content = content[:len(content)-1]
	}
	return content
}

// canonEqual compares two lines whitespace-insensitively. Blank lines never
// count as echoes of each other.
func canonEqual(a, b string) bool {
	ca := stripWhitespace(a)
	if ca == "" {
		return false
	}
	return ca == stripWhitespace(b)
}
