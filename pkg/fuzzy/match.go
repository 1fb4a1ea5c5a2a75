package fuzzy

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const (
	// DefaultThreshold is the confidence a fuzzy window must reach to count
	// as a real match.
	DefaultThreshold = 0.95

	// A best match this confident that also leads the runner-up by
	// dominantMargin is treated as unique despite other candidates above
	// the threshold.
	dominantConfidence = 0.97
	dominantMargin     = 0.08

	// Best scores in [retryFloor, threshold) trigger a second scoring pass
	// without the indent-depth prefix.
	retryFloor = 0.8

	previewContextLines = 5
	previewMaxChars     = 80
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Kind classifies the outcome of a search.
type Kind int

const (
	// KindNone: nothing found.
	KindNone Kind = iota
	// KindUnique: exactly one confident match.
	KindUnique
	// KindClosest: best guess below the confidence bar, or ambiguous.
	KindClosest
	// KindMultiple: the exact text occurs more than once.
	KindMultiple
	// KindDominant: several candidates above threshold but the best leads
	// by a clear margin.
	KindDominant
)

// Match is a concrete region of the original content chosen as the best
// match. StartByte is a byte offset into the original content; StartLine is
// 1-indexed.
type Match struct {
	ActualText string
	StartByte  int
	StartLine  int
	Confidence float64
}

// Result is the outcome of FindMatch.
type Result struct {
	Kind  Kind
	Match Match

	// Count is the number of exact occurrences for KindMultiple, or the
	// number of windows at-or-above the threshold for KindClosest and
	// KindDominant (0 for a below-threshold best effort).
	Count int

	// Lines and Previews are set for KindMultiple only.
	Lines    []int
	Previews []string
}

// Options configures FindMatch.
type Options struct {
	// AllowFuzzy enables the windowed similarity search when no exact
	// occurrence exists.
	AllowFuzzy bool
	// Threshold overrides DefaultThreshold when > 0.
	Threshold float64
}

// ---------------------------------------------------------------------------
// FindMatch
// ---------------------------------------------------------------------------

// FindMatch locates target inside content. Exact occurrences win: a single
// one is returned with confidence 1.0, several are reported as
// KindMultiple with line numbers and previews so the caller can ask for a
// more specific target. Only when no exact occurrence exists (and
// opts.AllowFuzzy is set) does the windowed fuzzy search run.
func FindMatch(content, target string, opts Options) Result {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if target != "" {
		if r, done := findExact(content, target); done {
			return r
		}
	}
	if !opts.AllowFuzzy || target == "" {
		return Result{Kind: KindNone}
	}
	return findFuzzy(content, target, threshold)
}

// findExact reports (result, true) when target occurs at least once.
func findExact(content, target string) (Result, bool) {
	first := strings.Index(content, target)
	if first == -1 {
		return Result{}, false
	}

	var offsets []int
	for idx := first; idx != -1; {
		offsets = append(offsets, idx)
		next := strings.Index(content[idx+len(target):], target)
		if next == -1 {
			break
		}
		idx = idx + len(target) + next
	}

	if len(offsets) == 1 {
		return Result{
			Kind: KindUnique,
			Match: Match{
				ActualText: target,
				StartByte:  first,
				StartLine:  lineOfOffset(content, first),
				Confidence: 1.0,
			},
		}, true
	}

	lines := make([]int, len(offsets))
	previews := make([]string, len(offsets))
	contentLines := strings.Split(content, "\n")
	for i, off := range offsets {
		lines[i] = lineOfOffset(content, off)
		previews[i] = preview(contentLines, lines[i])
	}
	return Result{Kind: KindMultiple, Count: len(offsets), Lines: lines, Previews: previews}, true
}

// lineOfOffset converts a byte offset to a 1-indexed line number by counting
// the newlines that precede it.
func lineOfOffset(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

// preview renders the lines around a 1-indexed line, each clipped to
// previewMaxChars.
func preview(lines []string, line int) string {
	lo := line - 1 - previewContextLines
	if lo < 0 {
		lo = 0
	}
	hi := line - 1 + previewContextLines
	if hi > len(lines)-1 {
		hi = len(lines) - 1
	}
	var b strings.Builder
	for i := lo; i <= hi; i++ {
		text := lines[i]
		if len([]rune(text)) > previewMaxChars {
			text = string([]rune(text)[:previewMaxChars])
		}
		fmt.Fprintf(&b, "%d: %s\n", i+1, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ---------------------------------------------------------------------------
// Windowed fuzzy search
// ---------------------------------------------------------------------------

type windowScore struct {
	index int // 0-based content line of the window start
	score float64
}

type scanResult struct {
	best       windowScore
	second     float64
	aboveCount int
	scored     bool
}

// findFuzzy slides a window of len(target lines) over the content lines and
// scores each window by mean per-line similarity of the normalized pair.
func findFuzzy(content, target string, threshold float64) Result {
	contentLines := strings.Split(content, "\n")
	targetLines := strings.Split(target, "\n")
	if len(targetLines) == 0 || len(contentLines) < len(targetLines) {
		return Result{Kind: KindNone}
	}

	res := scanWindows(contentLines, targetLines, threshold, true)

	// A near-miss can be an artifact of the depth prefix (e.g. a block the
	// model re-indented flat). Rescore without it and keep the better run.
	if res.scored && res.best.score >= retryFloor && res.best.score < threshold {
		flat := scanWindows(contentLines, targetLines, threshold, false)
		if flat.scored && flat.best.score > res.best.score {
			res = flat
		}
	}

	if !res.scored {
		return Result{Kind: KindNone}
	}

	match := windowMatch(contentLines, res.best.index, len(targetLines), res.best.score)
	switch {
	case res.best.score >= threshold && res.aboveCount == 1:
		return Result{Kind: KindUnique, Match: match, Count: 1}
	case res.best.score >= threshold &&
		res.best.score >= dominantConfidence &&
		res.best.score-res.second >= dominantMargin:
		return Result{Kind: KindDominant, Match: match, Count: res.aboveCount}
	case res.best.score >= threshold:
		return Result{Kind: KindClosest, Match: match, Count: res.aboveCount}
	default:
		return Result{Kind: KindClosest, Match: match, Count: 0}
	}
}

func scanWindows(contentLines, targetLines []string, threshold float64, withDepth bool) scanResult {
	t := len(targetLines)
	targetNorm := normalizeBlock(targetLines, withDepth)

	res := scanResult{best: windowScore{index: -1}}
	for i := 0; i+t <= len(contentLines); i++ {
		windowNorm := normalizeBlock(contentLines[i:i+t], withDepth)
		var sum float64
		for j := 0; j < t; j++ {
			sum += Similarity(windowNorm[j], targetNorm[j])
		}
		score := sum / float64(t)

		if !res.scored || score > res.best.score {
			res.second = res.best.score
			res.best = windowScore{index: i, score: score}
			res.scored = true
		} else if score > res.second {
			res.second = score
		}
		if score >= threshold {
			res.aboveCount++
		}
	}
	return res
}

// normalizeBlock normalizes each line for fuzzy comparison. With depth
// enabled, each line is prefixed with its relative indent depth — the
// line's indent minus the block's minimum, divided by the block's smallest
// positive indent step — so structurally indented code aligns even when the
// whole block shifted.
func normalizeBlock(lines []string, withDepth bool) []string {
	// Smart punctuation is substituted before the ASCII filter so curly
	// quotes compare equal to straight ones instead of vanishing.
	normalizeLine := func(l string) string {
		return NormalizeForFuzzy(NormalizeUnicode(l))
	}

	out := make([]string, len(lines))
	if !withDepth {
		for i, l := range lines {
			out[i] = normalizeLine(l)
		}
		return out
	}

	indents := make([]int, len(lines))
	minIndent := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			indents[i] = -1
			continue
		}
		indents[i] = leadingIndent(l)
		if minIndent == -1 || indents[i] < minIndent {
			minIndent = indents[i]
		}
	}
	step := 0
	for _, ind := range indents {
		if ind < 0 {
			continue
		}
		if d := ind - minIndent; d > 0 && (step == 0 || d < step) {
			step = d
		}
	}

	for i, l := range lines {
		depth := 0
		if indents[i] >= 0 && step > 0 {
			depth = (indents[i] - minIndent) / step
		}
		out[i] = fmt.Sprintf("%d>%s", depth, normalizeLine(l))
	}
	return out
}

func leadingIndent(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\t' {
			break
		}
		n++
	}
	return n
}

// windowMatch builds a Match for the window starting at 0-based line index.
func windowMatch(contentLines []string, index, span int, score float64) Match {
	startByte := 0
	for i := 0; i < index; i++ {
		startByte += len(contentLines[i]) + 1
	}
	return Match{
		ActualText: strings.Join(contentLines[index:index+span], "\n"),
		StartByte:  startByte,
		StartLine:  index + 1,
		Confidence: score,
	}
}
