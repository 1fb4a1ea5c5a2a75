package hashline

import (
	"fmt"
	"sort"
	"strings"
)

const mismatchContextLines = 2

// FormatMismatchMessage renders a mismatch report the way a human (or a
// model) can act on it: the current file around each stale reference in
// hashline form, with ">>>" marking the mismatched lines so the correct
// N#TT reference is visible in place. Non-contiguous regions are separated
// by an indented "...".
func FormatMismatchMessage(mismatches []Mismatch, fileLines []string) string {
	if len(mismatches) == 0 {
		return ""
	}

	stale := make(map[int]bool, len(mismatches))
	lines := make([]int, 0, len(mismatches))
	for _, m := range mismatches {
		if !stale[m.Line] {
			stale[m.Line] = true
			lines = append(lines, m.Line)
		}
	}
	sort.Ints(lines)

	show := make(map[int]bool)
	for _, l := range lines {
		for c := l - mismatchContextLines; c <= l+mismatchContextLines; c++ {
			if c >= 1 && c <= len(fileLines) {
				show[c] = true
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d line reference(s) are stale; the file has changed since it was read. Current content:\n", len(lines))
	prev := 0
	for l := 1; l <= len(fileLines); l++ {
		if !show[l] {
			continue
		}
		if prev != 0 && l != prev+1 {
			b.WriteString("    ...\n")
		}
		marker := "    "
		if stale[l] {
			marker = ">>> "
		}
		b.WriteString(marker)
		b.WriteString(FormatLine(l, fileLines[l-1]))
		b.WriteByte('\n')
		prev = l
	}
	return strings.TrimRight(b.String(), "\n")
}
