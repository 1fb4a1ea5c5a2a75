package hashline

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Edit operations
// ---------------------------------------------------------------------------

// Op identifies an edit operation.
type Op int

const (
	// OpSet replaces exactly one line.
	OpSet Op = iota
	// OpReplace replaces a contiguous range of lines.
	OpReplace
	// OpAppend inserts after a line, or at end of file when After is nil.
	OpAppend
	// OpPrepend inserts before a line, or at start of file when Before is nil.
	OpPrepend
	// OpInsert inserts between two lines.
	OpInsert
	// OpReplaceText substitutes a substring; the fallback for edits that
	// cannot be expressed in line terms.
	OpReplaceText
)

func (op Op) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpReplace:
		return "replace"
	case OpAppend:
		return "append"
	case OpPrepend:
		return "prepend"
	case OpInsert:
		return "insert"
	case OpReplaceText:
		return "replace_text"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Edit is one line-addressed operation. Which fields are meaningful depends
// on Op:
//
//	OpSet         Target, Content
//	OpReplace     First, Last, Content
//	OpAppend      After (nil = end of file), Content
//	OpPrepend     Before (nil = start of file), Content
//	OpInsert      After, Before, Content
//	OpReplaceText OldText, NewText, All
type Edit struct {
	Op Op

	Target      Ref
	First, Last Ref
	After       *Ref
	Before      *Ref

	// Content is the literal replacement lines (no embedded newlines).
	Content []string

	OldText, NewText string
	All              bool
}

// Options configures ApplyEdits.
type Options struct {
	// Autocorrect enables the repair heuristics for common model edit
	// artifacts (merged lines, echoed anchors, reflowed whitespace). The
	// heuristics only touch replacement content, never anchor targets.
	Autocorrect bool
}

// Result is the outcome of a successful ApplyEdits.
type Result struct {
	// Content is the full post-edit text.
	Content string
	// FirstChangedLine is the minimum 1-indexed line any edit touched, or
	// 0 when every edit was a no-op.
	FirstChangedLine int
	// Noops holds the submission indices of edits whose content already
	// matched the file. Valid, reported, not errors.
	Noops []int
	// Deduplicated holds the submission indices of duplicate edits that
	// were dropped in favor of an earlier identical one.
	Deduplicated []int
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Mismatch records one stale reference: the tag the caller sent and the tag
// the line currently hashes to.
type Mismatch struct {
	Line     int
	Expected string
	Actual   string
}

// MismatchError rejects a whole batch because one or more references are
// stale. Every mismatch is collected before returning so the caller can
// re-sync all references in one round trip; Remap maps each stale display
// ref to the current one.
type MismatchError struct {
	Mismatches []Mismatch
	Remap      map[string]string
}

func (e *MismatchError) Error() string {
	refs := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		refs[i] = fmt.Sprintf("%d#%s", m.Line, m.Expected)
	}
	return fmt.Sprintf("%d stale line reference(s): %s", len(e.Mismatches), strings.Join(refs, ", "))
}

// RangeError reports a reference outside the file. Immediate and fatal to
// the batch; only the first offender is reported.
type RangeError struct {
	EditIndex int
	Line      int
	MaxLine   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("edit %d: line %d out of range (file has %d lines)", e.EditIndex, e.Line, e.MaxLine)
}

// StructuralError reports a malformed edit: inverted ranges, required
// content missing, or ReplaceText old text not present. Immediate and fatal
// to the batch.
type StructuralError struct {
	EditIndex int
	Reason    string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("edit %d: %s", e.EditIndex, e.Reason)
}

// ---------------------------------------------------------------------------
// ApplyEdits
// ---------------------------------------------------------------------------

// ApplyEdits validates and applies a batch of edits against content.
// Nothing is applied unless the entire batch validates: stale tags are
// accumulated into a single *MismatchError, structural problems fail fast
// with *RangeError / *StructuralError. Surviving edits are deduplicated,
// sorted bottom-up (descending line, operator precedence, submission order)
// and spliced one by one. Applying an edit at line L never shifts the line
// number of an edit targeting a line below L, which is what makes the
// descending order safe.
func ApplyEdits(content string, edits []Edit, opts Options) (Result, error) {
	lines := strings.Split(content, "\n")

	if err := validate(lines, content, edits); err != nil {
		return Result{}, err
	}

	kept, deduped := deduplicate(edits)
	order := applyOrder(lines, edits, kept)
	touched := touchedLines(edits)

	app := applier{
		orig:    lines,
		lines:   append([]string(nil), lines...),
		touched: touched,
		opts:    opts,
	}
	for _, idx := range order {
		app.apply(idx, edits[idx])
	}

	return Result{
		Content:          strings.Join(app.lines, "\n"),
		FirstChangedLine: app.firstChanged,
		Noops:            app.noops,
		Deduplicated:     deduped,
	}, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func validate(lines []string, content string, edits []Edit) error {
	var mismatches []Mismatch
	seen := make(map[int]string) // line → expected tag already recorded

	checkRef := func(editIdx int, r Ref) error {
		if r.Line < 1 || r.Line > len(lines) {
			return &RangeError{EditIndex: editIdx, Line: r.Line, MaxLine: len(lines)}
		}
		actual := ComputeTag(lines[r.Line-1])
		if r.Tag != actual {
			if prev, ok := seen[r.Line]; !ok || prev != r.Tag {
				seen[r.Line] = r.Tag
				mismatches = append(mismatches, Mismatch{Line: r.Line, Expected: r.Tag, Actual: actual})
			}
		}
		return nil
	}

	for i, e := range edits {
		switch e.Op {
		case OpSet:
			if err := checkRef(i, e.Target); err != nil {
				return err
			}

		case OpReplace:
			if e.First.Line > e.Last.Line {
				return &StructuralError{EditIndex: i, Reason: fmt.Sprintf("inverted range %d..%d", e.First.Line, e.Last.Line)}
			}
			if err := checkRef(i, e.First); err != nil {
				return err
			}
			if err := checkRef(i, e.Last); err != nil {
				return err
			}

		case OpAppend:
			if len(e.Content) == 0 {
				return &StructuralError{EditIndex: i, Reason: "append requires content"}
			}
			if e.After != nil {
				if err := checkRef(i, *e.After); err != nil {
					return err
				}
			}

		case OpPrepend:
			if len(e.Content) == 0 {
				return &StructuralError{EditIndex: i, Reason: "prepend requires content"}
			}
			if e.Before != nil {
				if err := checkRef(i, *e.Before); err != nil {
					return err
				}
			}

		case OpInsert:
			if len(e.Content) == 0 {
				return &StructuralError{EditIndex: i, Reason: "insert requires content"}
			}
			if e.After == nil || e.Before == nil {
				return &StructuralError{EditIndex: i, Reason: "insert requires both anchors"}
			}
			if e.Before.Line <= e.After.Line {
				return &StructuralError{EditIndex: i, Reason: fmt.Sprintf("insert anchors inverted: before %d <= after %d", e.Before.Line, e.After.Line)}
			}
			if err := checkRef(i, *e.After); err != nil {
				return err
			}
			if err := checkRef(i, *e.Before); err != nil {
				return err
			}

		case OpReplaceText:
			if e.OldText == "" {
				return &StructuralError{EditIndex: i, Reason: "replace_text requires old text"}
			}
			if !strings.Contains(content, e.OldText) {
				return &StructuralError{EditIndex: i, Reason: "replace_text old text not found"}
			}

		default:
			return &StructuralError{EditIndex: i, Reason: fmt.Sprintf("unknown operation %d", int(e.Op))}
		}
	}

	if len(mismatches) > 0 {
		sort.Slice(mismatches, func(a, b int) bool { return mismatches[a].Line < mismatches[b].Line })
		remap := make(map[string]string, len(mismatches))
		for _, m := range mismatches {
			remap[fmt.Sprintf("%d#%s", m.Line, m.Expected)] = fmt.Sprintf("%d#%s", m.Line, m.Actual)
		}
		return &MismatchError{Mismatches: mismatches, Remap: remap}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Deduplication and ordering
// ---------------------------------------------------------------------------

// deduplicate keeps the first of any identical (operator, range, content)
// triple and reports the submission indices of the rest.
func deduplicate(edits []Edit) (kept []int, deduped []int) {
	seen := make(map[string]bool, len(edits))
	for i, e := range edits {
		key := dedupKey(e)
		if seen[key] {
			deduped = append(deduped, i)
			continue
		}
		seen[key] = true
		kept = append(kept, i)
	}
	return kept, deduped
}

func dedupKey(e Edit) string {
	h := fnv.New64a()
	for _, l := range e.Content {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	h.Write([]byte(e.OldText))
	h.Write([]byte{0})
	h.Write([]byte(e.NewText))

	var rangeKey string
	switch e.Op {
	case OpSet:
		rangeKey = fmt.Sprintf("%d", e.Target.Line)
	case OpReplace:
		rangeKey = fmt.Sprintf("%d-%d", e.First.Line, e.Last.Line)
	case OpAppend:
		rangeKey = refKey(e.After, "eof")
	case OpPrepend:
		rangeKey = refKey(e.Before, "bof")
	case OpInsert:
		rangeKey = refKey(e.After, "") + "-" + refKey(e.Before, "")
	case OpReplaceText:
		rangeKey = fmt.Sprintf("all=%t", e.All)
	}
	return fmt.Sprintf("%s|%s|%x", e.Op, rangeKey, h.Sum64())
}

func refKey(r *Ref, empty string) string {
	if r == nil {
		return empty
	}
	return fmt.Sprintf("%d", r.Line)
}

// operator precedence at the same effective line: Set/Replace apply first,
// then Append, Prepend, Insert; ReplaceText runs last of all.
func precedence(op Op) int {
	switch op {
	case OpSet, OpReplace:
		return 0
	case OpAppend:
		return 1
	case OpPrepend:
		return 2
	case OpInsert:
		return 3
	default:
		return 4
	}
}

// effectiveLine is the 1-indexed line an edit splices at. Sorting descending
// on it gives the bottom-up application order; ReplaceText sorts as line 0
// so it always runs after every line-addressed splice.
func effectiveLine(lineCount int, e Edit) int {
	switch e.Op {
	case OpSet:
		return e.Target.Line
	case OpReplace:
		return e.First.Line
	case OpAppend:
		if e.After == nil {
			return lineCount + 1
		}
		return e.After.Line
	case OpPrepend:
		if e.Before == nil {
			return 1
		}
		return e.Before.Line
	case OpInsert:
		return e.Before.Line
	default: // OpReplaceText
		return 0
	}
}

func applyOrder(lines []string, edits []Edit, kept []int) []int {
	order := append([]int(nil), kept...)
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := edits[order[a]], edits[order[b]]
		la, lb := effectiveLine(len(lines), ea), effectiveLine(len(lines), eb)
		if la != lb {
			return la > lb
		}
		pa, pb := precedence(ea.Op), precedence(eb.Op)
		if pa != pb {
			return pa < pb
		}
		return order[a] < order[b]
	})
	return order
}

// touchedLines collects every line that is an anchor of any edit, so the
// merge heuristic never absorbs a neighbor another edit addresses.
func touchedLines(edits []Edit) map[int]bool {
	touched := make(map[int]bool)
	for _, e := range edits {
		switch e.Op {
		case OpSet:
			touched[e.Target.Line] = true
		case OpReplace:
			for l := e.First.Line; l <= e.Last.Line; l++ {
				touched[l] = true
			}
		case OpAppend:
			if e.After != nil {
				touched[e.After.Line] = true
			}
		case OpPrepend:
			if e.Before != nil {
				touched[e.Before.Line] = true
			}
		case OpInsert:
			touched[e.After.Line] = true
			touched[e.Before.Line] = true
		}
	}
	return touched
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

type applier struct {
	orig    []string // pre-edit snapshot; no-op checks compare against this
	lines   []string // working copy
	touched map[int]bool
	opts    Options

	firstChanged int
	noops        []int
}

func (a *applier) markChanged(line int) {
	if a.firstChanged == 0 || line < a.firstChanged {
		a.firstChanged = line
	}
}

func (a *applier) apply(idx int, e Edit) {
	switch e.Op {
	case OpSet:
		a.applySet(idx, e)
	case OpReplace:
		a.applyReplace(idx, e, e.First.Line, e.Last.Line, e.Content)
	case OpAppend:
		a.applyAppend(idx, e)
	case OpPrepend:
		a.applyPrepend(idx, e)
	case OpInsert:
		a.applyInsert(idx, e)
	case OpReplaceText:
		a.applyReplaceText(idx, e)
	}
}

func (a *applier) applySet(idx int, e Edit) {
	line := e.Target.Line
	if len(e.Content) == 1 && e.Content[0] == a.orig[line-1] {
		a.noops = append(a.noops, idx)
		return
	}

	if a.opts.Autocorrect {
		if first, last, content, ok := a.detectMerge(line, e.Content); ok {
			a.splice(first, last, content)
			return
		}
	}
	a.applyReplace(idx, e, line, line, e.Content)
}

func (a *applier) applyReplace(idx int, e Edit, first, last int, content []string) {
	origRange := a.orig[first-1 : last]
	if equalLines(origRange, content) {
		a.noops = append(a.noops, idx)
		return
	}

	if a.opts.Autocorrect {
		content = a.stripRangeBoundaryEcho(content, first, last)
		content = a.restoreWrappedLines(content)
		content = restoreIndent(content, origRange)
		if equalLines(origRange, content) {
			a.noops = append(a.noops, idx)
			return
		}
	}
	a.splice(first, last, content)
}

func (a *applier) applyAppend(idx int, e Edit) {
	content := e.Content
	if e.After == nil {
		// End of file. An empty file becomes the content instead of
		// keeping a leading empty line.
		if len(a.orig) == 1 && a.orig[0] == "" && len(a.lines) == 1 && a.lines[0] == "" {
			a.lines = append([]string(nil), content...)
			a.markChanged(1)
			return
		}
		a.markChanged(len(a.lines) + 1)
		a.lines = append(a.lines, content...)
		return
	}

	anchor := e.After.Line
	if a.opts.Autocorrect {
		content = stripAnchorEcho(content, &a.orig[anchor-1], nil)
	}
	if len(content) == 0 {
		a.noops = append(a.noops, idx)
		return
	}
	a.insertAt(anchor, content) // after the anchor line
	a.markChanged(anchor + 1)
}

func (a *applier) applyPrepend(idx int, e Edit) {
	content := e.Content
	anchor := 1
	if e.Before != nil {
		anchor = e.Before.Line
		if a.opts.Autocorrect {
			content = stripAnchorEcho(content, nil, &a.orig[anchor-1])
		}
	}
	if len(content) == 0 {
		a.noops = append(a.noops, idx)
		return
	}
	a.insertAt(anchor-1, content) // before the anchor line
	a.markChanged(anchor)
}

func (a *applier) applyInsert(idx int, e Edit) {
	content := e.Content
	if a.opts.Autocorrect {
		content = stripAnchorEcho(content, &a.orig[e.After.Line-1], &a.orig[e.Before.Line-1])
	}
	if len(content) == 0 {
		a.noops = append(a.noops, idx)
		return
	}
	a.insertAt(e.Before.Line-1, content) // immediately before the Before anchor
	a.markChanged(e.Before.Line)
}

func (a *applier) applyReplaceText(idx int, e Edit) {
	joined := strings.Join(a.lines, "\n")
	n := 1
	if e.All {
		n = -1
	}
	replaced := strings.Replace(joined, e.OldText, e.NewText, n)
	if replaced == joined {
		a.noops = append(a.noops, idx)
		return
	}

	before := a.lines
	a.lines = strings.Split(replaced, "\n")
	if line, ok := firstDifference(before, a.lines); ok {
		a.markChanged(line)
	}
}

// splice replaces lines [first, last] (1-indexed, inclusive) with content.
func (a *applier) splice(first, last int, content []string) {
	out := make([]string, 0, len(a.lines)-(last-first+1)+len(content))
	out = append(out, a.lines[:first-1]...)
	out = append(out, content...)
	out = append(out, a.lines[last:]...)
	a.lines = out
	a.markChanged(first)
}

// insertAt inserts content after 0-indexed position pos (0 = start of file).
func (a *applier) insertAt(pos int, content []string) {
	out := make([]string, 0, len(a.lines)+len(content))
	out = append(out, a.lines[:pos]...)
	out = append(out, content...)
	out = append(out, a.lines[pos:]...)
	a.lines = out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func firstDifference(a, b []string) (int, bool) {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	for i := 0; i < limit; i++ {
		if a[i] != b[i] {
			return i + 1, true
		}
	}
	if len(a) != len(b) {
		return limit + 1, true
	}
	return 0, false
}
