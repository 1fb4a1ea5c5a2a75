package hashline_test

import (
	"strings"
	"testing"

	"github.com/hashline-dev/agent/pkg/hashline"
)

var on = hashline.Options{Autocorrect: true}

// ---------------------------------------------------------------------------
// Merge detection
// ---------------------------------------------------------------------------

func TestAutocorrect_MergePreviousPulledDown(t *testing.T) {
	content := "let x =\n  getValue()\nreturn x"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpSet, Target: ref(t, content, 2), Content: []string{"let x = getValue()"}},
	}, on)
	if res.Content != "let x = getValue()\nreturn x" {
		t.Errorf("content = %q", res.Content)
	}
	if res.FirstChangedLine != 1 {
		t.Errorf("first changed = %d", res.FirstChangedLine)
	}
}

func TestAutocorrect_MergeNextPulledUp(t *testing.T) {
	content := "result := compute() &&\n  check()\ndone()"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpSet, Target: ref(t, content, 1), Content: []string{"result := compute() && check()"}},
	}, on)
	if res.Content != "result := compute() && check()\ndone()" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_MergeWithOperatorChange(t *testing.T) {
	content := "if ready &&\n  valid {\nbody()"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpSet, Target: ref(t, content, 1), Content: []string{"if ready || valid {"}},
	}, on)
	if res.Content != "if ready || valid {\nbody()" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_MergeSkippedWhenNeighborTargeted(t *testing.T) {
	content := "let x =\n  getValue()\nreturn x"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpSet, Target: ref(t, content, 2), Content: []string{"let x = getValue()"}},
		{Op: hashline.OpSet, Target: ref(t, content, 1), Content: []string{"let y ="}},
	}, on)
	// Line 1 is addressed by the second edit, so the first must not absorb
	// it; both apply as plain single-line sets.
	if !strings.Contains(res.Content, "let y =") {
		t.Errorf("second edit lost: %q", res.Content)
	}
	if len(strings.Split(res.Content, "\n")) != 3 {
		t.Errorf("merge happened anyway: %q", res.Content)
	}
}

func TestAutocorrect_MergeRespectsSlack(t *testing.T) {
	content := "ab\ncd\nef"
	// Far longer than the two lines plus slack: not a merge.
	huge := "ab" + strings.Repeat("Z", 100) + "cd"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpSet, Target: ref(t, content, 1), Content: []string{huge}},
	}, on)
	if got := strings.Split(res.Content, "\n"); len(got) != 3 || got[0] != huge {
		t.Errorf("content = %q", res.Content)
	}
}

// ---------------------------------------------------------------------------
// Boundary echo stripping
// ---------------------------------------------------------------------------

func TestAutocorrect_RangeBoundaryEcho(t *testing.T) {
	content := "before\nold1\nold2\nafter"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpReplace,
			First:   ref(t, content, 2),
			Last:    ref(t, content, 3),
			Content: []string{"before", "new1", "new2", "after"},
		},
	}, on)
	if res.Content != "before\nnew1\nnew2\nafter" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_AnchorEchoAppend(t *testing.T) {
	content := "alpha\nomega"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpAppend, After: refPtr(t, content, 1), Content: []string{"alpha", "inserted"}},
	}, on)
	if res.Content != "alpha\ninserted\nomega" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_AnchorEchoInsertBothSides(t *testing.T) {
	content := "open\nmid\nclose"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpInsert,
			After:   refPtr(t, content, 1),
			Before:  refPtr(t, content, 3),
			Content: []string{"open", "body", "close"},
		},
	}, on)
	if res.Content != "open\nmid\nbody\nclose" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_FullyEchoedInsertIsNoop(t *testing.T) {
	content := "open\nclose"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpInsert,
			After:   refPtr(t, content, 1),
			Before:  refPtr(t, content, 2),
			Content: []string{"open", "close"},
		},
	}, on)
	if res.Content != content {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.Noops) != 1 {
		t.Errorf("noops = %v", res.Noops)
	}
}

// ---------------------------------------------------------------------------
// Wrapped-line restoration
// ---------------------------------------------------------------------------

func TestAutocorrect_WrappedLineRestoration(t *testing.T) {
	long := "callSomething(argumentOne, argumentTwo, argumentThree)"
	content := "start\n" + long + "\nend"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:    hashline.OpReplace,
			First: ref(t, content, 1),
			Last:  ref(t, content, 3),
			Content: []string{
				"start changed",
				"callSomething(argumentOne,",
				"  argumentTwo, argumentThree)",
				"end",
			},
		},
	}, on)
	want := "start changed\n" + long + "\nend"
	if res.Content != want {
		t.Errorf("content = %q, want %q", res.Content, want)
	}
}

func TestAutocorrect_WrappedRunNotInOriginalKept(t *testing.T) {
	content := "one\ntwo"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpReplace,
			First:   ref(t, content, 1),
			Last:    ref(t, content, 2),
			Content: []string{"brand new line,", "split differently"},
		},
	}, on)
	if res.Content != "brand new line,\nsplit differently" {
		t.Errorf("content = %q", res.Content)
	}
}

// ---------------------------------------------------------------------------
// Indent restoration
// ---------------------------------------------------------------------------

func TestAutocorrect_IndentRestoration(t *testing.T) {
	content := "func f() {\n\tdoA()\n\tdoB()\n}"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpReplace,
			First:   ref(t, content, 2),
			Last:    ref(t, content, 3),
			Content: []string{"doA2()", "doB2()"},
		},
	}, on)
	if res.Content != "func f() {\n\tdoA2()\n\tdoB2()\n}" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_IndentKeptWhenReplacementIndented(t *testing.T) {
	content := "func f() {\n\tdoA()\n}"
	res := mustApply(t, content, []hashline.Edit{
		{
			Op:      hashline.OpReplace,
			First:   ref(t, content, 2),
			Last:    ref(t, content, 2),
			Content: []string{"  doA2()"},
		},
	}, on)
	// The replacement chose its own indentation; it is not second-guessed.
	if res.Content != "func f() {\n  doA2()\n}" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAutocorrect_OffLeavesContentAlone(t *testing.T) {
	content := "alpha\nomega"
	res := mustApply(t, content, []hashline.Edit{
		{Op: hashline.OpAppend, After: refPtr(t, content, 1), Content: []string{"alpha", "inserted"}},
	}, hashline.Options{})
	if res.Content != "alpha\nalpha\ninserted\nomega" {
		t.Errorf("content = %q", res.Content)
	}
}
