package hashline_test

import (
	"iter"
	"strings"
	"testing"

	"github.com/hashline-dev/agent/pkg/hashline"
)

func chunkSeq(chunks ...string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, c := range chunks {
			if !yield(c) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq[string]) []string {
	t.Helper()
	var out []string
	for c := range seq {
		out = append(out, c)
	}
	return out
}

func TestStreamHashlines_TerminalEmptyLine(t *testing.T) {
	got := collect(t, hashline.StreamHashlines(chunkSeq("a\n", "b\n"), 1, 1, 0))
	want := []string{
		hashline.FormatLine(1, "a"),
		hashline.FormatLine(2, "b"),
		hashline.FormatLine(3, ""),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamHashlines_EmptyInput(t *testing.T) {
	got := collect(t, hashline.StreamHashlines(chunkSeq(), 1, 0, 0))
	if len(got) != 1 || got[0] != hashline.FormatLine(1, "") {
		t.Errorf("got %q, want exactly one empty formatted line", got)
	}
}

func TestStreamHashlines_LineSplitAcrossChunks(t *testing.T) {
	got := collect(t, hashline.StreamHashlines(chunkSeq("hel", "lo\nwor", "ld"), 1, 0, 0))
	joined := strings.Join(got, "\n")
	want := hashline.FormatLine(1, "hello") + "\n" + hashline.FormatLine(2, "world")
	if joined != want {
		t.Errorf("got %q, want %q", joined, want)
	}
}

func TestStreamHashlines_MatchesFormatHashlines(t *testing.T) {
	content := "one\ntwo\nthree\n"
	got := strings.Join(collect(t, hashline.StreamHashlines(chunkSeq(content), 1, 0, 0)), "\n")
	if want := hashline.FormatHashlines(content, 1); got != want {
		t.Errorf("stream output %q != batch output %q", got, want)
	}
}

func TestStreamHashlines_ByteBound(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := collect(t, hashline.StreamHashlines(chunkSeq(long+"\n"+long+"\n"+long), 1, 0, 120))
	if len(got) < 3 {
		t.Errorf("byte bound not honored: %d chunks", len(got))
	}
	for _, c := range got {
		if strings.Contains(c, "\n") && len(c) > 240 {
			t.Errorf("oversized chunk: %d bytes", len(c))
		}
	}
}

func TestStreamHashlines_StartLine(t *testing.T) {
	got := collect(t, hashline.StreamHashlines(chunkSeq("a"), 5, 0, 0))
	if len(got) != 1 || got[0] != hashline.FormatLine(5, "a") {
		t.Errorf("got %q", got)
	}
}

func TestFormatMismatchMessage(t *testing.T) {
	fileLines := []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9", "l10"}
	msg := hashline.FormatMismatchMessage([]hashline.Mismatch{
		{Line: 2, Expected: "ZZ", Actual: hashline.ComputeTag("l2")},
		{Line: 9, Expected: "PP", Actual: hashline.ComputeTag("l9")},
	}, fileLines)

	if !strings.Contains(msg, ">>> "+hashline.FormatLine(2, "l2")) {
		t.Errorf("line 2 not marked:\n%s", msg)
	}
	if !strings.Contains(msg, ">>> "+hashline.FormatLine(9, "l9")) {
		t.Errorf("line 9 not marked:\n%s", msg)
	}
	if !strings.Contains(msg, "    "+hashline.FormatLine(4, "l4")) {
		t.Errorf("context below first region missing:\n%s", msg)
	}
	if !strings.Contains(msg, "    ...") {
		t.Errorf("region separator missing:\n%s", msg)
	}
	if strings.Contains(msg, "l5\n") || strings.Contains(msg, ":l6") {
		t.Errorf("lines outside both context windows leaked:\n%s", msg)
	}
}

func TestFormatMismatchMessage_Empty(t *testing.T) {
	if msg := hashline.FormatMismatchMessage(nil, []string{"a"}); msg != "" {
		t.Errorf("got %q", msg)
	}
}
