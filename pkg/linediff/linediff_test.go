package linediff_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hashline-dev/agent/pkg/linediff"
)

func TestGenerateDiff_NoChanges(t *testing.T) {
	if got := linediff.GenerateDiff("a\nb", "a\nb", 4); got != linediff.NoChanges {
		t.Errorf("got %q, want %q", got, linediff.NoChanges)
	}
}

func TestGenerateDiff_SingleReplace(t *testing.T) {
	got := linediff.GenerateDiff("a\nb\nc", "a\nB\nc", 4)

	if n := strings.Count(got, "-2\tb"); n != 1 {
		t.Errorf("want exactly one removal line, got %d in:\n%s", n, got)
	}
	if n := strings.Count(got, "+2\tB"); n != 1 {
		t.Errorf("want exactly one addition line, got %d in:\n%s", n, got)
	}
	if !strings.Contains(got, " 1\ta") || !strings.Contains(got, " 3\tc") {
		t.Errorf("context lines missing:\n%s", got)
	}
}

func TestGenerateDiff_Hunking(t *testing.T) {
	var oldLines, newLines []string
	for i := 1; i <= 20; i++ {
		oldLines = append(oldLines, fmt.Sprintf("line %d", i))
		newLines = append(newLines, fmt.Sprintf("line %d", i))
	}
	newLines[2] = "changed 3"
	newLines[16] = "changed 17"

	got := linediff.GenerateDiff(strings.Join(oldLines, "\n"), strings.Join(newLines, "\n"), 2)

	hunks := strings.Split(got, "\n...\n")
	if len(hunks) != 2 {
		t.Fatalf("want 2 hunks, got %d:\n%s", len(hunks), got)
	}
	// First hunk covers source lines 1-5, second 15-19.
	if !strings.Contains(hunks[0], " 1\tline 1") || !strings.Contains(hunks[0], " 5\tline 5") {
		t.Errorf("first hunk bounds wrong:\n%s", hunks[0])
	}
	if strings.Contains(hunks[0], "line 6") {
		t.Errorf("first hunk leaks beyond context:\n%s", hunks[0])
	}
	if !strings.Contains(hunks[1], " 15\tline 15") || !strings.Contains(hunks[1], " 19\tline 19") {
		t.Errorf("second hunk bounds wrong:\n%s", hunks[1])
	}
	if !strings.Contains(hunks[0], "-3\tline 3") || !strings.Contains(hunks[0], "+3\tchanged 3") {
		t.Errorf("first change not rendered:\n%s", hunks[0])
	}
	if !strings.Contains(hunks[1], "-17\tline 17") || !strings.Contains(hunks[1], "+17\tchanged 17") {
		t.Errorf("second change not rendered:\n%s", hunks[1])
	}
}

func TestGenerateDiff_AdditionOnly(t *testing.T) {
	got := linediff.GenerateDiff("a\nc", "a\nb\nc", 4)
	if !strings.Contains(got, "+2\tb") {
		t.Errorf("missing addition:\n%s", got)
	}
	if strings.Contains(got, "-") {
		t.Errorf("unexpected removal:\n%s", got)
	}
}

func TestComputeLineChanges_MarksExactPositions(t *testing.T) {
	oldText := "a\nb\nc\nd\ne"
	newText := "a\nB\nc\nD\ne"

	var dels, adds []int
	for _, op := range linediff.ComputeLineChanges(oldText, newText) {
		switch op.Kind {
		case "del":
			dels = append(dels, op.Line)
		case "add":
			adds = append(adds, op.Line)
		}
	}
	want := []int{2, 4}
	if fmt.Sprint(dels) != fmt.Sprint(want) || fmt.Sprint(adds) != fmt.Sprint(want) {
		t.Errorf("dels=%v adds=%v, want both %v", dels, adds, want)
	}
}

func TestFirstChangedLine(t *testing.T) {
	tests := []struct {
		name     string
		oldText  string
		newText  string
		wantLine int
		wantOK   bool
	}{
		{"identical", "a\nb", "a\nb", 0, false},
		{"middle", "a\nb\nc", "a\nX\nc", 2, true},
		{"appended", "a\nb", "a\nb\nc", 3, true},
		{"truncated", "a\nb\nc", "a\nb", 3, true},
		{"first", "a", "b", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := linediff.FirstChangedLine(tt.oldText, tt.newText)
			if line != tt.wantLine || ok != tt.wantOK {
				t.Errorf("FirstChangedLine(%q, %q) = (%d, %v), want (%d, %v)",
					tt.oldText, tt.newText, line, ok, tt.wantLine, tt.wantOK)
			}
		})
	}
}
