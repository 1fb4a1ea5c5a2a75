package hashline_test

import (
	"strings"
	"testing"

	"github.com/hashline-dev/agent/pkg/hashline"
)

func TestComputeTag_Shape(t *testing.T) {
	for _, line := range []string{"", "hello", "  hello  ", "func main() {", "日本語"} {
		tag := hashline.ComputeTag(line)
		if len(tag) != 2 {
			t.Fatalf("tag %q for %q: want 2 characters", tag, line)
		}
		for i := 0; i < 2; i++ {
			if !strings.ContainsRune(hashline.TagAlphabet, rune(tag[i])) {
				t.Errorf("tag %q for %q uses a character outside the alphabet", tag, line)
			}
		}
	}
}

func TestComputeTag_WhitespaceInsensitive(t *testing.T) {
	pairs := [][2]string{
		{"foo bar", "foobar"},
		{"\tfoo bar  ", "foo\tbar"},
		{"a b c", "abc"},
		{"line\r", "line"},
	}
	for _, p := range pairs {
		if hashline.ComputeTag(p[0]) != hashline.ComputeTag(p[1]) {
			t.Errorf("tags differ for %q and %q", p[0], p[1])
		}
	}
}

func TestComputeTag_ContentSensitive(t *testing.T) {
	seen := map[string]bool{}
	for _, line := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"} {
		seen[hashline.ComputeTag(line)] = true
	}
	if len(seen) < 2 {
		t.Errorf("tags show no content sensitivity: %v", seen)
	}
}

func TestFormatLine(t *testing.T) {
	got := hashline.FormatLine(7, "hello")
	want := "7#" + hashline.ComputeTag("hello") + ":hello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatHashlines(t *testing.T) {
	got := hashline.FormatHashlines("a\nb", 1)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "1#") || !strings.HasSuffix(lines[0], ":a") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2#") || !strings.HasSuffix(lines[1], ":b") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestFormatHashlines_TrailingNewlineAndStart(t *testing.T) {
	got := hashline.FormatHashlines("a\n", 10)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "10#") {
		t.Errorf("start line not honored: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ":") {
		t.Errorf("trailing empty line missing: %q", lines[1])
	}
}

func TestParseRef_RoundTrip(t *testing.T) {
	for _, line := range []string{"", "x", "func foo() {", "  indented"} {
		for _, n := range []int{1, 42, 999} {
			formatted := hashline.FormatLine(n, line)
			refPart := formatted[:strings.IndexByte(formatted, ':')]
			ref, err := hashline.ParseRef(refPart)
			if err != nil {
				t.Fatalf("ParseRef(%q): %v", refPart, err)
			}
			if ref.Line != n || ref.Tag != hashline.ComputeTag(line) {
				t.Errorf("ParseRef(%q) = %+v", refPart, ref)
			}
		}
	}
}

func TestParseRef_Permissive(t *testing.T) {
	tag := hashline.ComputeTag("x")
	for _, in := range []string{
		"3#" + tag,
		"  3#" + tag + "  ",
		">3#" + tag,
		"+ 3#" + tag,
		"- 3#" + tag,
	} {
		ref, err := hashline.ParseRef(in)
		if err != nil {
			t.Errorf("ParseRef(%q): %v", in, err)
			continue
		}
		if ref.Line != 3 || ref.Tag != tag {
			t.Errorf("ParseRef(%q) = %+v", in, ref)
		}
	}
}

func TestParseRef_Rejects(t *testing.T) {
	for _, in := range []string{
		"", "#ZP", "3#", "3#Z", "3#ZPX", "3#ab", "x#ZP", "3-ZP", "0#ZP",
	} {
		if _, err := hashline.ParseRef(in); err == nil {
			t.Errorf("ParseRef(%q): want error", in)
		}
	}
}
