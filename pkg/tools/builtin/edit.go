package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/fuzzy"
	"github.com/hashline-dev/agent/pkg/linediff"
	"github.com/hashline-dev/agent/pkg/tools"
)

// EditTool performs surgical find-and-replace on files. The old text is
// located with the fuzzy locator (exact first, progressive tolerance after),
// must resolve to exactly one region, and the result comes back as a
// contextual diff. BOM and CRLF style are preserved across the write.
type EditTool struct {
	cwd string
}

func NewEditTool(cwd string) *EditTool { return &EditTool{cwd: cwd} }

func (t *EditTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "edit",
		Description: "Edit a file by replacing exact text. The oldText must match exactly (including whitespace); close-but-inexact matches are recovered when unambiguous. Use this for precise, surgical edits.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "Path to the file to edit (relative or absolute)"},
				"oldText": {Type: "string", Description: "Exact text to find and replace (must match exactly)"},
				"newText": {Type: "string", Description: "New text to replace the old text with"},
			},
			Required: []string{"path", "oldText", "newText"},
		}),
	}
}

// EditDetails is included in the tool result for UI / logging.
type EditDetails struct {
	Diff             string  `json:"diff"`
	FirstChangedLine int     `json:"first_changed_line,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}

func (t *EditTool) Execute(ctx context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	pathParam, _ := params["path"].(string)
	oldText, _ := params["oldText"].(string)
	newText, _ := params["newText"].(string)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}
	if oldText == "" {
		return tools.ErrorResult(fmt.Errorf("oldText is required")), nil
	}

	absPath := resolvePath(pathParam, t.cwd)

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}
	if err := ctx.Err(); err != nil {
		return tools.ErrorResult(fmt.Errorf("edit aborted: %w", err)), nil
	}

	// Strip BOM, detect + normalise line endings.
	bom, rawText := stripBOM(string(raw))
	originalEnding := detectLineEnding(rawText)
	content := normalizeToLF(rawText)
	normOld := normalizeToLF(oldText)
	normNew := normalizeToLF(newText)

	res := fuzzy.FindMatch(content, normOld, fuzzy.Options{AllowFuzzy: true})
	switch res.Kind {
	case fuzzy.KindUnique, fuzzy.KindDominant:
		// proceed
	case fuzzy.KindMultiple:
		return tools.ErrorResult(fmt.Errorf(
			"found %d occurrences of the text in %s at lines %s. The text must be unique; include more surrounding context.\n\n%s",
			res.Count, pathParam, joinInts(res.Lines), strings.Join(res.Previews, "\n---\n"),
		)), nil
	case fuzzy.KindClosest:
		return tools.ErrorResult(fmt.Errorf(
			"could not confidently find the text in %s (best candidate at line %d, confidence %.2f, %d candidates above the bar). The oldText must match exactly including whitespace and newlines.",
			pathParam, res.Match.StartLine, res.Match.Confidence, res.Count,
		)), nil
	default:
		return tools.ErrorResult(fmt.Errorf(
			"could not find the text in %s. The oldText must match exactly including all whitespace and newlines.",
			pathParam,
		)), nil
	}
	if err := ctx.Err(); err != nil {
		return tools.ErrorResult(fmt.Errorf("edit aborted: %w", err)), nil
	}

	m := res.Match
	newContent := content[:m.StartByte] + normNew + content[m.StartByte+len(m.ActualText):]
	if newContent == content {
		return tools.ErrorResult(fmt.Errorf(
			"no changes made to %s. The replacement produced identical content.",
			pathParam,
		)), nil
	}

	// Restore line endings and BOM, then write.
	final := bom + restoreLineEndings(newContent, originalEnding)
	if err := os.WriteFile(absPath, []byte(final), 0o644); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot write %s: %w", pathParam, err)), nil
	}

	diff := linediff.GenerateDiff(content, newContent, linediff.DefaultContextLines)
	firstLine, _ := linediff.FirstChangedLine(content, newContent)

	return tools.Result{
		Content: []ai.ContentBlock{
			ai.TextContent{Type: "text", Text: fmt.Sprintf("Successfully replaced text in %s.\n\n%s", pathParam, diff)},
		},
		Details: EditDetails{Diff: diff, FirstChangedLine: firstLine, Confidence: m.Confidence},
	}, nil
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
