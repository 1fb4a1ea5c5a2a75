package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/hashline"
	"github.com/hashline-dev/agent/pkg/linediff"
	"github.com/hashline-dev/agent/pkg/tools"
)

// HashlineEditTool applies batches of line-addressed edits. Every edit
// references lines as "N#TT" — the number and tag shown by the read tool —
// so a stale snapshot is caught before anything is written. The whole batch
// validates or nothing applies.
type HashlineEditTool struct {
	cwd string
}

func NewHashlineEditTool(cwd string) *HashlineEditTool { return &HashlineEditTool{cwd: cwd} }

func (t *HashlineEditTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name: "hashline_edit",
		Description: "Apply line edits to a file using the N#TT line references shown by the read tool. " +
			"Operations: set (replace one line), replace (line range), append (after a line, or end of file), " +
			"prepend (before a line, or start of file), insert (between two lines), replace_text (substring fallback). " +
			"All references are validated against the current file before anything is applied; " +
			"if the file changed since it was read, the current references are returned so the edit can be retried.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "Path to the file to edit (relative or absolute)"},
				"edits": {
					Type: "array",
					Description: `Edit operations. Each is an object with "op" and op-specific fields:
{"op":"set","line":"12#QX","content":"new line"}
{"op":"replace","first":"3#ZP","last":"5#KT","content":"line a\nline b"}
{"op":"append","after":"7#MV","content":"added"}            (omit "after" for end of file)
{"op":"prepend","before":"1#WS","content":"added"}          (omit "before" for start of file)
{"op":"insert","after":"3#ZP","before":"9#NB","content":"added"}
{"op":"replace_text","old_text":"foo","new_text":"bar","all":false}`,
					Items: &tools.Property{Type: "object"},
				},
			},
			Required: []string{"path", "edits"},
		}),
	}
}

// HashlineEditDetails is included in the tool result for UI / logging.
type HashlineEditDetails struct {
	Diff             string `json:"diff"`
	FirstChangedLine int    `json:"first_changed_line,omitempty"`
	Noops            []int  `json:"noop_edits,omitempty"`
	Deduplicated     []int  `json:"deduplicated_edits,omitempty"`
}

func (t *HashlineEditTool) Execute(ctx context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	pathParam, _ := params["path"].(string)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}
	rawEdits, ok := params["edits"].([]any)
	if !ok || len(rawEdits) == 0 {
		return tools.ErrorResult(fmt.Errorf("edits must be a non-empty array")), nil
	}

	edits := make([]hashline.Edit, 0, len(rawEdits))
	for i, raw := range rawEdits {
		m, ok := raw.(map[string]any)
		if !ok {
			return tools.ErrorResult(fmt.Errorf("edit %d: not an object", i)), nil
		}
		e, err := parseEdit(m)
		if err != nil {
			return tools.ErrorResult(fmt.Errorf("edit %d: %w", i, err)), nil
		}
		edits = append(edits, e)
	}

	absPath := resolvePath(pathParam, t.cwd)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}
	if err := ctx.Err(); err != nil {
		return tools.ErrorResult(fmt.Errorf("edit aborted: %w", err)), nil
	}

	bom, rawText := stripBOM(string(raw))
	originalEnding := detectLineEnding(rawText)
	content := normalizeToLF(rawText)

	res, err := hashline.ApplyEdits(content, edits, hashline.Options{Autocorrect: true})
	if err != nil {
		var mm *hashline.MismatchError
		if errors.As(err, &mm) {
			msg := hashline.FormatMismatchMessage(mm.Mismatches, strings.Split(content, "\n"))
			return tools.ErrorResult(fmt.Errorf("%s\n\n%s", mm.Error(), msg)), nil
		}
		return tools.ErrorResult(err), nil
	}

	if res.Content == content {
		noopMsg := fmt.Sprintf("No changes made to %s: all %d edit(s) matched the current content.", pathParam, len(edits))
		return tools.Result{
			Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: noopMsg}},
			Details: HashlineEditDetails{Diff: linediff.NoChanges, Noops: res.Noops},
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return tools.ErrorResult(fmt.Errorf("edit aborted: %w", err)), nil
	}

	final := bom + restoreLineEndings(res.Content, originalEnding)
	if err := os.WriteFile(absPath, []byte(final), 0o644); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot write %s: %w", pathParam, err)), nil
	}

	diff := linediff.GenerateDiff(content, res.Content, linediff.DefaultContextLines)
	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d edit(s) to %s.", len(edits)-len(res.Noops)-len(res.Deduplicated), pathParam)
	if len(res.Noops) > 0 {
		fmt.Fprintf(&b, " %d no-op edit(s) skipped.", len(res.Noops))
	}
	if len(res.Deduplicated) > 0 {
		fmt.Fprintf(&b, " %d duplicate edit(s) dropped.", len(res.Deduplicated))
	}
	b.WriteString("\n\n")
	b.WriteString(diff)

	return tools.Result{
		Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: b.String()}},
		Details: HashlineEditDetails{
			Diff:             diff,
			FirstChangedLine: res.FirstChangedLine,
			Noops:            res.Noops,
			Deduplicated:     res.Deduplicated,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Parameter parsing
// ---------------------------------------------------------------------------

func parseEdit(m map[string]any) (hashline.Edit, error) {
	op, _ := m["op"].(string)
	content := contentLines(m)

	switch op {
	case "set":
		ref, err := requiredRef(m, "line")
		if err != nil {
			return hashline.Edit{}, err
		}
		return hashline.Edit{Op: hashline.OpSet, Target: ref, Content: content}, nil

	case "replace":
		first, err := requiredRef(m, "first")
		if err != nil {
			return hashline.Edit{}, err
		}
		last, err := requiredRef(m, "last")
		if err != nil {
			return hashline.Edit{}, err
		}
		return hashline.Edit{Op: hashline.OpReplace, First: first, Last: last, Content: content}, nil

	case "append":
		after, err := optionalRef(m, "after")
		if err != nil {
			return hashline.Edit{}, err
		}
		return hashline.Edit{Op: hashline.OpAppend, After: after, Content: content}, nil

	case "prepend":
		before, err := optionalRef(m, "before")
		if err != nil {
			return hashline.Edit{}, err
		}
		return hashline.Edit{Op: hashline.OpPrepend, Before: before, Content: content}, nil

	case "insert":
		after, err := requiredRef(m, "after")
		if err != nil {
			return hashline.Edit{}, err
		}
		before, err := requiredRef(m, "before")
		if err != nil {
			return hashline.Edit{}, err
		}
		return hashline.Edit{Op: hashline.OpInsert, After: &after, Before: &before, Content: content}, nil

	case "replace_text":
		oldText, _ := m["old_text"].(string)
		newText, _ := m["new_text"].(string)
		all, _ := m["all"].(bool)
		return hashline.Edit{Op: hashline.OpReplaceText, OldText: normalizeToLF(oldText), NewText: normalizeToLF(newText), All: all}, nil

	default:
		return hashline.Edit{}, fmt.Errorf("unknown op %q", op)
	}
}

// contentLines splits the "content" parameter into replacement lines.
// An absent key means no content; an empty string means one empty line.
func contentLines(m map[string]any) []string {
	v, ok := m["content"]
	if !ok {
		return nil
	}
	s, _ := v.(string)
	return strings.Split(normalizeToLF(s), "\n")
}

func requiredRef(m map[string]any, key string) (hashline.Ref, error) {
	s, _ := m[key].(string)
	if s == "" {
		return hashline.Ref{}, fmt.Errorf("%q is required", key)
	}
	return hashline.ParseRef(s)
}

func optionalRef(m map[string]any, key string) (*hashline.Ref, error) {
	s, _ := m[key].(string)
	if s == "" {
		return nil, nil
	}
	ref, err := hashline.ParseRef(s)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
