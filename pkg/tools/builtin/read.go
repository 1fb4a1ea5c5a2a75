package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/hashline"
	"github.com/hashline-dev/agent/pkg/tools"
)

// imageExtensions maps lowercase file extensions to MIME types.
var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ReadTool reads files. Text renders in hashline form — every line prefixed
// with its "N#TT" reference — so line edits made afterwards carry fresh
// tags. Images are returned as base64 attachments.
type ReadTool struct {
	cwd string
}

func NewReadTool(cwd string) *ReadTool { return &ReadTool{cwd: cwd} }

func (t *ReadTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name: "read",
		Description: fmt.Sprintf(
			"Read the contents of a file. Text lines are shown as N#TT:content where N#TT is the line reference "+
				"used by hashline_edit. Supports images (jpg, png, gif, webp), sent as attachments. "+
				"Output is truncated to %d lines or %s (whichever is hit first). "+
				"Use offset/limit for large files and continue with offset until complete.",
			DefaultMaxLines, FormatSize(DefaultMaxBytes),
		),
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":   {Type: "string", Description: "Path to the file to read (relative or absolute)"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-indexed)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read"},
				"plain":  {Type: "boolean", Description: "Return raw text without N#TT line references (default: false)"},
			},
			Required: []string{"path"},
		}),
	}
}

func (t *ReadTool) Execute(ctx context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	pathParam, _ := params["path"].(string)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}

	absPath := resolvePath(pathParam, t.cwd)

	if mimeType, ok := imageExtensions[strings.ToLower(filepath.Ext(absPath))]; ok {
		return t.readImage(absPath, mimeType, pathParam)
	}
	return t.readText(ctx, absPath, pathParam, params)
}

func (t *ReadTool) readImage(absPath, mimeType, displayPath string) (tools.Result, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", displayPath, err)), nil
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return tools.Result{
		Content: []ai.ContentBlock{
			ai.TextContent{Type: "text", Text: fmt.Sprintf("Read image file [%s]", mimeType)},
			ai.ImageContent{Type: "image", Data: encoded, MIMEType: mimeType},
		},
	}, nil
}

func (t *ReadTool) readText(_ context.Context, absPath, displayPath string, params map[string]any) (tools.Result, error) {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", displayPath, err)), nil
	}

	_, text := stripBOM(string(raw))
	allLines := strings.Split(normalizeToLF(text), "\n")
	totalFileLines := len(allLines)
	plain, _ := params["plain"].(bool)

	offset := intParam(params, "offset", 0)
	limit := intParam(params, "limit", 0)
	hasLimit := limit > 0

	startLine := 0 // 0-indexed
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= totalFileLines {
		return tools.ErrorResult(fmt.Errorf("offset %d is beyond end of file (%d lines total)", offset, totalFileLines)), nil
	}

	selectedLines := allLines[startLine:]
	userLimitedLines := 0
	if hasLimit {
		endLine := min(startLine+limit, totalFileLines)
		selectedLines = allLines[startLine:endLine]
		userLimitedLines = endLine - startLine
	}

	rendered := joinLines(selectedLines)
	if !plain {
		rendered = collectChunks(hashline.StreamHashlines(singleChunk(rendered), startLine+1, 0, 0))
	}

	tr := TruncateHead(rendered, DefaultMaxLines, DefaultMaxBytes)
	startDisplay := startLine + 1

	var outputText string
	switch {
	case tr.FirstLineExceedsLimit:
		firstLineSize := FormatSize(len([]byte(allLines[startLine])))
		outputText = fmt.Sprintf(
			"[Line %d is %s, exceeds %s limit. Use bash: sed -n '%dp' %s | head -c %d]",
			startDisplay, firstLineSize, FormatSize(DefaultMaxBytes), startDisplay, displayPath, DefaultMaxBytes,
		)

	case tr.Truncated:
		endLineDisplay := startDisplay + tr.OutputLines - 1
		nextOffset := endLineDisplay + 1
		outputText = tr.Content
		if tr.TruncatedBy == "lines" {
			outputText += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d. Use offset=%d to continue.]",
				startDisplay, endLineDisplay, totalFileLines, nextOffset,
			)
		} else {
			outputText += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				startDisplay, endLineDisplay, totalFileLines, FormatSize(DefaultMaxBytes), nextOffset,
			)
		}

	case hasLimit && userLimitedLines > 0 && startLine+userLimitedLines < totalFileLines:
		remaining := totalFileLines - (startLine + userLimitedLines)
		nextOffset := startLine + userLimitedLines + 1
		outputText = tr.Content
		outputText += fmt.Sprintf(
			"\n\n[%d more lines in file. Use offset=%d to continue.]",
			remaining, nextOffset,
		)

	default:
		outputText = tr.Content
	}

	return tools.TextResult(outputText), nil
}

// intParam reads an integer tool parameter that may arrive as float64 (JSON)
// or int (tests).
func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func singleChunk(s string) iter.Seq[string] {
	return func(yield func(string) bool) { yield(s) }
}

func collectChunks(seq iter.Seq[string]) string {
	var b strings.Builder
	first := true
	for c := range seq {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(c)
	}
	return b.String()
}
