package hashline

import (
	"iter"
	"strings"
)

// Streaming formatter limits. A chunk is flushed once it holds
// DefaultMaxChunkLines formatted lines or DefaultMaxChunkBytes bytes,
// whichever comes first.
const (
	DefaultMaxChunkLines = 200
	DefaultMaxChunkBytes = 64 * 1024
)

// StreamHashlines renders chunked input in hashline display form without
// materializing the whole file. Input chunks may split lines anywhere; at
// most one partial line is buffered across chunk boundaries. Output chunks
// hold complete formatted lines joined by '\n', bounded by maxChunkLines
// and maxChunkBytes (values <= 0 use the defaults).
//
// The text after the final newline is always formatted as the last line, so
// input ending in '\n' yields a terminal empty line and empty input yields
// exactly one empty formatted line. The producer never blocks: this is a
// pull-driven sequence, and returning early from the range body stops it.
func StreamHashlines(chunks iter.Seq[string], startLine, maxChunkLines, maxChunkBytes int) iter.Seq[string] {
	if startLine < 1 {
		startLine = 1
	}
	if maxChunkLines <= 0 {
		maxChunkLines = DefaultMaxChunkLines
	}
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}

	return func(yield func(string) bool) {
		var (
			partial strings.Builder // buffered tail of the last incomplete line
			out     []string
			bytes   int
			lineNo  = startLine
		)

		flush := func() bool {
			if len(out) == 0 {
				return true
			}
			chunk := strings.Join(out, "\n")
			out = out[:0]
			bytes = 0
			return yield(chunk)
		}

		emit := func(line string) bool {
			formatted := FormatLine(lineNo, line)
			lineNo++
			// Flush first when this line would overflow the byte budget.
			if len(out) > 0 && bytes+1+len(formatted) > maxChunkBytes {
				if !flush() {
					return false
				}
			}
			if len(out) > 0 {
				bytes++ // joining newline
			}
			out = append(out, formatted)
			bytes += len(formatted)
			if len(out) >= maxChunkLines || bytes >= maxChunkBytes {
				return flush()
			}
			return true
		}

		for chunk := range chunks {
			for {
				nl := strings.IndexByte(chunk, '\n')
				if nl == -1 {
					partial.WriteString(chunk)
					break
				}
				partial.WriteString(chunk[:nl])
				line := partial.String()
				partial.Reset()
				if !emit(line) {
					return
				}
				chunk = chunk[nl+1:]
			}
		}

		// Whatever follows the last newline is the final line — the empty
		// string when the input ended with '\n' or was empty.
		if !emit(partial.String()) {
			return
		}
		flush()
	}
}
