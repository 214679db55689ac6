package document

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/codepad/padclient/internal/protocol"
)

// Columns count UTF-16 code units, as in the browser editor the pad was
// built around, so ranges from other clients line up on non-ASCII text.

// offsetAt converts a 1-based line/column position into a byte offset of text.
func offsetAt(text string, line, column int) (int, error) {
	if line < 1 || column < 1 {
		return 0, fmt.Errorf("position %d:%d out of range", line, column)
	}
	start := 0
	for l := 1; l < line; l++ {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			return 0, fmt.Errorf("line %d out of range", line)
		}
		start += nl + 1
	}
	end := strings.IndexByte(text[start:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += start
	}

	units := 0
	off := start
	for off < end && units < column-1 {
		r, size := utf8.DecodeRuneInString(text[off:end])
		units += runeUnits(r)
		off += size
	}
	if units != column-1 {
		return 0, fmt.Errorf("column %d out of range on line %d", column, line)
	}
	return off, nil
}

// positionAt converts a byte offset of text into a 1-based position.
func positionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	line := 1 + strings.Count(text[:offset], "\n")
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	col := 1
	for _, r := range text[lineStart:offset] {
		col += runeUnits(r)
	}
	return protocol.Position{Line: line, Column: col}
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// fullRange spans all of text.
func fullRange(text string) protocol.Range {
	end := positionAt(text, len(text))
	return protocol.Range{StartLine: 1, StartColumn: 1, EndLine: end.Line, EndColumn: end.Column}
}
