package document

import (
	"unicode/utf8"

	"github.com/codepad/padclient/internal/protocol"
)

// Diff describes how to turn from into to with a single replacement: the
// range of from that differs and the text that replaces it. It returns false
// when the texts are equal.
func Diff(from, to string) (protocol.TextChange, bool) {
	if from == to {
		return protocol.TextChange{}, false
	}

	prefix := 0
	for prefix < len(from) && prefix < len(to) && from[prefix] == to[prefix] {
		prefix++
	}
	for prefix > 0 && prefix < len(from) && !utf8.RuneStart(from[prefix]) {
		prefix--
	}

	suffix := 0
	for suffix < len(from)-prefix && suffix < len(to)-prefix &&
		from[len(from)-1-suffix] == to[len(to)-1-suffix] {
		suffix++
	}
	for suffix > 0 && !utf8.RuneStart(from[len(from)-suffix]) {
		suffix--
	}

	start := positionAt(from, prefix)
	end := positionAt(from, len(from)-suffix)
	return protocol.TextChange{
		Range: protocol.Range{
			StartLine:   start.Line,
			StartColumn: start.Column,
			EndLine:     end.Line,
			EndColumn:   end.Column,
		},
		Text: to[prefix : len(to)-suffix],
	}, true
}
