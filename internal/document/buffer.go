// Package document is an in-memory text model with the same coordinates and
// edit semantics as the pad's browser editor. It stands in for that editor
// when a pad is driven from a terminal.
package document

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codepad/padclient/internal/editorsync"
	"github.com/codepad/padclient/internal/protocol"
)

// LocalSource tags edits made on this machine.
const LocalSource = "local"

// Buffer implements editorsync.Editor. Listeners run synchronously on the
// goroutine that made the change, after the buffer lock is released.
type Buffer struct {
	mu          sync.Mutex
	text        string
	version     int64
	language    string
	cursor      protocol.Position
	decorations map[string]editorsync.Decoration
	nextDecoID  int

	listenMu sync.Mutex
	onChange []func(editorsync.ChangeEvent)
	onCursor []func(editorsync.CursorEvent)
}

var _ editorsync.Editor = (*Buffer)(nil)

func NewBuffer(text string) *Buffer {
	return &Buffer{
		text:        text,
		version:     1,
		cursor:      protocol.Position{Line: 1, Column: 1},
		decorations: make(map[string]editorsync.Decoration),
	}
}

func (b *Buffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// VersionID increases by one with every change.
func (b *Buffer) VersionID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

func (b *Buffer) Language() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.language
}

func (b *Buffer) SetLanguage(editorLanguage string) {
	b.mu.Lock()
	b.language = editorLanguage
	b.mu.Unlock()
}

// OnDidChangeContent registers fn for content changes.
func (b *Buffer) OnDidChangeContent(fn func(editorsync.ChangeEvent)) {
	b.listenMu.Lock()
	b.onChange = append(b.onChange, fn)
	b.listenMu.Unlock()
}

// OnDidChangeCursor registers fn for cursor moves.
func (b *Buffer) OnDidChangeCursor(fn func(editorsync.CursorEvent)) {
	b.listenMu.Lock()
	b.onCursor = append(b.onCursor, fn)
	b.listenMu.Unlock()
}

// SetValue replaces the whole text. Listeners see one change spanning the
// previous content.
func (b *Buffer) SetValue(text string) {
	b.mu.Lock()
	old := b.text
	b.text = text
	b.version++
	ev := editorsync.ChangeEvent{
		VersionID: b.version,
		Changes:   []protocol.TextChange{{Range: fullRange(old), Text: text}},
	}
	b.mu.Unlock()
	b.emitChange(ev)
}

// ExecuteEdits applies edits whose ranges all refer to the text before the
// call. Ranges must lie inside the document and must not overlap; nothing is
// applied otherwise.
func (b *Buffer) ExecuteEdits(source string, edits []editorsync.IdentifiedEdit) error {
	if len(edits) == 0 {
		return nil
	}

	type span struct {
		start, end int
		text       string
	}

	b.mu.Lock()
	spans := make([]span, 0, len(edits))
	for _, e := range edits {
		start, err := offsetAt(b.text, e.Range.StartLine, e.Range.StartColumn)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("document: edit %d.%d start: %w", e.Identifier.Major, e.Identifier.Minor, err)
		}
		end, err := offsetAt(b.text, e.Range.EndLine, e.Range.EndColumn)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("document: edit %d.%d end: %w", e.Identifier.Major, e.Identifier.Minor, err)
		}
		if end < start {
			b.mu.Unlock()
			return fmt.Errorf("document: edit %d.%d has reversed range", e.Identifier.Major, e.Identifier.Minor)
		}
		spans = append(spans, span{start, end, e.Text})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			b.mu.Unlock()
			return fmt.Errorf("document: overlapping edits")
		}
	}

	var sb strings.Builder
	prev := 0
	for _, s := range spans {
		sb.WriteString(b.text[prev:s.start])
		sb.WriteString(s.text)
		prev = s.end
	}
	sb.WriteString(b.text[prev:])
	b.text = sb.String()
	b.version++

	changes := make([]protocol.TextChange, 0, len(edits))
	for _, e := range edits {
		changes = append(changes, protocol.TextChange{Range: e.Range, Text: e.Text})
	}
	ev := editorsync.ChangeEvent{VersionID: b.version, Changes: changes}
	b.mu.Unlock()

	b.emitChange(ev)
	return nil
}

// Replace applies one local edit.
func (b *Buffer) Replace(r protocol.Range, text string) error {
	b.mu.Lock()
	id := editorsync.EditIdentifier{Major: b.version}
	b.mu.Unlock()
	return b.ExecuteEdits(LocalSource, []editorsync.IdentifiedEdit{{Identifier: id, Range: r, Text: text}})
}

// SetCursor moves the local cursor and notifies cursor listeners.
func (b *Buffer) SetCursor(pos protocol.Position, secondary ...protocol.Position) {
	b.mu.Lock()
	b.cursor = pos
	b.mu.Unlock()

	b.listenMu.Lock()
	listeners := append(([]func(editorsync.CursorEvent))(nil), b.onCursor...)
	b.listenMu.Unlock()
	ev := editorsync.CursorEvent{Position: pos, Secondary: secondary}
	for _, fn := range listeners {
		fn(ev)
	}
}

func (b *Buffer) Cursor() protocol.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// EndPosition is the position just past the last character.
func (b *Buffer) EndPosition() protocol.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return positionAt(b.text, len(b.text))
}

func (b *Buffer) DeltaDecorations(old []string, decorations []editorsync.Decoration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range old {
		delete(b.decorations, id)
	}
	ids := make([]string, 0, len(decorations))
	for _, d := range decorations {
		b.nextDecoID++
		id := fmt.Sprintf("deco-%d", b.nextDecoID)
		b.decorations[id] = d
		ids = append(ids, id)
	}
	return ids
}

// Decorations returns the current decorations ordered by position.
func (b *Buffer) Decorations() []editorsync.Decoration {
	b.mu.Lock()
	out := make([]editorsync.Decoration, 0, len(b.decorations))
	for _, d := range b.decorations {
		out = append(out, d)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Range, out[j].Range
		if a.StartLine != c.StartLine {
			return a.StartLine < c.StartLine
		}
		if a.StartColumn != c.StartColumn {
			return a.StartColumn < c.StartColumn
		}
		return out[i].ClassName < out[j].ClassName
	})
	return out
}

func (b *Buffer) emitChange(ev editorsync.ChangeEvent) {
	b.listenMu.Lock()
	listeners := append(([]func(editorsync.ChangeEvent))(nil), b.onChange...)
	b.listenMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
