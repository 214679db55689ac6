package document

import (
	"errors"
	"testing"

	"github.com/codepad/padclient/internal/editorsync"
	"github.com/codepad/padclient/internal/protocol"
)

func rng(sl, sc, el, ec int) protocol.Range {
	return protocol.Range{StartLine: sl, StartColumn: sc, EndLine: el, EndColumn: ec}
}

func edit(r protocol.Range, text string) editorsync.IdentifiedEdit {
	return editorsync.IdentifiedEdit{Range: r, Text: text}
}

func TestExecuteEditsAgainstOriginalText(t *testing.T) {
	b := NewBuffer("hello\nworld\n")
	var events []editorsync.ChangeEvent
	b.OnDidChangeContent(func(ev editorsync.ChangeEvent) { events = append(events, ev) })

	err := b.ExecuteEdits("remote", []editorsync.IdentifiedEdit{
		edit(rng(2, 1, 2, 6), "there"),
		edit(rng(1, 1, 1, 1), ">> "),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := b.Value(); got != ">> hello\nthere\n" {
		t.Fatalf("value = %q", got)
	}
	if b.VersionID() != 2 {
		t.Fatalf("version = %d", b.VersionID())
	}
	if len(events) != 1 || events[0].VersionID != 2 || len(events[0].Changes) != 2 {
		t.Fatalf("events = %+v", events)
	}
}

func TestExecuteEditsRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name  string
		edits []editorsync.IdentifiedEdit
	}{
		{"line past end", []editorsync.IdentifiedEdit{edit(rng(5, 1, 5, 1), "x")}},
		{"column past end", []editorsync.IdentifiedEdit{edit(rng(1, 9, 1, 9), "x")}},
		{"zero line", []editorsync.IdentifiedEdit{edit(rng(0, 1, 1, 1), "x")}},
		{"reversed", []editorsync.IdentifiedEdit{edit(rng(1, 3, 1, 1), "x")}},
		{"overlapping", []editorsync.IdentifiedEdit{edit(rng(1, 1, 1, 3), "x"), edit(rng(1, 2, 1, 4), "y")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer("abc\ndef")
			if err := b.ExecuteEdits("remote", tt.edits); err == nil {
				t.Fatal("expected error")
			}
			if b.Value() != "abc\ndef" || b.VersionID() != 1 {
				t.Fatal("failed edit modified the buffer")
			}
		})
	}
}

func TestColumnsCountUTF16Units(t *testing.T) {
	// "😀" is two UTF-16 units, "é" is one.
	b := NewBuffer("😀é!")
	if err := b.ExecuteEdits("remote", []editorsync.IdentifiedEdit{edit(rng(1, 4, 1, 5), "?")}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if b.Value() != "😀é?" {
		t.Fatalf("value = %q", b.Value())
	}
	if end := b.EndPosition(); end != (protocol.Position{Line: 1, Column: 5}) {
		t.Fatalf("end = %+v", end)
	}
	// Column 2 falls inside the surrogate pair.
	if err := b.ExecuteEdits("remote", []editorsync.IdentifiedEdit{edit(rng(1, 2, 1, 2), "x")}); err == nil {
		t.Fatal("expected error for column inside a surrogate pair")
	}
}

func TestSetValueReportsFullRange(t *testing.T) {
	b := NewBuffer("one\ntwo")
	var got editorsync.ChangeEvent
	b.OnDidChangeContent(func(ev editorsync.ChangeEvent) { got = ev })
	b.SetValue("three")
	if got.Changes[0].Range != rng(1, 1, 2, 4) || got.Changes[0].Text != "three" {
		t.Fatalf("change = %+v", got.Changes[0])
	}
}

func TestDeltaDecorations(t *testing.T) {
	b := NewBuffer("abc")
	ids := b.DeltaDecorations(nil, []editorsync.Decoration{
		{Range: rng(1, 2, 1, 3), ClassName: "cursor-1"},
		{Range: rng(1, 1, 1, 2), ClassName: "cursor-1"},
	})
	if len(ids) != 2 || len(b.Decorations()) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	if b.Decorations()[0].Range.StartColumn != 1 {
		t.Fatal("decorations not ordered by position")
	}
	ids = b.DeltaDecorations(ids, []editorsync.Decoration{{Range: rng(1, 3, 1, 4), ClassName: "cursor-1"}})
	if len(ids) != 1 || len(b.Decorations()) != 1 {
		t.Fatalf("old decorations not replaced: %+v", b.Decorations())
	}
}

func TestSetCursorNotifies(t *testing.T) {
	b := NewBuffer("")
	var got editorsync.CursorEvent
	b.OnDidChangeCursor(func(ev editorsync.CursorEvent) { got = ev })
	b.SetCursor(protocol.Position{Line: 1, Column: 1}, protocol.Position{Line: 1, Column: 1})
	if len(got.Secondary) != 1 || b.Cursor() != (protocol.Position{Line: 1, Column: 1}) {
		t.Fatalf("cursor event = %+v", got)
	}
}

type recordingSender struct{ frames []protocol.Content }

func (s *recordingSender) Send(_ protocol.Tag, c protocol.Content) error {
	s.frames = append(s.frames, c)
	return nil
}

func TestBufferWithControllerSuppressesEcho(t *testing.T) {
	b := NewBuffer("")
	snd := &recordingSender{}
	ctrl := editorsync.New(b, snd)
	b.OnDidChangeContent(func(ev editorsync.ChangeEvent) { ctrl.OnLocalEditorChanged(ev) })

	if err := ctrl.OnInboundEditorMessage(protocol.FullText{Text: "fn main() {}\n"}); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.OnInboundEditorMessage(protocol.Changed{Version: 4, Changes: []protocol.TextChange{
		{Range: rng(1, 4, 1, 8), Text: "start"},
	}}); err != nil {
		t.Fatal(err)
	}
	if b.Value() != "fn start() {}\n" {
		t.Fatalf("value = %q", b.Value())
	}
	if len(snd.frames) != 0 {
		t.Fatalf("remote content echoed: %+v", snd.frames)
	}

	if err := b.Replace(rng(2, 1, 2, 1), "// done"); err != nil {
		t.Fatal(err)
	}
	if len(snd.frames) != 1 {
		t.Fatalf("local edit not sent: %+v", snd.frames)
	}
	changed := snd.frames[0].(protocol.Changed)
	if changed.Version != b.VersionID() || changed.Changes[0].Text != "// done" {
		t.Fatalf("changed = %+v", changed)
	}

	var aerr *editorsync.ApplyError
	err := ctrl.OnInboundEditorMessage(protocol.Changed{Version: 5, Changes: []protocol.TextChange{{Range: rng(9, 1, 9, 1), Text: "x"}}})
	if err == nil {
		t.Fatal("expected apply error")
	}
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ApplyError, got %T", err)
	}
}
