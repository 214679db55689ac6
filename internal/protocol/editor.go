package protocol

import (
	"encoding/json"
)

// Position is a 1-based line/column location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a 1-based, end-exclusive text range.
type Range struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// TextChange replaces Range with Text.
type TextChange struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// EditorMessage is one of FullText, Changed or Cursor.
type EditorMessage interface {
	Content
	editorMessage()
}

// FullText replaces the whole document.
type FullText struct {
	Text string
}

// Changed is an ordered batch of edits produced by one local document version.
// Versions are only monotonic within the document that produced them.
type Changed struct {
	Version int64        `json:"version"`
	Changes []TextChange `json:"changes"`
}

// Cursor carries a peer's primary and secondary cursor positions.
type Cursor struct {
	PeerID             uint32     `json:"peer_id"`
	Position           *Position  `json:"position,omitempty"`
	SecondaryPositions []Position `json:"secondary_positions"`
}

// Positions returns the primary position (when set) followed by the
// secondary positions.
func (c Cursor) Positions() []Position {
	out := make([]Position, 0, len(c.SecondaryPositions)+1)
	if c.Position != nil {
		out = append(out, *c.Position)
	}
	return append(out, c.SecondaryPositions...)
}

func (FullText) Tag() Tag { return TagEditor }
func (Changed) Tag() Tag  { return TagEditor }
func (Cursor) Tag() Tag   { return TagEditor }

func (FullText) editorMessage() {}
func (Changed) editorMessage()  {}
func (Cursor) editorMessage()   {}

func (m FullText) wire() any {
	return struct {
		Text string `json:"text"`
	}{m.Text}
}

func (m Changed) wire() any {
	if m.Changes == nil {
		m.Changes = []TextChange{}
	}
	return struct {
		Changed Changed `json:"changed"`
	}{m}
}

func (m Cursor) wire() any {
	if m.SecondaryPositions == nil {
		m.SecondaryPositions = []Position{}
	}
	return struct {
		Cursor Cursor `json:"cursor"`
	}{m}
}

type editorKeys struct {
	Text    *string  `json:"text"`
	Changed *Changed `json:"changed"`
	Cursor  *Cursor  `json:"cursor"`
}

// DecodeEditor decodes editor content. When several variants are present the
// first of text, changed, cursor wins.
func DecodeEditor(raw json.RawMessage) (EditorMessage, error) {
	var p editorKeys
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ProtocolError{Op: "decode editor", Err: err}
	}
	switch {
	case p.Text != nil:
		return FullText{Text: *p.Text}, nil
	case p.Changed != nil:
		return *p.Changed, nil
	case p.Cursor != nil:
		return *p.Cursor, nil
	}
	return nil, &ProtocolError{Op: "decode editor", Detail: "no text, changed or cursor field"}
}
