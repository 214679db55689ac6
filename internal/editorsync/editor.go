// Package editorsync keeps a local editor and the pad's editor sub-channel in
// step: local edits and cursor moves go out, remote text, edits and peer
// cursors come in, and nothing applied from the wire is sent back.
package editorsync

import (
	"fmt"

	"github.com/codepad/padclient/internal/protocol"
)

// RemoteSource is the edit source passed to ExecuteEdits for remote edits.
const RemoteSource = "remote"

// SelfPeerID is the peer id a client uses for its own cursor; the server
// substitutes the real id when relaying.
const SelfPeerID uint32 = 0

// cursorClasses is the number of distinct peer cursor styles.
const cursorClasses = 5

// EditIdentifier ties an applied edit to the version and index it came from.
type EditIdentifier struct {
	Major int64
	Minor int
}

type IdentifiedEdit struct {
	Identifier EditIdentifier
	Range      protocol.Range
	Text       string
}

// Decoration styles a range of the document.
type Decoration struct {
	Range     protocol.Range
	ClassName string
}

// ChangeEvent is emitted by an editor after its content changed.
type ChangeEvent struct {
	VersionID int64
	Changes   []protocol.TextChange
}

// CursorEvent is emitted by an editor after the local cursor moved.
type CursorEvent struct {
	Position  protocol.Position
	Secondary []protocol.Position
}

// Editor is the text component being synchronized. Implementations report
// content and cursor changes synchronously, including those caused by
// SetValue and ExecuteEdits.
type Editor interface {
	SetValue(text string)
	ExecuteEdits(source string, edits []IdentifiedEdit) error
	// DeltaDecorations atomically replaces the decorations named by old with
	// decorations and returns their ids.
	DeltaDecorations(old []string, decorations []Decoration) []string
}

// Sender writes editor content to the session channel.
type Sender interface {
	Send(tag protocol.Tag, content protocol.Content) error
}

// ApplyError reports a remote editor message the local editor rejected.
type ApplyError struct {
	Kind string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("editorsync: apply remote %s: %v", e.Kind, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// CursorClass is the decoration class for a peer's cursor.
func CursorClass(peerID uint32) string {
	return fmt.Sprintf("cursor-%d", peerID%cursorClasses)
}

func cursorDecorations(peerID uint32, positions []protocol.Position) []Decoration {
	class := CursorClass(peerID)
	out := make([]Decoration, 0, len(positions))
	for _, p := range positions {
		out = append(out, Decoration{
			Range: protocol.Range{
				StartLine:   p.Line,
				StartColumn: p.Column,
				EndLine:     p.Line,
				EndColumn:   p.Column + 1,
			},
			ClassName: class,
		})
	}
	return out
}
