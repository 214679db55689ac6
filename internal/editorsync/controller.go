package editorsync

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/metrics"
	"github.com/codepad/padclient/internal/protocol"
	"github.com/codepad/padclient/internal/ws"
)

type guardState int32

const (
	guardIdle guardState = iota
	guardApplying
)

type peerCursor struct {
	positions   []protocol.Position
	decorations []string
}

type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l.With().Str("component", "editorsync").Logger() }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller synchronizes one editor with one session. Instances share no
// state, so several sessions can run side by side.
type Controller struct {
	editor  Editor
	sender  Sender
	log     zerolog.Logger
	metrics *metrics.Collectors

	guard atomic.Int32
	// applyMu serializes remote applies with Local edits made on other
	// goroutines, so a local edit is never mistaken for an echo.
	applyMu sync.Mutex

	mu    sync.Mutex
	peers map[uint32]*peerCursor
}

func New(editor Editor, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		editor: editor,
		sender: sender,
		log:    zerolog.Nop(),
		peers:  make(map[uint32]*peerCursor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Applying reports whether a remote message is being applied right now.
func (c *Controller) Applying() bool {
	return guardState(c.guard.Load()) == guardApplying
}

// enter takes the apply lock and marks the controller as applying; the
// returned func undoes both.
func (c *Controller) enter() func() {
	c.applyMu.Lock()
	c.guard.Store(int32(guardApplying))
	return func() {
		c.guard.Store(int32(guardIdle))
		c.applyMu.Unlock()
	}
}

// Local runs fn, which edits the editor from outside the dispatch
// goroutine, without overlapping a remote apply.
func (c *Controller) Local(fn func()) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	fn()
}

// OnLocalEditorChanged forwards a local content change and re-renders peer
// cursors. Changes made while applying remote content are suppressed.
func (c *Controller) OnLocalEditorChanged(ev ChangeEvent) error {
	if c.Applying() {
		c.metrics.EchoSuppressed()
		return nil
	}
	msg := protocol.Changed{Version: ev.VersionID, Changes: ev.Changes}
	if err := c.sender.Send(protocol.TagEditor, msg); err != nil {
		c.log.Debug().Err(err).Int64("version", ev.VersionID).Msg("local change not sent")
		return err
	}
	c.renderAll()
	return nil
}

// OnLocalCursorChanged forwards the local cursor under SelfPeerID.
func (c *Controller) OnLocalCursorChanged(ev CursorEvent) error {
	if c.Applying() {
		c.metrics.EchoSuppressed()
		return nil
	}
	pos := ev.Position
	msg := protocol.Cursor{
		PeerID:             SelfPeerID,
		Position:           &pos,
		SecondaryPositions: ev.Secondary,
	}
	if err := c.sender.Send(protocol.TagEditor, msg); err != nil {
		c.log.Debug().Err(err).Msg("local cursor not sent")
		return err
	}
	return nil
}

// OnInboundEditorMessage applies a message from the editor sub-channel.
// The guard is held for the whole call and released even if the editor
// panics.
func (c *Controller) OnInboundEditorMessage(msg protocol.EditorMessage) error {
	release := c.enter()
	defer release()

	switch m := msg.(type) {
	case protocol.FullText:
		c.editor.SetValue(m.Text)
		return nil
	case protocol.Changed:
		edits := make([]IdentifiedEdit, 0, len(m.Changes))
		for i, ch := range m.Changes {
			edits = append(edits, IdentifiedEdit{
				Identifier: EditIdentifier{Major: m.Version, Minor: i},
				Range:      ch.Range,
				Text:       ch.Text,
			})
		}
		if err := c.editor.ExecuteEdits(RemoteSource, edits); err != nil {
			return c.applyFailed("changed", err)
		}
		c.renderAll()
		return nil
	case protocol.Cursor:
		c.setPeer(m.PeerID, m.Positions())
		return nil
	default:
		return c.applyFailed("message", fmt.Errorf("unsupported editor message %T", msg))
	}
}

func (c *Controller) applyFailed(kind string, err error) error {
	c.metrics.ApplyError("editor")
	aerr := &ApplyError{Kind: kind, Err: err}
	c.log.Warn().Err(err).Str("kind", kind).Msg("remote editor message rejected")
	return aerr
}

// Peers returns a copy of the known peer cursor positions.
func (c *Controller) Peers() map[uint32][]protocol.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint32][]protocol.Position, len(c.peers))
	for id, p := range c.peers {
		out[id] = append([]protocol.Position(nil), p.positions...)
	}
	return out
}

// setPeer replaces a peer's cursor positions and re-renders only that peer.
func (c *Controller) setPeer(id uint32, positions []protocol.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		p = &peerCursor{}
		c.peers[id] = p
	}
	p.positions = positions
	c.renderLocked(id, p)
}

func (c *Controller) renderAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c.renderLocked(id, c.peers[id])
	}
}

// renderLocked swaps a peer's decorations in one DeltaDecorations call.
// Caller holds c.mu.
func (c *Controller) renderLocked(id uint32, p *peerCursor) {
	p.decorations = c.editor.DeltaDecorations(p.decorations, cursorDecorations(id, p.positions))
}

// Listen routes editor frames from ch to the controller. The returned
// subscription detaches it.
func (c *Controller) Listen(ch *ws.Channel) *ws.Subscription {
	return ch.AddEventListener(ws.EventMessage, func(ev ws.Event) {
		msg, ok := ev.Data.(protocol.EditorMessage)
		if !ok {
			return
		}
		var aerr *ApplyError
		if err := c.OnInboundEditorMessage(msg); err != nil && !errors.As(err, &aerr) {
			c.log.Warn().Err(err).Msg("editor message failed")
		}
	}, ws.WithSubChannel(protocol.SubChannelEditor), ws.WithConverter(asEditorMessage))
}

func asEditorMessage(content protocol.Content) (any, error) {
	msg, ok := content.(protocol.EditorMessage)
	if !ok {
		return nil, &protocol.ProtocolError{Op: "convert", Detail: fmt.Sprintf("%T is not editor content", content)}
	}
	return msg, nil
}
