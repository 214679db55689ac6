// Package terminal connects a terminal emulator to the pad's terminal
// sub-channel.
//
// Terminals speak JSON tuples: they send ["stdin", data] and
// ["set_size", rows, cols] and receive ["stdout", text]. The Bridge converts
// between those tuples and terminal envelope content.
package terminal

import (
	"encoding/json"
	"fmt"

	"github.com/codepad/padclient/internal/protocol"
	"github.com/codepad/padclient/internal/ws"
)

const (
	kindStdin   = "stdin"
	kindSetSize = "set_size"
	kindStdout  = "stdout"
)

// Channel is the part of *ws.Channel the bridge uses.
type Channel interface {
	AddEventListener(typ ws.EventType, fn ws.Listener, opts ...ws.ListenOption) *ws.Subscription
	RemoveEventListener(sub *ws.Subscription)
	Send(tag protocol.Tag, content protocol.Content) error
}

// Socket is what a terminal attaches to. Message events carry a tuple
// string in Event.Data.
type Socket interface {
	AddEventListener(typ ws.EventType, fn ws.Listener) *ws.Subscription
	RemoveEventListener(sub *ws.Subscription)
	Send(data string) error
}

type Bridge struct {
	ch Channel
}

var _ Socket = (*Bridge)(nil)

func NewBridge(ch Channel) *Bridge {
	return &Bridge{ch: ch}
}

// AddEventListener registers fn on the channel. Message listeners only see
// terminal frames, already converted to tuples.
func (b *Bridge) AddEventListener(typ ws.EventType, fn ws.Listener) *ws.Subscription {
	return b.ch.AddEventListener(typ, fn,
		ws.WithSubChannel(protocol.SubChannelTerminal),
		ws.WithConverter(func(c protocol.Content) (any, error) { return ToTuple(c), nil }),
	)
}

func (b *Bridge) RemoveEventListener(sub *ws.Subscription) {
	b.ch.RemoveEventListener(sub)
}

// Send converts a terminal tuple and writes it on the terminal sub-channel.
func (b *Bridge) Send(data string) error {
	msg, err := FromTuple(data)
	if err != nil {
		return err
	}
	return b.ch.Send(protocol.TagTerminal, msg)
}

// FromTuple parses a tuple sent by a terminal.
func FromTuple(data string) (protocol.TerminalMessage, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal([]byte(data), &tuple); err != nil || len(tuple) == 0 {
		return nil, unsupported(data)
	}
	var kind string
	if err := json.Unmarshal(tuple[0], &kind); err != nil {
		return nil, unsupported(data)
	}

	switch kind {
	case kindStdin:
		var input string
		if len(tuple) < 2 || json.Unmarshal(tuple[1], &input) != nil {
			return nil, unsupported(data)
		}
		return protocol.Stdin{Data: input}, nil
	case kindSetSize:
		var rows, cols uint16
		if len(tuple) < 3 || json.Unmarshal(tuple[1], &rows) != nil || json.Unmarshal(tuple[2], &cols) != nil {
			return nil, unsupported(data)
		}
		return protocol.SetSize{Rows: rows, Cols: cols}, nil
	}
	return nil, unsupported(data)
}

func unsupported(data string) error {
	return &protocol.ProtocolError{Op: "terminal", Detail: fmt.Sprintf("unsupported terminal tuple: %s", data)}
}

// ToTuple renders inbound terminal content for a terminal. Both stdout and
// stderr are delivered as ["stdout", text]; anything else becomes
// ["stdout", ""].
func ToTuple(c protocol.Content) string {
	text := ""
	switch m := c.(type) {
	case protocol.Stdout:
		text = m.Text
	case protocol.Stderr:
		text = m.Text
	}
	out, _ := json.Marshal([]string{kindStdout, text})
	return string(out)
}

func stdinTuple(data string) string {
	out, _ := json.Marshal([]string{kindStdin, data})
	return string(out)
}

func setSizeTuple(rows, cols uint16) string {
	out, _ := json.Marshal([]any{kindSetSize, rows, cols})
	return string(out)
}

// parseOutput extracts the text of a ["stdout", text] tuple.
func parseOutput(data string) (string, bool) {
	var tuple []string
	if err := json.Unmarshal([]byte(data), &tuple); err != nil || len(tuple) < 2 || tuple[0] != kindStdout {
		return "", false
	}
	return tuple[1], true
}
