package protocol

import (
	"encoding/json"
)

// TerminalMessage is one of Stdin, SetSize, Stdout, Stderr or UnknownTerminal.
type TerminalMessage interface {
	Content
	terminalMessage()
}

type Stdin struct {
	Data string
}

type SetSize struct {
	Rows uint16
	Cols uint16
}

type Stdout struct {
	Text string
}

type Stderr struct {
	Text string
}

// UnknownTerminal holds terminal content matching no known variant. It is
// kept rather than rejected so receivers can fall back leniently.
type UnknownTerminal struct {
	Raw json.RawMessage
}

func (Stdin) Tag() Tag           { return TagTerminal }
func (SetSize) Tag() Tag         { return TagTerminal }
func (Stdout) Tag() Tag          { return TagTerminal }
func (Stderr) Tag() Tag          { return TagTerminal }
func (UnknownTerminal) Tag() Tag { return TagTerminal }

func (Stdin) terminalMessage()           {}
func (SetSize) terminalMessage()         {}
func (Stdout) terminalMessage()          {}
func (Stderr) terminalMessage()          {}
func (UnknownTerminal) terminalMessage() {}

func (m Stdin) wire() any {
	return struct {
		Stdin string `json:"stdin"`
	}{m.Data}
}

func (m SetSize) wire() any {
	return struct {
		SetSize [2]uint16 `json:"set_size"`
	}{[2]uint16{m.Rows, m.Cols}}
}

func (m Stdout) wire() any {
	return struct {
		Stdout string `json:"stdout"`
	}{m.Text}
}

func (m Stderr) wire() any {
	return struct {
		Stderr string `json:"stderr"`
	}{m.Text}
}

func (m UnknownTerminal) wire() any {
	if isNull(m.Raw) {
		return struct{}{}
	}
	return m.Raw
}

type terminalKeys struct {
	Stdout  *string  `json:"stdout"`
	Stderr  *string  `json:"stderr"`
	Stdin   *string  `json:"stdin"`
	SetSize []uint16 `json:"set_size"`
}

// DecodeTerminal decodes terminal content. It never fails: shapes matching no
// variant come back as UnknownTerminal.
func DecodeTerminal(raw json.RawMessage) (TerminalMessage, error) {
	var p terminalKeys
	if err := json.Unmarshal(raw, &p); err != nil {
		return UnknownTerminal{Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	switch {
	case p.Stdout != nil:
		return Stdout{Text: *p.Stdout}, nil
	case p.Stderr != nil:
		return Stderr{Text: *p.Stderr}, nil
	case p.Stdin != nil:
		return Stdin{Data: *p.Stdin}, nil
	case len(p.SetSize) == 2:
		return SetSize{Rows: p.SetSize[0], Cols: p.SetSize[1]}, nil
	}
	return UnknownTerminal{Raw: append(json.RawMessage(nil), raw...)}, nil
}
