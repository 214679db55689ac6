// Package protocol defines the codepad realtime wire format.
//
// Every frame carries one envelope {"t": tag, "c": content}. The tag selects
// a sub-channel (editor, command, terminal) and the content is a closed set of
// variants per sub-channel. Content is decoded into concrete Go types once,
// here, so nothing downstream inspects raw JSON.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tag is the single-letter sub-channel discriminator of an envelope.
type Tag string

const (
	TagEditor   Tag = "e"
	TagCommand  Tag = "c"
	TagTerminal Tag = "t"
)

func (t Tag) Valid() bool {
	switch t {
	case TagEditor, TagCommand, TagTerminal:
		return true
	}
	return false
}

// SubChannel is the listener-facing name of a tag.
type SubChannel string

const (
	SubChannelEditor   SubChannel = "editor"
	SubChannelCommand  SubChannel = "command"
	SubChannelTerminal SubChannel = "terminal"
)

// Tag returns the wire letter for the sub-channel, or false for unknown names.
func (s SubChannel) Tag() (Tag, bool) {
	switch s {
	case SubChannelEditor:
		return TagEditor, true
	case SubChannelCommand:
		return TagCommand, true
	case SubChannelTerminal:
		return TagTerminal, true
	}
	return "", false
}

// Content is implemented by every envelope payload variant.
type Content interface {
	Tag() Tag
	wire() any
}

// Envelope is one decoded frame.
type Envelope struct {
	Tag     Tag
	Content Content
}

type wireEnvelope struct {
	T Tag `json:"t"`
	C any `json:"c"`
}

type rawEnvelope struct {
	T Tag             `json:"t"`
	C json.RawMessage `json:"c"`
}

// Direction selects how command content is interpreted when decoding:
// clients receive responses, servers receive requests.
type Direction int

const (
	Inbound  Direction = iota // server -> client
	Outbound                  // client -> server
)

// EncodeEnvelope serializes content the way a browser's JSON.stringify would:
// "t" before "c", no HTML escaping, no trailing newline.
func EncodeEnvelope(tag Tag, content Content) ([]byte, error) {
	if content == nil {
		return nil, &ProtocolError{Op: "encode", Detail: "nil content"}
	}
	if content.Tag() != tag {
		return nil, &ProtocolError{Op: "encode", Detail: fmt.Sprintf("content %T does not belong to tag %q", content, tag)}
	}
	data, err := marshal(wireEnvelope{T: tag, C: content.wire()})
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Err: err}
	}
	return data, nil
}

// DecodeEnvelope decodes a frame received by a client.
func DecodeEnvelope(data []byte) (Envelope, error) {
	return decodeEnvelope(data, Inbound)
}

// DecodeRequestEnvelope decodes a frame sent by a client. Used by servers and
// tests that sit on the other end of the socket.
func DecodeRequestEnvelope(data []byte) (Envelope, error) {
	return decodeEnvelope(data, Outbound)
}

func decodeEnvelope(data []byte, dir Direction) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, &ProtocolError{Op: "decode envelope", Err: err}
	}

	var (
		content Content
		err     error
	)
	switch raw.T {
	case TagEditor:
		content, err = DecodeEditor(raw.C)
	case TagCommand:
		if dir == Outbound {
			content, err = DecodeCommandRequest(raw.C)
		} else {
			content, err = DecodeCommandResponse(raw.C)
		}
	case TagTerminal:
		content, err = DecodeTerminal(raw.C)
	default:
		return Envelope{}, &ProtocolError{Op: "decode envelope", Detail: fmt.Sprintf("unknown tag %q", raw.T)}
	}
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Tag: raw.T, Content: content}, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// isNull reports whether raw is absent or the JSON literal null.
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
