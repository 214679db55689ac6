package ws

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send before the channel opens or after it
	// starts closing.
	ErrNotConnected = errors.New("ws: channel not connected")

	// ErrClosed is the close reason when Close is called before the dial
	// completes.
	ErrClosed = errors.New("ws: channel closed")
)

// DuplicateSessionError is returned by Service.Create when a channel for a
// different room is still active. Callers must close it first.
type DuplicateSessionError struct {
	Active    string
	Requested string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("ws: channel for room %q is active, close it before connecting to %q", e.Active, e.Requested)
}

// DialError wraps a failed WebSocket handshake.
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("ws: dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}
