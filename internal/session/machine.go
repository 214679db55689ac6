// Package session owns the lifecycle of a pad connection: it creates the
// session channel on connect, tracks it through open and close, and tears it
// down on disconnect.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/metrics"
	"github.com/codepad/padclient/internal/ws"
)

type State string

const (
	StateNone          State = "none"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateClosed        State = "closed"
)

var allStates = []string{
	string(StateNone),
	string(StateConnecting),
	string(StateConnected),
	string(StateDisconnecting),
	string(StateClosed),
}

// Transition is reported to observers after every state change.
type Transition struct {
	From    State
	To      State
	RoomKey string
	Err     error
}

// ConnectionError records a channel that failed before it was connected.
type ConnectionError struct {
	RoomKey string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connect to room %q: %v", e.RoomKey, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Option func(*Machine)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.log = l.With().Str("component", "session").Logger() }
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Machine) { m.metrics = c }
}

// OnCreated runs fn with every new channel before it starts dialing, so
// sub-channel listeners can be attached without missing frames.
func OnCreated(fn func(*ws.Channel)) Option {
	return func(m *Machine) { m.onCreated = append(m.onCreated, fn) }
}

// OnConnected runs fn once a channel opens, on the channel's dispatch
// goroutine and before the machine reports connected. Sends made from fn
// reach the server, and WaitFor(StateConnected) returns only after fn has.
func OnConnected(fn func(*ws.Channel)) Option {
	return func(m *Machine) { m.onConnected = append(m.onConnected, fn) }
}

// OnTransition registers an observer. Observers run outside the machine's
// lock and may call back into it.
func OnTransition(fn func(Transition)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// Machine is the connection state machine for one logical session.
// Transitions that are not allowed from the current state are ignored.
type Machine struct {
	svc         *ws.Service
	log         zerolog.Logger
	metrics     *metrics.Collectors
	onCreated   []func(*ws.Channel)
	onConnected []func(*ws.Channel)
	observers   []func(Transition)

	mu      sync.Mutex
	state   State
	roomKey string
	ch      *ws.Channel
	openSub *ws.Subscription
	errSub  *ws.Subscription
	lastErr error
	changed chan struct{}
}

func NewMachine(svc *ws.Service, opts ...Option) *Machine {
	m := &Machine{
		svc:     svc,
		log:     zerolog.Nop(),
		state:   StateNone,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetState(string(StateNone), allStates)
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) RoomKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomKey
}

// Channel returns the live channel, or nil once it has closed.
func (m *Machine) Channel() *ws.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch
}

// LastError returns the most recent *ConnectionError, if any.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect creates a channel for roomKey and starts dialing. It does nothing
// unless the machine is in none or closed. A *ws.DuplicateSessionError is
// returned when the service still holds a channel for another room.
func (m *Machine) Connect(roomKey string) error {
	m.mu.Lock()
	if m.state != StateNone && m.state != StateClosed {
		state := m.state
		m.mu.Unlock()
		m.log.Debug().Str("state", string(state)).Str("room", roomKey).Msg("connect ignored")
		return nil
	}
	ch, err := m.svc.Create(roomKey)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	from := m.state
	m.state = StateConnecting
	m.roomKey = roomKey
	m.ch = ch
	m.lastErr = nil
	m.openSub = ch.AddEventListener(ws.EventOpen, func(ws.Event) { m.handleOpen(ch) })
	m.errSub = ch.AddEventListener(ws.EventError, func(ev ws.Event) { m.handleError(ch, ev.Err) })
	ch.AddEventListener(ws.EventClose, func(ev ws.Event) { m.handleClose(ch, ev.Err) })
	t := m.transitionLocked(from, StateConnecting, nil)
	m.mu.Unlock()

	m.log.Info().Str("room", roomKey).Str("url", ch.URL()).Msg("connecting")
	m.notify(t)
	for _, fn := range m.onCreated {
		fn(ch)
	}
	ch.Connect()
	return nil
}

// Disconnect closes the channel synchronously when connecting or
// connected; otherwise it does nothing.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	if m.state != StateConnecting && m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	from := m.state
	ch := m.ch
	t := m.transitionLocked(from, StateDisconnecting, nil)
	m.mu.Unlock()

	m.notify(t)
	if err := ch.Close(); err != nil {
		m.log.Debug().Err(err).Msg("close channel")
	}
}

// WaitFor blocks until the machine is in one of states or ctx is done.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.Lock()
		cur, changed := m.state, m.changed
		m.mu.Unlock()
		for _, s := range states {
			if cur == s {
				return cur, nil
			}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

func (m *Machine) handleOpen(ch *ws.Channel) {
	m.mu.Lock()
	if m.ch != ch || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.dropOneShotLocked()
	m.mu.Unlock()

	for _, fn := range m.onConnected {
		fn(ch)
	}

	m.mu.Lock()
	// Disconnect may have run while the hooks did.
	if m.ch != ch || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	t := m.transitionLocked(StateConnecting, StateConnected, nil)
	m.mu.Unlock()

	m.log.Info().Str("room", ch.RoomKey()).Msg("connected")
	m.notify(t)
}

func (m *Machine) handleError(ch *ws.Channel, err error) {
	m.mu.Lock()
	if m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.dropOneShotLocked()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	cerr := &ConnectionError{RoomKey: m.roomKey, Err: err}
	m.lastErr = cerr
	t := m.transitionLocked(StateConnecting, StateClosed, cerr)
	m.mu.Unlock()

	m.log.Warn().Err(err).Str("room", ch.RoomKey()).Msg("connection failed")
	m.notify(t)
}

func (m *Machine) handleClose(ch *ws.Channel, reason error) {
	m.mu.Lock()
	if m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	m.dropOneShotLocked()
	from := m.state
	if from == StateClosed {
		m.mu.Unlock()
		return
	}
	if from == StateConnecting {
		if reason == nil {
			reason = ws.ErrClosed
		}
		m.lastErr = &ConnectionError{RoomKey: m.roomKey, Err: reason}
	}
	t := m.transitionLocked(from, StateClosed, m.lastErr)
	m.mu.Unlock()

	m.log.Info().Str("room", ch.RoomKey()).Str("from", string(from)).Msg("closed")
	m.notify(t)
}

func (m *Machine) dropOneShotLocked() {
	m.openSub.Unsubscribe()
	m.errSub.Unsubscribe()
	m.openSub, m.errSub = nil, nil
}

// transitionLocked moves to the new state and wakes WaitFor callers.
func (m *Machine) transitionLocked(from, to State, err error) Transition {
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	m.metrics.SetState(string(to), allStates)
	return Transition{From: from, To: to, RoomKey: m.roomKey, Err: err}
}

func (m *Machine) notify(t Transition) {
	for _, fn := range m.observers {
		fn(t)
	}
}
