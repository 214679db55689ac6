package terminal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/ws"
)

// DefaultFlushInterval bounds how often buffered output is written.
const DefaultFlushInterval = 10 * time.Millisecond

// Terminal is a terminal emulator: it displays output and reports input and
// size changes. The returned funcs unregister the callback.
type Terminal interface {
	Write(p []byte) (int, error)
	Size() (rows, cols uint16)
	OnData(fn func(data string)) (cancel func())
	OnResize(fn func(rows, cols uint16)) (cancel func())
}

type attachConfig struct {
	readOnly bool
	flush    time.Duration
	log      zerolog.Logger
}

type AttachOption func(*attachConfig)

// ReadOnly stops terminal input from being forwarded.
func ReadOnly() AttachOption {
	return func(c *attachConfig) { c.readOnly = true }
}

// Buffered coalesces output and writes it at most once per interval.
func Buffered(interval time.Duration) AttachOption {
	return func(c *attachConfig) { c.flush = interval }
}

func WithLogger(l zerolog.Logger) AttachOption {
	return func(c *attachConfig) { c.log = l.With().Str("component", "terminal").Logger() }
}

// Attachment links one terminal to one socket until Detach or the socket
// closes.
type Attachment struct {
	term   Terminal
	socket Socket
	cfg    attachConfig

	mu       sync.Mutex
	detached bool
	subs     []*ws.Subscription
	cancels  []func()
	pending  []byte
	timer    *time.Timer
}

// Attach wires term to socket and immediately reports the terminal size.
func Attach(term Terminal, socket Socket, opts ...AttachOption) *Attachment {
	cfg := attachConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Attachment{term: term, socket: socket, cfg: cfg}

	subs := []*ws.Subscription{socket.AddEventListener(ws.EventMessage, a.onMessage)}
	var cancels []func()
	if !cfg.readOnly {
		cancels = append(cancels, term.OnData(func(data string) {
			if err := socket.Send(stdinTuple(data)); err != nil {
				a.cfg.log.Debug().Err(err).Msg("stdin not sent")
			}
		}))
	}
	cancels = append(cancels, term.OnResize(a.sendSize))
	subs = append(subs,
		socket.AddEventListener(ws.EventClose, func(ws.Event) { a.Detach() }),
		socket.AddEventListener(ws.EventError, func(ws.Event) { a.Detach() }),
	)

	a.mu.Lock()
	if a.detached {
		// The socket closed while we were registering.
		a.mu.Unlock()
		a.release(subs, cancels)
		return a
	}
	a.subs, a.cancels = subs, cancels
	a.mu.Unlock()

	rows, cols := term.Size()
	a.sendSize(rows, cols)
	return a
}

func (a *Attachment) sendSize(rows, cols uint16) {
	if err := a.socket.Send(setSizeTuple(rows, cols)); err != nil {
		a.cfg.log.Debug().Err(err).Uint16("rows", rows).Uint16("cols", cols).Msg("set_size not sent")
	}
}

func (a *Attachment) onMessage(ev ws.Event) {
	data, ok := ev.Data.(string)
	if !ok {
		return
	}
	text, ok := parseOutput(data)
	if !ok || text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return
	}
	if a.cfg.flush <= 0 {
		a.write([]byte(text))
		return
	}
	a.pending = append(a.pending, text...)
	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.flush, a.flush)
	}
}

func (a *Attachment) flush() {
	a.mu.Lock()
	out := a.pending
	a.pending = nil
	a.timer = nil
	a.mu.Unlock()
	if len(out) > 0 {
		a.write(out)
	}
}

func (a *Attachment) write(p []byte) {
	if _, err := a.term.Write(p); err != nil {
		a.cfg.log.Warn().Err(err).Msg("terminal write failed")
	}
}

// Detach unregisters everything Attach registered. Buffered output that has
// not been flushed yet is written first.
func (a *Attachment) Detach() {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.detached = true
	subs, cancels := a.subs, a.cancels
	a.subs, a.cancels = nil, nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	out := a.pending
	a.pending = nil
	a.mu.Unlock()

	a.release(subs, cancels)
	if len(out) > 0 {
		a.write(out)
	}
}

func (a *Attachment) release(subs []*ws.Subscription, cancels []func()) {
	for _, cancel := range cancels {
		cancel()
	}
	for _, sub := range subs {
		a.socket.RemoveEventListener(sub)
	}
}

func (a *Attachment) Detached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detached
}
