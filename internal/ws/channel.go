package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/journal"
	"github.com/codepad/padclient/internal/metrics"
	"github.com/codepad/padclient/internal/protocol"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultMaxMessageSize   = 8 << 20
)

// ReadyState mirrors the browser WebSocket readyState values.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn the channel needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket. A nil Dialer uses
// websocket.DefaultDialer.
type GorillaDialer struct {
	Dialer    *websocket.Dialer
	ReadLimit int64
}

func (d GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

type Options struct {
	Dialer Dialer
	Header http.Header
	Token  string
	// ClientID is sent as X-Client-Id so the server can correlate reconnects.
	ClientID string

	// CompressThreshold is the envelope size in bytes above which frames are
	// gzipped. Zero means DefaultCompressThreshold; negative disables it.
	CompressThreshold int
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	MaxMessageSize    int64

	Logger  zerolog.Logger
	Metrics *metrics.Collectors
	Journal *journal.Journal
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.Dialer == nil {
		o.Dialer = GorillaDialer{ReadLimit: o.MaxMessageSize}
	}
	if o.CompressThreshold == 0 {
		o.CompressThreshold = DefaultCompressThreshold
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	return o
}

// Channel multiplexes the editor, command and terminal sub-channels of one
// room over a single WebSocket.
//
// All events (open, error, message, close) are dispatched sequentially from
// one goroutine, so listeners never run concurrently with each other.
type Channel struct {
	roomKey string
	url     string
	opts    Options
	log     zerolog.Logger

	listeners *listenerSet

	mu      sync.Mutex
	state   ReadyState
	conn    Conn
	writeMu sync.Mutex

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewChannel prepares a channel for roomKey at url. Nothing is dialed until
// Connect, so listeners added in between observe every event.
func NewChannel(roomKey, url string, opts Options) *Channel {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		roomKey:   roomKey,
		url:       url,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "ws").Str("room", roomKey).Logger(),
		listeners: newListenerSet(),
		state:     StateConnecting,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (c *Channel) RoomKey() string { return c.roomKey }
func (c *Channel) URL() string     { return c.url }

func (c *Channel) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ending reports whether the channel is closing or closed.
func (c *Channel) ending() bool {
	s := c.ReadyState()
	return s == StateClosing || s == StateClosed
}

func (c *Channel) Connected() bool {
	return c.ReadyState() == StateOpen
}

// Done is closed after the close event has been dispatched.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Connect starts the handshake in the background. Calling it again is a
// no-op.
func (c *Channel) Connect() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// AddEventListener registers fn for typ. Message listeners go through an
// adapter that filters by sub-channel and applies the payload converter;
// options are ignored for the other event types.
func (c *Channel) AddEventListener(typ EventType, fn Listener, opts ...ListenOption) *Subscription {
	reg := &registration{typ: typ, fn: fn}
	if typ == EventMessage {
		for _, opt := range opts {
			opt(reg)
		}
	}
	return c.listeners.add(reg)
}

// RemoveEventListener detaches the listener behind sub. Unknown or already
// removed subscriptions are ignored.
func (c *Channel) RemoveEventListener(sub *Subscription) {
	sub.Unsubscribe()
}

// ListenerCount reports how many listeners are registered for typ.
func (c *Channel) ListenerCount(typ EventType) int {
	return c.listeners.count(typ)
}

// Send writes content on its sub-channel. It is fire-and-forget: delivery is
// FIFO on this socket only and nothing acknowledges it.
func (c *Channel) Send(tag protocol.Tag, content protocol.Content) error {
	payload, err := protocol.EncodeEnvelope(tag, content)
	if err != nil {
		return err
	}
	messageType, frame, err := encodeFrame(payload, c.opts.CompressThreshold)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	if c.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err = conn.WriteMessage(messageType, frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("ws: write %s frame: %w", tag, err)
	}

	c.opts.Metrics.FrameSent(string(tag), frameKind(messageType), len(frame))
	if jerr := c.opts.Journal.Record(journal.Out, string(tag), payload); jerr != nil {
		c.log.Warn().Err(jerr).Msg("journal write failed")
	}
	return nil
}

// Close closes the socket without flushing. Message listeners are detached
// immediately; the close event still fires once the reader stops.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	c.listeners.removeType(EventMessage)
	c.cancel()

	if conn == nil {
		// Dial still in flight (or never started); run observes the cancel.
		c.startOnce.Do(func() { go c.finishWithoutConn(ErrClosed) })
		return nil
	}

	c.writeMu.Lock()
	if cw, ok := conn.(interface {
		WriteControl(messageType int, data []byte, deadline time.Time) error
	}); ok {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Channel) run() {
	header := http.Header{}
	for k, v := range c.opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.ClientID != "" {
		header.Set("X-Client-Id", c.opts.ClientID)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	conn, err := c.opts.Dialer.Dial(ctx, c.url, header)
	cancel()
	if err != nil {
		if c.ReadyState() == StateClosing {
			c.finishWithoutConn(ErrClosed)
			return
		}
		derr := &DialError{URL: c.url, Err: err}
		c.log.Warn().Err(err).Str("url", c.url).Msg("websocket dial failed")
		c.emit(Event{Type: EventError, Err: derr})
		c.finish(Event{Type: EventClose, Err: derr, Code: websocket.CloseAbnormalClosure})
		return
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		_ = conn.Close()
		c.finishWithoutConn(ErrClosed)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Info().Str("url", c.url).Msg("websocket connected")
	c.emit(Event{Type: EventOpen})
	c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.dispatch(messageType, data)
	}
}

func (c *Channel) handleReadError(err error) {
	closing := c.ReadyState() == StateClosing

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	switch {
	case closing:
		c.finish(Event{Type: EventClose, Code: websocket.CloseNormalClosure})
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info().Int("code", code).Msg("websocket closed by peer")
		c.finish(Event{Type: EventClose, Code: code})
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
		c.emit(Event{Type: EventError, Err: err})
		c.finish(Event{Type: EventClose, Err: err, Code: code})
	}
}

// dispatch is the per-frame error boundary: a bad frame is logged and dropped
// and never tears the channel down.
func (c *Channel) dispatch(messageType int, data []byte) {
	text, err := decodeFrame(messageType, data, c.opts.MaxMessageSize)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable frame")
		c.opts.Metrics.FrameDropped(metrics.DropDecompress)
		return
	}
	env, err := protocol.DecodeEnvelope(text)
	if err != nil {
		c.log.Warn().Err(err).Int("size", len(text)).Msg("dropping malformed envelope")
		c.opts.Metrics.FrameDropped(metrics.DropDecode)
		return
	}

	c.opts.Metrics.FrameReceived(string(env.Tag), frameKind(messageType))
	if jerr := c.opts.Journal.Record(journal.In, string(env.Tag), text); jerr != nil {
		c.log.Warn().Err(jerr).Msg("journal write failed")
	}

	for _, reg := range c.listeners.snapshot(EventMessage) {
		c.deliver(reg, env)
	}
}

func (c *Channel) deliver(reg *registration, env protocol.Envelope) {
	if reg.removed.Load() {
		return
	}
	if reg.tag != "" && reg.tag != env.Tag {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("tag", string(env.Tag)).Msg("message listener panicked")
			c.opts.Metrics.FrameDropped(metrics.DropPanic)
		}
	}()

	var data any = env
	if reg.convert != nil {
		converted, err := reg.convert(env.Content)
		if err != nil {
			c.log.Warn().Err(err).Str("tag", string(env.Tag)).Msg("payload conversion failed")
			c.opts.Metrics.FrameDropped(metrics.DropConvert)
			return
		}
		data = converted
	}
	reg.fn(Event{Type: EventMessage, Data: data})
}

func (c *Channel) emit(ev Event) {
	for _, reg := range c.listeners.snapshot(ev.Type) {
		if reg.removed.Load() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Str("event", ev.Type.String()).Msg("listener panicked")
				}
			}()
			reg.fn(ev)
		}()
	}
}

func (c *Channel) finishWithoutConn(reason error) {
	c.finish(Event{Type: EventClose, Err: reason, Code: websocket.CloseNormalClosure})
}

// finish moves to closed, fires the close event, then drops every listener.
func (c *Channel) finish(ev Event) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.cancel()
	c.emit(ev)
	c.listeners.removeAll()
	close(c.done)
}
