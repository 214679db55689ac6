package ws

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/metrics"
	"github.com/codepad/padclient/internal/protocol"
)

const waitTimeout = 2 * time.Second

type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime/room"
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("server never accepted a connection")
		return nil
	}
}

func testOptions() Options {
	return Options{Logger: zerolog.Nop()}
}

// openChannel connects a channel and waits for its open event.
func openChannel(t *testing.T, ts *testServer, opts Options) (*Channel, *websocket.Conn) {
	t.Helper()
	ch := NewChannel("room", ts.wsURL(), opts)
	opened := make(chan struct{})
	ch.AddEventListener(EventOpen, func(Event) { close(opened) })
	ch.Connect()
	server := ts.accept(t)
	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("open event never fired")
	}
	t.Cleanup(func() { ch.Close() })
	return ch, server
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return out
}

func TestSendSmallFrameAsText(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	if err := ch.Send(protocol.TagCommand, protocol.Reset{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	server.SetReadDeadline(time.Now().Add(waitTimeout))
	mt, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", mt)
	}
	if string(data) != `{"t":"c","c":{"reset":[]}}` {
		t.Fatalf("unexpected frame %s", data)
	}
}

func TestSendLargeFrameCompressed(t *testing.T) {
	ts := newTestServer(t)
	m := metrics.New()
	opts := testOptions()
	opts.Metrics = m
	ch, server := openChannel(t, ts, opts)

	code := strings.Repeat("print(1)\n", 40)
	if err := ch.Send(protocol.TagCommand, protocol.RunCode{Code: code}); err != nil {
		t.Fatalf("send: %v", err)
	}
	server.SetReadDeadline(time.Now().Add(waitTimeout))
	mt, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", mt)
	}
	env, err := protocol.DecodeRequestEnvelope(gunzip(t, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	run, ok := env.Content.(protocol.RunCode)
	if !ok || run.Code != code {
		t.Fatalf("unexpected content %#v", env.Content)
	}
}

func TestCompressionThresholdOverride(t *testing.T) {
	ts := newTestServer(t)
	opts := testOptions()
	opts.CompressThreshold = -1
	ch, server := openChannel(t, ts, opts)

	code := strings.Repeat("x", 500)
	if err := ch.Send(protocol.TagCommand, protocol.RunCode{Code: code}); err != nil {
		t.Fatalf("send: %v", err)
	}
	server.SetReadDeadline(time.Now().Add(waitTimeout))
	mt, _, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("compression disabled but got frame type %d", mt)
	}
}

func TestSendBeforeOpen(t *testing.T) {
	ch := NewChannel("room", "ws://127.0.0.1:1/realtime/room", testOptions())
	if err := ch.Send(protocol.TagCommand, protocol.Reset{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMessagesFilteredBySubChannel(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	editor := make(chan protocol.Envelope, 4)
	terminal := make(chan any, 4)
	ch.AddEventListener(EventMessage, func(ev Event) {
		editor <- ev.Data.(protocol.Envelope)
	}, WithSubChannel(protocol.SubChannelEditor))
	ch.AddEventListener(EventMessage, func(ev Event) {
		terminal <- ev.Data
	}, WithSubChannel(protocol.SubChannelTerminal), WithConverter(func(c protocol.Content) (any, error) {
		out, ok := c.(protocol.Stdout)
		if !ok {
			return nil, errors.New("not stdout")
		}
		return out.Text, nil
	}))
	unknown := make(chan struct{}, 1)
	ch.AddEventListener(EventMessage, func(Event) { unknown <- struct{}{} },
		WithSubChannel(protocol.SubChannel("bogus")))

	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"t","c":{"stdout":"hello"}}`))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"t":"e","c":{"text":"fn main() {}"}}`))
	zw.Close()
	server.WriteMessage(websocket.BinaryMessage, buf.Bytes())

	select {
	case got := <-terminal:
		if got != "hello" {
			t.Fatalf("terminal listener got %v", got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("terminal listener not called")
	}
	select {
	case env := <-editor:
		text, ok := env.Content.(protocol.FullText)
		if !ok || text.Text != "fn main() {}" {
			t.Fatalf("editor listener got %#v", env.Content)
		}
	case <-time.After(waitTimeout):
		t.Fatal("editor listener not called")
	}
	select {
	case <-unknown:
		t.Fatal("unknown sub-channel listener should never fire")
	default:
	}
	if len(editor) != 0 || len(terminal) != 0 {
		t.Fatal("listeners received frames for other sub-channels")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	ts := newTestServer(t)
	m := metrics.New()
	opts := testOptions()
	opts.Metrics = m
	ch, server := openChannel(t, ts, opts)

	got := make(chan protocol.Envelope, 2)
	ch.AddEventListener(EventMessage, func(ev Event) { got <- ev.Data.(protocol.Envelope) })

	server.WriteMessage(websocket.TextMessage, []byte(`not json`))
	server.WriteMessage(websocket.BinaryMessage, []byte(`not gzip`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"e","c":{}}`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"c","c":{"set_lang":"python"}}`))

	select {
	case env := <-got:
		resp := env.Content.(protocol.CommandResponse)
		if resp.SetLang == nil || *resp.SetLang != "python" {
			t.Fatalf("unexpected response %#v", resp)
		}
	case <-time.After(waitTimeout):
		t.Fatal("valid frame after malformed ones was not delivered")
	}
	if !ch.Connected() {
		t.Fatal("malformed frames must not close the channel")
	}
}

func TestListenerPanicIsContained(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	second := make(chan struct{}, 2)
	ch.AddEventListener(EventMessage, func(Event) { panic("boom") })
	ch.AddEventListener(EventMessage, func(Event) { second <- struct{}{} })

	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"t","c":{"stdout":"a"}}`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"t","c":{"stdout":"b"}}`))

	for i := 0; i < 2; i++ {
		select {
		case <-second:
		case <-time.After(waitTimeout):
			t.Fatalf("frame %d not delivered after panic", i)
		}
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	var (
		mu    sync.Mutex
		calls []string
	)
	done := make(chan struct{})
	secondSub := make(chan *Subscription, 1)
	var once sync.Once
	ch.AddEventListener(EventMessage, func(Event) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
		once.Do(func() {
			(<-secondSub).Unsubscribe()
			close(done)
		})
	})
	secondSub <- ch.AddEventListener(EventMessage, func(Event) {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
	})

	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"t","c":{"stdout":"a"}}`))
	<-done
	server.WriteMessage(websocket.TextMessage, []byte(`{"t":"t","c":{"stdout":"b"}}`))
	deadline := time.Now().Add(waitTimeout)
	for {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range calls {
		if c == "second" {
			t.Fatalf("removed listener was called: %v", calls)
		}
	}
	if ch.ListenerCount(EventMessage) != 1 {
		t.Fatalf("expected 1 message listener, got %d", ch.ListenerCount(EventMessage))
	}
}

func TestCloseDetachesListenersAndFiresClose(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := openChannel(t, ts, testOptions())

	ch.AddEventListener(EventMessage, func(Event) {}, WithSubChannel(protocol.SubChannelEditor))
	ch.AddEventListener(EventMessage, func(Event) {}, WithSubChannel(protocol.SubChannelTerminal))

	var (
		mu     sync.Mutex
		events []EventType
	)
	record := func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	}
	ch.AddEventListener(EventError, record)
	ch.AddEventListener(EventClose, record)

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := ch.ListenerCount(EventMessage); n != 0 {
		t.Fatalf("message listeners still attached after Close: %d", n)
	}
	if err := ch.Send(protocol.TagCommand, protocol.Reset{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after close: %v", err)
	}

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("channel never finished closing")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != EventClose {
		t.Fatalf("expected a single close event, got %v", events)
	}
	if ch.ReadyState() != StateClosed {
		t.Fatalf("state = %s", ch.ReadyState())
	}
}

func TestServerDropFiresErrorThenClose(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	var (
		mu     sync.Mutex
		events []EventType
	)
	record := func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	}
	ch.AddEventListener(EventError, record)
	ch.AddEventListener(EventClose, record)

	server.UnderlyingConn().Close()

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("channel did not notice the dropped connection")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != EventError || events[1] != EventClose {
		t.Fatalf("expected error then close, got %v", events)
	}
}

func TestPeerNormalCloseFiresOnlyClose(t *testing.T) {
	ts := newTestServer(t)
	ch, server := openChannel(t, ts, testOptions())

	codes := make(chan Event, 2)
	ch.AddEventListener(EventError, func(ev Event) { codes <- ev })
	ch.AddEventListener(EventClose, func(ev Event) { codes <- ev })

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case ev := <-codes:
		if ev.Type != EventClose || ev.Code != websocket.CloseNormalClosure {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatal("close event not fired")
	}
}

func TestDialFailureFiresErrorThenClose(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	ch := NewChannel("room", url, testOptions())
	var (
		mu     sync.Mutex
		events []Event
	)
	record := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	ch.AddEventListener(EventOpen, record)
	ch.AddEventListener(EventError, record)
	ch.AddEventListener(EventClose, record)
	ch.Connect()

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dial failure never closed the channel")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0].Type != EventError || events[1].Type != EventClose {
		t.Fatalf("expected error then close, got %+v", events)
	}
	var dialErr *DialError
	if !errors.As(events[0].Err, &dialErr) {
		t.Fatalf("expected *DialError, got %v", events[0].Err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	ch := NewChannel("room", "ws://127.0.0.1:1/realtime/room", testOptions())
	closed := make(chan Event, 1)
	errored := make(chan struct{}, 1)
	ch.AddEventListener(EventClose, func(ev Event) { closed <- ev })
	ch.AddEventListener(EventError, func(Event) { errored <- struct{}{} })

	ch.Close()
	ch.Connect()

	select {
	case ev := <-closed:
		if !errors.Is(ev.Err, ErrClosed) {
			t.Fatalf("close reason = %v", ev.Err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("close event not fired")
	}
	select {
	case <-errored:
		t.Fatal("closing before the dial must not report an error")
	default:
	}
}

func TestHandshakeHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Token = "secret"
	opts.ClientID = "client-1"
	ch := NewChannel("room", "ws"+strings.TrimPrefix(srv.URL, "http"), opts)
	ch.Connect()
	defer ch.Close()

	select {
	case h := <-headers:
		if h.Get("Authorization") != "Bearer secret" {
			t.Fatalf("authorization = %q", h.Get("Authorization"))
		}
		if h.Get("X-Client-Id") != "client-1" {
			t.Fatalf("client id = %q", h.Get("X-Client-Id"))
		}
	case <-time.After(waitTimeout):
		t.Fatal("handshake never reached server")
	}
}
