package terminal

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// DetachKey (Ctrl-]) ends a local terminal session.
const DetachKey byte = 0x1d

const (
	fallbackRows = 24
	fallbackCols = 80
)

// LocalTerminal uses the process's own TTY as the terminal emulator. Input
// is read in raw mode and output goes straight to the output file.
type LocalTerminal struct {
	in  *os.File
	out *os.File
	log zerolog.Logger

	oldState *term.State

	mu       sync.Mutex
	nextID   int
	onData   map[int]func(string)
	onResize map[int]func(rows, cols uint16)

	closeOnce sync.Once
	closed    chan struct{}
	stopWinch func()
}

var _ Terminal = (*LocalTerminal)(nil)

// OpenLocal puts in into raw mode (when it is a terminal) and starts reading
// it. Close restores the previous mode.
func OpenLocal(in, out *os.File, logger zerolog.Logger) (*LocalTerminal, error) {
	t := &LocalTerminal{
		in:       in,
		out:      out,
		log:      logger.With().Str("component", "local_terminal").Logger(),
		onData:   make(map[int]func(string)),
		onResize: make(map[int]func(rows, cols uint16)),
		closed:   make(chan struct{}),
	}
	if term.IsTerminal(int(in.Fd())) {
		state, err := term.MakeRaw(int(in.Fd()))
		if err != nil {
			return nil, err
		}
		t.oldState = state
	}
	t.stopWinch = watchResize(t.notifyResize)

	go t.readLoop()
	return t, nil
}

func (t *LocalTerminal) Write(p []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, errors.New("terminal: closed")
	default:
	}
	return t.out.Write(p)
}

// Size reports the output TTY size, or 24x80 when it is not a terminal.
func (t *LocalTerminal) Size() (uint16, uint16) {
	size, err := pty.GetsizeFull(t.out)
	if err != nil || size.Rows == 0 || size.Cols == 0 {
		return fallbackRows, fallbackCols
	}
	return size.Rows, size.Cols
}

func (t *LocalTerminal) OnData(fn func(string)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.onData[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.onData, id)
		t.mu.Unlock()
	}
}

func (t *LocalTerminal) OnResize(fn func(rows, cols uint16)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.onResize[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.onResize, id)
		t.mu.Unlock()
	}
}

// Done is closed when the terminal is closed, including by DetachKey or end
// of input.
func (t *LocalTerminal) Done() <-chan struct{} {
	return t.closed
}

func (t *LocalTerminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.stopWinch != nil {
			t.stopWinch()
		}
		if t.oldState != nil {
			err = term.Restore(int(t.in.Fd()), t.oldState)
		}
	})
	return err
}

func (t *LocalTerminal) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.in.Read(buf)
		if n > 0 {
			data := buf[:n]
			detach := false
			for i, b := range data {
				if b == DetachKey {
					data, detach = data[:i], true
					break
				}
			}
			if len(data) > 0 {
				t.notifyData(string(data))
			}
			if detach {
				t.Close()
				return
			}
		}
		if err != nil {
			select {
			case <-t.closed:
			default:
				if err != io.EOF {
					t.log.Warn().Err(err).Msg("terminal read error")
				}
			}
			t.Close()
			return
		}
		select {
		case <-t.closed:
			return
		default:
		}
	}
}

func (t *LocalTerminal) notifyData(data string) {
	t.mu.Lock()
	fns := make([]func(string), 0, len(t.onData))
	for _, fn := range t.onData {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (t *LocalTerminal) notifyResize() {
	rows, cols := t.Size()
	t.mu.Lock()
	fns := make([]func(uint16, uint16), 0, len(t.onResize))
	for _, fn := range t.onResize {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(rows, cols)
	}
}
