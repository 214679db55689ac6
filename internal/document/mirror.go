package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/editorsync"
)

const mirrorDebounce = 50 * time.Millisecond

// Mirror keeps a file on disk in step with a Buffer. Buffer changes are
// written out; edits made to the file by other programs come back into the
// buffer as one local replacement.
type Mirror struct {
	buf  *Buffer
	path string
	log  zerolog.Logger
	lock func(func())

	mu      sync.Mutex
	written string
}

type MirrorOption func(*Mirror)

func WithMirrorLogger(l zerolog.Logger) MirrorOption {
	return func(m *Mirror) { m.log = l.With().Str("component", "mirror").Logger() }
}

// WithEditLock wraps every buffer edit made from a file change, so callers
// can keep them from interleaving with remote applies.
func WithEditLock(lock func(func())) MirrorOption {
	return func(m *Mirror) { m.lock = lock }
}

func NewMirror(buf *Buffer, path string, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		buf:  buf,
		path: path,
		log:  zerolog.Nop(),
		lock: func(fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run writes the current buffer out, then mirrors in both directions until
// ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.flush(m.buf.Value()); err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	m.buf.OnDidChangeContent(func(editorsync.ChangeEvent) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mirror: watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("mirror: watch %s: %w", filepath.Dir(m.path), err)
	}

	name := filepath.Base(m.path)
	var debounce *time.Timer
	fileChanged := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := m.flush(m.buf.Value()); err != nil {
				m.log.Warn().Err(err).Msg("write mirror file failed")
			}
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(mirrorDebounce, func() {
				select {
				case fileChanged <- struct{}{}:
				default:
				}
			})
		case <-fileChanged:
			if err := m.load(); err != nil {
				m.log.Warn().Err(err).Msg("read mirror file failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// flush writes text unless it is what the file already holds.
func (m *Mirror) flush(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if text == m.written {
		if _, err := os.Stat(m.path); err == nil {
			return nil
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}
	m.written = text
	return nil
}

// load pulls an external edit of the file into the buffer.
func (m *Mirror) load() error {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	text := string(data)

	m.mu.Lock()
	own := text == m.written
	m.written = text
	m.mu.Unlock()
	if own {
		return nil
	}

	var applyErr error
	m.lock(func() {
		change, ok := Diff(m.buf.Value(), text)
		if !ok {
			return
		}
		if applyErr = m.buf.Replace(change.Range, change.Text); applyErr != nil {
			return
		}
		if start, err := offsetAt(text, change.Range.StartLine, change.Range.StartColumn); err == nil {
			m.buf.SetCursor(positionAt(text, start+len(change.Text)))
		}
	})
	if applyErr != nil {
		return applyErr
	}
	m.log.Debug().Int("size", len(text)).Msg("file change applied")
	return nil
}
