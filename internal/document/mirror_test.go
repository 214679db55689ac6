package document

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codepad/padclient/internal/editorsync"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMirrorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	buf := NewBuffer("package main\n")

	var (
		mu     sync.Mutex
		events []editorsync.ChangeEvent
	)
	buf.OnDidChangeContent(func(ev editorsync.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	var locked atomic.Int32
	m := NewMirror(buf, path, WithEditLock(func(fn func()) {
		locked.Add(1)
		fn()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	readFile := func() string {
		data, _ := os.ReadFile(path)
		return string(data)
	}
	waitFor(t, "initial flush", func() bool { return readFile() == "package main\n" })

	buf.SetValue("package main\n\nfunc main() {}\n")
	waitFor(t, "buffer change written", func() bool { return readFile() == "package main\n\nfunc main() {}\n" })

	mu.Lock()
	before := len(events)
	mu.Unlock()

	if err := os.WriteFile(path, []byte("package main\n\nfunc main() { run() }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "file edit loaded", func() bool { return buf.Value() == "package main\n\nfunc main() { run() }\n" })

	mu.Lock()
	defer mu.Unlock()
	if len(events) != before+1 {
		t.Fatalf("expected one change event from the file edit, got %d", len(events)-before)
	}
	last := events[len(events)-1]
	if len(last.Changes) != 1 || last.Changes[0].Text != " run() " {
		t.Fatalf("file edit not reduced to a minimal change: %+v", last.Changes)
	}
	if got := buf.Cursor(); got.Line != 3 || got.Column != 21 {
		t.Fatalf("cursor = %+v", got)
	}
	if locked.Load() == 0 {
		t.Fatal("file edit bypassed the edit lock")
	}
}
