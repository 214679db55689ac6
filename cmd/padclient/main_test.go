package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/config"
	"github.com/codepad/padclient/internal/journal"
)

func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	content := fmt.Sprintf(`server:
  base_url: %s
storage:
  state_dir: %s
log:
  level: error
languages:
  - id: zig
    name: Zig
    editor_language: zig
`, baseURL, stateDir)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, stateDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "padclient "+Version+"\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLanguagesCommandIncludesConfigured(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://localhost:1")
	out, err := execute(t, "--config", cfgPath, "languages")
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	for _, want := range []string{"python3", "Python 3", "zig"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// newFrameServer accepts one pad connection at /realtime/room1 and reports
// every frame it reads.
func newFrameServer(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	frames := make(chan string, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/room1" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames
}

func nextFrame(t *testing.T, frames <-chan string) string {
	t.Helper()
	select {
	case got := <-frames:
		return got
	case <-time.After(3 * time.Second):
		t.Fatal("server received no frame")
		return ""
	}
}

func TestResetCommandSendsReset(t *testing.T) {
	srv, frames := newFrameServer(t)
	cfgPath, _ := writeConfig(t, srv.URL)
	if _, err := execute(t, "--config", cfgPath, "reset", "room1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := nextFrame(t, frames); got != `{"t":"c","c":{"reset":[]}}` {
		t.Fatalf("unexpected frame %s", got)
	}
}

func TestRunCommandReportsTerminalSizeBeforeRunning(t *testing.T) {
	srv, frames := newFrameServer(t)
	cfgPath, _ := writeConfig(t, srv.URL)
	if _, err := execute(t, "--config", cfgPath, "run", "room1", "--wait", "100ms"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := nextFrame(t, frames); got != `{"t":"t","c":{"set_size":[24,80]}}` {
		t.Fatalf("first frame = %s, want set_size", got)
	}
	if got := nextFrame(t, frames); got != `{"t":"c","c":{"run_code":""}}` {
		t.Fatalf("second frame = %s, want run_code", got)
	}
}

func TestResetCommandReportsDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfgPath, _ := writeConfig(t, srv.URL)
	if _, err := execute(t, "--config", cfgPath, "reset", "room1"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestJournalCommand(t *testing.T) {
	cfgPath, stateDir := writeConfig(t, "http://localhost:1")
	j, err := journal.Open(stateDir, "room1", 100)
	if err != nil {
		t.Fatal(err)
	}
	j.Record(journal.Out, "c", []byte(`{"t":"c","c":{"reset":[]}}`))
	j.Record(journal.In, "t", []byte(`{"t":"t","c":{"stdout":"hi"}}`))
	j.Close()

	out, err := execute(t, "--config", cfgPath, "journal", "room1", "--tail", "1")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, `{"t":"t","c":{"stdout":"hi"}}`) || strings.Contains(out, "reset") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "--config", cfgPath, "journal", "other")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, "no journal entries") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	cases := []struct {
		cfg      config.LogConfig
		override string
		want     zerolog.Level
	}{
		{config.LogConfig{Level: "debug"}, "", zerolog.DebugLevel},
		{config.LogConfig{Level: "debug"}, "warn", zerolog.WarnLevel},
		{config.LogConfig{Level: "bogus"}, "", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := newLogger(tc.cfg, tc.override, &buf).GetLevel(); got != tc.want {
			t.Errorf("newLogger(%+v, %q) level = %s, want %s", tc.cfg, tc.override, got, tc.want)
		}
	}

	buf.Reset()
	logger := newLogger(config.LogConfig{Level: "info", Format: "json"}, "", &buf)
	logger.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}
