package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/command"
	"github.com/codepad/padclient/internal/config"
	"github.com/codepad/padclient/internal/document"
	"github.com/codepad/padclient/internal/editorsync"
	"github.com/codepad/padclient/internal/journal"
	"github.com/codepad/padclient/internal/lang"
	"github.com/codepad/padclient/internal/metrics"
	"github.com/codepad/padclient/internal/protocol"
	"github.com/codepad/padclient/internal/session"
	"github.com/codepad/padclient/internal/ws"
)

type clientOptions struct {
	journal bool
	// onConnected runs for every channel once it opens, before connect returns.
	onConnected []func(*ws.Channel)
}

// padClient is one connected pad session: the local document, its editor
// and command controllers, and the connection state machine.
type padClient struct {
	cfg     *config.Config
	log     zerolog.Logger
	room    string
	metrics *metrics.Collectors
	journal *journal.Journal

	registry  *lang.Registry
	selection *lang.Selection
	doc       *document.Buffer
	editor    *editorsync.Controller
	commands  *command.Controller
	machine   *session.Machine

	metricsSrv *http.Server
}

// channelSender forwards to whichever channel the machine currently holds.
type channelSender struct {
	machine func() *session.Machine
}

func (s channelSender) Send(tag protocol.Tag, content protocol.Content) error {
	m := s.machine()
	if m == nil {
		return ws.ErrNotConnected
	}
	ch := m.Channel()
	if ch == nil {
		return ws.ErrNotConnected
	}
	return ch.Send(tag, content)
}

func newPadClient(cfg *config.Config, logger zerolog.Logger, room string, opts clientOptions) (*padClient, error) {
	c := &padClient{
		cfg:       cfg,
		log:       logger.With().Str("room", room).Logger(),
		room:      room,
		metrics:   metrics.New(),
		registry:  cfg.Registry(),
		selection: &lang.Selection{},
		doc:       document.NewBuffer(""),
	}

	if opts.journal {
		j, err := journal.Open(cfg.Storage.StateDir, room, cfg.Storage.JournalMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		c.journal = j
	}

	svc, err := ws.NewService(cfg.Server.BaseURL, ws.Options{
		Token:             cfg.Server.Token,
		ClientID:          uuid.NewString(),
		CompressThreshold: cfg.Channel.CompressThreshold,
		WriteTimeout:      cfg.Channel.WriteTimeout(),
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout(),
		MaxMessageSize:    cfg.Channel.MaxMessageBytes,
		Logger:            c.log,
		Metrics:           c.metrics,
		Journal:           c.journal,
	})
	if err != nil {
		c.journal.Close()
		return nil, err
	}

	sender := channelSender{machine: func() *session.Machine { return c.machine }}
	c.editor = editorsync.New(c.doc, sender,
		editorsync.WithLogger(c.log),
		editorsync.WithMetrics(c.metrics),
	)
	c.commands = command.New(sender, c.registry, c.selection, c.log)

	c.doc.OnDidChangeContent(func(ev editorsync.ChangeEvent) {
		if err := c.editor.OnLocalEditorChanged(ev); err != nil && !errors.Is(err, ws.ErrNotConnected) {
			c.log.Warn().Err(err).Msg("send local edit")
		}
	})
	c.doc.OnDidChangeCursor(func(ev editorsync.CursorEvent) {
		if err := c.editor.OnLocalCursorChanged(ev); err != nil && !errors.Is(err, ws.ErrNotConnected) {
			c.log.Debug().Err(err).Msg("send cursor")
		}
	})
	c.selection.OnChange(func(l lang.Language) {
		c.doc.SetLanguage(l.EditorLanguage)
		c.log.Info().Str("lang", l.ID).Msg("language changed")
	})

	machineOpts := []session.Option{
		session.WithLogger(c.log),
		session.WithMetrics(c.metrics),
		session.OnCreated(func(ch *ws.Channel) {
			c.editor.Listen(ch)
			c.commands.Listen(ch)
		}),
		session.OnTransition(func(t session.Transition) {
			ev := c.log.Debug()
			if t.Err != nil {
				ev = c.log.Warn().Err(t.Err)
			}
			ev.Str("from", string(t.From)).Str("to", string(t.To)).Msg("session state")
		}),
	}
	for _, fn := range opts.onConnected {
		machineOpts = append(machineOpts, session.OnConnected(fn))
	}
	c.machine = session.NewMachine(svc, machineOpts...)
	return c, nil
}

// connect starts the session and blocks until it is connected or has failed.
func (c *padClient) connect(ctx context.Context) error {
	c.serveMetrics()
	if err := c.machine.Connect(c.room); err != nil {
		return err
	}
	state, err := c.machine.WaitFor(ctx, session.StateConnected, session.StateClosed)
	if err != nil {
		c.machine.Disconnect()
		return err
	}
	if state == session.StateClosed {
		if err := c.machine.LastError(); err != nil {
			return err
		}
		return ws.ErrClosed
	}
	if ch := c.machine.Channel(); ch != nil {
		c.log.Info().Str("url", ch.URL()).Msg("connected")
	}
	return nil
}

func (c *padClient) serveMetrics() {
	if c.cfg.Metrics.Listen == "" || c.metricsSrv != nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	c.metricsSrv = &http.Server{
		Addr:              c.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := c.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error().Err(err).Str("listen", c.cfg.Metrics.Listen).Msg("metrics server failed")
		}
	}()
}

// close disconnects and waits briefly for the close event.
func (c *padClient) close() {
	c.machine.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.machine.WaitFor(ctx, session.StateClosed, session.StateNone); err != nil {
		c.log.Debug().Msg("timed out waiting for close")
	}
	if c.metricsSrv != nil {
		c.metricsSrv.Shutdown(ctx)
	}
	if err := c.journal.Close(); err != nil {
		c.log.Warn().Err(err).Msg("close journal")
	}
}

// openClient loads configuration and builds a client for room. Logs go to
// stderr unless toFile is set, in which case they are appended to
// padclient.log in the state directory.
func openClient(flags *rootFlags, room string, toFile bool, opts clientOptions) (*padClient, func(), error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	var (
		logger   zerolog.Logger
		closeLog = func() {}
	)
	if toFile {
		f, err := openLogFile(cfg.Storage.StateDir)
		if err != nil {
			return nil, nil, err
		}
		logger = newLogger(config.LogConfig{Level: cfg.Log.Level, Format: "json"}, flags.logLevel, f)
		closeLog = func() { f.Close() }
	} else {
		logger = newLogger(cfg.Log, flags.logLevel, os.Stderr)
	}

	c, err := newPadClient(cfg, logger, room, opts)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return c, func() {
		c.close()
		closeLog()
	}, nil
}

func openLogFile(stateDir string) (*os.File, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return os.OpenFile(filepath.Join(stateDir, "padclient.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
