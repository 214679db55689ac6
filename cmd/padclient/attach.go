package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codepad/padclient/internal/document"
	"github.com/codepad/padclient/internal/session"
	"github.com/codepad/padclient/internal/terminal"
	"github.com/codepad/padclient/internal/ws"
)

type attachFlags struct {
	file     string
	readOnly bool
	journal  bool
}

func newAttachCmd(root *rootFlags) *cobra.Command {
	flags := &attachFlags{}
	cmd := &cobra.Command{
		Use:   "attach <room>",
		Short: "Attach this terminal to a pad's shared terminal",
		Long: "Attach bridges the local TTY to the pad's terminal and, with --file, keeps a\n" +
			"local file in sync with the shared document. Press Ctrl-] to detach.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context(), root, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.file, "file", "", "mirror the shared document to this file")
	cmd.Flags().BoolVar(&flags.readOnly, "read-only", false, "show terminal output without sending input")
	cmd.Flags().BoolVar(&flags.journal, "journal", false, "record frames to the room journal")
	return cmd
}

func runAttach(ctx context.Context, root *rootFlags, flags *attachFlags, room string) error {
	var (
		c   *padClient
		lt  *terminal.LocalTerminal
		att *terminal.Attachment
	)
	attachTerminal := func(ch *ws.Channel) {
		if lt == nil {
			return
		}
		opts := []terminal.AttachOption{terminal.WithLogger(c.log)}
		if flags.readOnly {
			opts = append(opts, terminal.ReadOnly())
		}
		if c.cfg.Terminal.Buffered {
			opts = append(opts, terminal.Buffered(c.cfg.Terminal.FlushInterval()))
		}
		att = terminal.Attach(lt, terminal.NewBridge(ch), opts...)
	}

	c, cleanup, err := openClient(root, room, true, clientOptions{
		journal:     flags.journal,
		onConnected: []func(*ws.Channel){attachTerminal},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "attaching to %s, press Ctrl-] to detach\n", room)
	lt, err = terminal.OpenLocal(os.Stdin, os.Stdout, c.log)
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}

	if err := c.connect(ctx); err != nil {
		lt.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if flags.file != "" {
		m := document.NewMirror(c.doc, flags.file,
			document.WithMirrorLogger(c.log),
			document.WithEditLock(c.editor.Local),
		)
		go func() {
			if err := m.Run(ctx); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Str("file", flags.file).Msg("mirror stopped")
			}
		}()
	}

	closed := make(chan struct{})
	go func() {
		c.machine.WaitFor(ctx, session.StateClosed)
		close(closed)
	}()

	select {
	case <-ctx.Done():
	case <-lt.Done():
	case <-closed:
	}
	if att != nil {
		att.Detach()
	}
	lt.Close()

	if err := c.machine.LastError(); err != nil && c.machine.State() == session.StateClosed {
		fmt.Fprintf(os.Stderr, "\nconnection to %s lost: %v\n", room, err)
		return err
	}
	fmt.Fprintf(os.Stderr, "\ndetached from %s\n", room)
	return nil
}
