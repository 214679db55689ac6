package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/codepad/padclient/internal/terminal"
	"github.com/codepad/padclient/internal/ws"
)

type runFlags struct {
	file   string
	settle time.Duration
	wait   time.Duration
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <room>",
		Short: "Run the pad's code and print terminal output",
		Long: "Run asks the server to execute the shared document. With --file the document\n" +
			"is first replaced by the file's contents. Terminal output is printed for --wait.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), root, flags, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "replace the document with this file before running")
	cmd.Flags().DurationVar(&flags.settle, "settle", 500*time.Millisecond, "time to wait for the initial document")
	cmd.Flags().DurationVar(&flags.wait, "wait", 5*time.Second, "how long to print terminal output")
	return cmd
}

// outputTerminal is a write-only terminal that prints to an io.Writer.
type outputTerminal struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *outputTerminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

func (t *outputTerminal) Size() (uint16, uint16)               { return 24, 80 }
func (t *outputTerminal) OnData(func(string)) func()           { return func() {} }
func (t *outputTerminal) OnResize(func(uint16, uint16)) func() { return func() {} }

func runRun(ctx context.Context, root *rootFlags, flags *runFlags, room string, out io.Writer) error {
	var code string
	if flags.file != "" {
		data, err := os.ReadFile(flags.file)
		if err != nil {
			return err
		}
		code = string(data)
	}

	var (
		c   *padClient
		att *terminal.Attachment
	)
	output := &outputTerminal{w: out}
	c, cleanup, err := openClient(root, room, false, clientOptions{
		onConnected: []func(*ws.Channel){func(ch *ws.Channel) {
			att = terminal.Attach(output, terminal.NewBridge(ch), terminal.ReadOnly(), terminal.WithLogger(c.log))
		}},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.connect(ctx); err != nil {
		return err
	}
	defer att.Detach()

	if flags.file != "" {
		if err := sleepCtx(ctx, flags.settle); err != nil {
			return nil
		}
		c.editor.Local(func() { c.doc.SetValue(code) })
	}
	if err := c.commands.RunDocument(c.doc); err != nil {
		return fmt.Errorf("run code: %w", err)
	}
	sleepCtx(ctx, flags.wait)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
