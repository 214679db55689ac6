package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codepad/padclient/internal/config"
	"github.com/codepad/padclient/internal/journal"
	"github.com/codepad/padclient/internal/lang"
)

func newResetCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <room>",
		Short: "Reset the pad's terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openClient(root, args[0], false, clientOptions{})
			if err != nil {
				return err
			}
			defer cleanup()
			if err := c.connect(cmd.Context()); err != nil {
				return err
			}
			return c.commands.SendReset()
		},
	}
}

func newLangCmd(root *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lang <room> <language-id>",
		Short: "Change the pad's language",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openClient(root, args[0], false, clientOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			changed := make(chan lang.Language, 1)
			c.selection.OnChange(func(l lang.Language) {
				select {
				case changed <- l:
				default:
				}
			})
			if err := c.connect(cmd.Context()); err != nil {
				return err
			}
			if err := c.commands.SendSetLanguage(args[1]); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			for {
				select {
				case l := <-changed:
					if l.ID != args[1] {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "language set to %s\n", l.Name)
					return nil
				case <-ctx.Done():
					return fmt.Errorf("no confirmation from server within %s", timeout)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for confirmation")
	return cmd
}

func newLanguagesCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEDITOR")
			for _, l := range cfg.Registry().All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, l.Name, l.EditorLanguage)
			}
			return tw.Flush()
		},
	}
}

func newJournalCmd(root *rootFlags) *cobra.Command {
	var (
		asJSON bool
		tail   int
	)
	cmd := &cobra.Command{
		Use:   "journal <room>",
		Short: "Show frames recorded for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			entries, err := journal.Load(journal.Path(cfg.Storage.StateDir, args[0]))
			if err != nil {
				return err
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "no journal entries for %s\n", args[0])
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%6d %s %-3s %s %s\n", e.Seq, e.Time.Format(time.RFC3339), e.Dir, e.Tag, e.Payload)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().IntVar(&tail, "tail", 0, "show only the last N entries")
	return cmd
}
