package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// NewEventsCommand lists recent outbox events.
func NewEventsCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent outbox events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ob, _, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := ob.Recent(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitFailure, "reading outbox events", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			if opts.Format == "json" {
				return out.Success(events)
			}
			for _, ev := range events {
				state := "pending"
				switch {
				case ev.Abandoned:
					state = "abandoned"
				case ev.Synced:
					state = "synced"
				case ev.Tries > 0:
					state = fmt.Sprintf("failed x%d", ev.Tries)
				}
				fmt.Fprintf(os.Stdout, "%6d  %-8s  %-10s  %s  %s  [%s]\n",
					ev.Seq, ev.Op, state, ev.CreatedAt.Format(time.RFC3339), ev.Model, ev.KeyPath.String())
				if opts.Verbose && ev.LastError != "" {
					fmt.Fprintf(os.Stdout, "        last error: %s\n", ev.LastError)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to list")
	return cmd
}
