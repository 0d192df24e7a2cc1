package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewStatsCommand reports outbox health counters.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outbox sync statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ob, _, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := ob.Stats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "reading outbox stats", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			if opts.Format == "json" {
				return out.Success(map[string]interface{}{
					"unsynced":   stats.Unsynced,
					"failed":     stats.Failed,
					"abandoned":  stats.Abandoned,
					"last_error": stats.LastError,
				})
			}
			fmt.Fprintf(os.Stdout, "unsynced:  %d\n", stats.Unsynced)
			fmt.Fprintf(os.Stdout, "failed:    %d\n", stats.Failed)
			fmt.Fprintf(os.Stdout, "abandoned: %d\n", stats.Abandoned)
			if stats.LastError != "" {
				fmt.Fprintf(os.Stdout, "last error: %s\n", stats.LastError)
			}
			return nil
		},
	}
}
