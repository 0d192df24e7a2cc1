package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// NewPruneCommand deletes synced outbox events past their retention age.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete synced outbox events older than the retention age",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ob, cfg, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			age := olderThan
			if age <= 0 {
				age = cfg.Sync.RetentionAge
			}
			removed, err := ob.Prune(cmd.Context(), age, time.Now())
			if err != nil {
				return WrapExitError(ExitFailure, "pruning outbox", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			if opts.Format == "json" {
				return out.Success(map[string]interface{}{"removed": removed})
			}
			fmt.Fprintf(os.Stdout, "removed %d events\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention age override (e.g. 168h)")
	return cmd
}
