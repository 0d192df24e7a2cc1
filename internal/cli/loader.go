package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/outbox"
)

// configureLogging applies the configured log level. --verbose forces
// debug.
func configureLogging(opts *RootOptions, cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(level)
}

// openOutbox resolves the database path from flags and config and opens
// the store behind the outbox.
func openOutbox(opts *RootOptions) (*kv.Store, *outbox.Store, *config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	configureLogging(opts, cfg)
	path := cfg.DatabasePath
	if opts.DBPath != "" {
		path = opts.DBPath
	}
	store, err := kv.Open(path)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "opening database", err)
	}
	return store, outbox.New(store.DB()), cfg, nil
}
