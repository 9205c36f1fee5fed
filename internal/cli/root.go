// Package cli is the command line of the claim verifier.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/config"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/logger"
)

type rootOptions struct {
	logLevel string
	cfg      *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "verifier",
		Short: "Claim verification service",
		Long: `verifier checks a claim against a local evidence corpus and the web.

Examples:
  # Serve the HTTP API and, if enabled, the backfill worker
  verifier serve

  # Verify one claim and print the event stream as JSON lines
  verifier verify "Seoul is the capital of South Korea"

  # Load a document into the corpus
  verifier ingest --title "Seoul" --file seoul.txt`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			slog.SetDefault(logger.New(parseLevel(level)))
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (defaults to LOG_LEVEL)")

	root.AddCommand(
		newServeCommand(opts),
		newVerifyCommand(opts),
		newMigrateCommand(opts),
		newIngestCommand(opts),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
