package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/app"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the backfill worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if !cfg.EnableAPI && !cfg.EnableBackfillWorker {
				return errors.New("nothing to run: both ENABLE_API and ENABLE_BACKFILL_WORKER are off")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			application, err := app.New(ctx, cfg, deps, nil)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := application.Close(closeCtx); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()

			if cfg.EnableBackfillWorker {
				if err := application.StartBackfillWorker(ctx); err != nil {
					return err
				}
			}
			if !cfg.EnableAPI {
				<-ctx.Done()
				return nil
			}
			return application.Run(ctx)
		},
	}
}
