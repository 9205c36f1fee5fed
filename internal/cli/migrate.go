package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/app"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.OpenDB(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := app.Migrate(db, opts.cfg.MigrationPath); err != nil {
				return err
			}
			slog.Info("migrations applied successfully", "path", opts.cfg.MigrationPath)
			return nil
		},
	}
}
