package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
)

func newMigrateCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending audit store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, version)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.OpenSQL(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Warn("Failed to close migration connection", zap.Error(err))
				}
			}()

			if err := database.RunMigrations(db, logger); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return err
		},
	}
}
