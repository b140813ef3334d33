package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the captures and schedules tables and their indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pool := a.Pool()
			if pool == nil {
				return errors.New("migrate requires db.provider=postgres")
			}
			db := a.Config.DB
			if err := postgres.Migrate(cmd.Context(), pool, db.CapturesTable, db.SchedulesTable); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("schema applied",
				zap.String("captures_table", db.CapturesTable),
				zap.String("schedules_table", db.SchedulesTable),
			)
			return nil
		},
	}
}
