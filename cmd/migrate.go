package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which applies or rolls back
// the embedded schema migrations.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd.Context())
			if err != nil {
				return err
			}
			if s.cfg.DB.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires db.driver %q, got %q", config.DriverPostgres, s.cfg.DB.Driver)
			}
			pool, err := postgres.NewPool(cmd.Context(), postgres.Config{DSN: s.cfg.DB.DSN, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			switch args[0] {
			case "up":
				err = postgres.MigrateUp(pool)
			case "down":
				err = postgres.MigrateDown(pool)
			}
			if err != nil {
				return err
			}
			s.logger.Info("migrations applied", zap.String("direction", args[0]))
			return nil
		},
	}
}
