package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/config"
	"github.com/JakeFAU/reddit-leadgen/internal/server"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendPostgres {
				return errors.New("migrate requires store.backend=postgres")
			}
			pg, err := server.OpenPostgres(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema migrated", zap.Int32("max_conns", cfg.DB.MaxConns))
			return nil
		},
	}
}
