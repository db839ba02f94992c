package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/thesisgrey/config"
	srv "github.com/mohammad-safakhou/thesisgrey/internal/server"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.General.Migrations
			}
			err = srv.Migrate(dir, dsn, direction, steps)
			if errors.Is(err, migrate.ErrNoChange) {
				err = nil
			}
			if err != nil {
				return err
			}
			v, dirty, err := srv.MigrationVersion(dir, dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations source (default general.migrations)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
