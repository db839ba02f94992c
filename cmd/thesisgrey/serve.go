package main

import (
	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/thesisgrey/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.General.Listen = addr
			}
			return srv.Run(cmd.Context(), cfg, logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides general.listen)")
	return serve
}
