package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/thesisgrey/internal/server"
)

func exportCMD(cfgPath *string) *cobra.Command {
	var sessionID, email, reportType, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a session report to the reports directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()
			app, err := srv.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			u, err := app.Store.GetUserByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("user %s: %w", email, err)
			}
			sess, err := app.Store.GetSession(ctx, sessionID, u.ID)
			if err != nil {
				return fmt.Errorf("session %s: %w", sessionID, err)
			}
			settings, err := app.Settings.Get(ctx)
			if err != nil {
				return err
			}
			rec, err := app.Reports.Export(ctx, sess, u.ID,
				strings.ToLower(reportType), strings.ToLower(format), settings.ExportRetention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", rec.FilePath, rec.FileSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&email, "user", "", "email of the session owner")
	cmd.Flags().StringVar(&reportType, "type", "full", "report type (prisma, results, full)")
	cmd.Flags().StringVar(&format, "format", "csv", "output format (csv, json, xlsx, pdf)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
