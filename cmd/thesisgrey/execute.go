package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	srv "github.com/mohammad-safakhou/thesisgrey/internal/server"
)

// executeCMD runs a session's search strategy in the foreground, which is
// handy for cron jobs and for debugging provider credentials.
func executeCMD(cfgPath *string) *cobra.Command {
	var sessionID, email string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a session's search queries and process the results",
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
			sum, err := app.Executor.ExecuteSync(ctx, sessionID, u.ID)
			if err != nil {
				logger.Error("execution failed", zap.String("session_id", sessionID), zap.Error(err))
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&email, "user", "", "email of the session owner")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
