package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/thesisgrey/config"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
)

// openStore connects to postgres without wiring the rest of the service.
func openStore(ctx context.Context, cfgPath string) (*store.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewWithDSN(ctx, dsn)
}

func adminCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Maintenance commands for operators",
	}

	var email string
	var revoke bool
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant (or with --revoke remove) the admin scope for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SetUserAdmin(cmd.Context(), email, !revoke); err != nil {
				return fmt.Errorf("user %s: %w", email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t (takes effect at next login)\n", email, !revoke)
			return nil
		},
	}
	grant.Flags().StringVar(&email, "email", "", "user email")
	grant.Flags().BoolVar(&revoke, "revoke", false, "remove the admin flag instead")
	_ = grant.MarkFlagRequired("email")

	var sessionID string
	recount := &cobra.Command{
		Use:   "recount",
		Short: "Recompute a session's query, result and review counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.RefreshSessionCounters(cmd.Context(), sessionID); err != nil {
				return err
			}
			sess, err := st.GetSessionByID(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queries=%d results=%d reviewed=%d included=%d\n",
				sess.TotalQueries, sess.TotalResults, sess.ReviewedResults, sess.IncludedResults)
			return nil
		},
	}
	recount.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = recount.MarkFlagRequired("session")

	cmd.AddCommand(grant, recount)
	return cmd
}
