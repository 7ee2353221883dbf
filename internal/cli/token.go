package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chat-sync/internal/db"
	"chat-sync/internal/repositories"
	"chat-sync/internal/session"
)

// NewTokenCommand issues a session token for an existing user.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		Example: `  chat-sync token --user U1
  SESSION_TOKEN=$(chat-sync token --user U1) chat-sync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer log.Sync()
			database, err := db.Connect(cmd.Context(), cfg.DBDriver, cfg.DBDSN, log)
			if err != nil {
				return err
			}
			defer database.Close()

			users := repositories.NewUserRepo(database)
			if _, err := users.GetUser(cmd.Context(), userID); err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
			sessions := session.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL, repositories.NewSessionRepo(database), users)
			token, err := sessions.Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
