package cli

import (
	"github.com/spf13/cobra"

	"chat-sync/internal/db"
)

// NewMigrateCommand applies the schema and exits.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users, messages, friends and revoked_sessions tables",
		Args:  cobra.NoArgs,
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
			return database.Close()
		},
	}
}
