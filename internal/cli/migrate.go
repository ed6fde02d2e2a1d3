package cli

import (
	"github.com/spf13/cobra"

	"github.com/victornm/trivia/internal/history"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the game history schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if rollback {
				return history.Rollback(cmd.Context(), c.Postgres.DSN())
			}

			return history.Migrate(cmd.Context(), c.Postgres.DSN())
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the last applied migration group")

	return cmd
}
