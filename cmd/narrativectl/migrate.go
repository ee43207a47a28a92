package main

import (
	"errors"

	"github.com/narrativeiq/backend/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Apply pending database migrations",
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := v.GetString("database-url")
			if url == "" {
				return errors.New("--database-url is required")
			}
			return server.RunMigrations(url, v.GetString("migrations-dir"))
		},
	}
	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().String("migrations-dir", "migrations", "directory with the SQL migrations")
	return cmd
}
