package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/truenorth/internal/server"
	"github.com/victornm/truenorth/internal/store/postgres/migrations"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if c.Storage.Driver != server.DriverPostgres {
				return fmt.Errorf("migrate needs storage.driver=%s, got %q", server.DriverPostgres, c.Storage.Driver)
			}

			return migrations.Up(cmd.Context(), c.PostgresDSN())
		},
	}
}
