package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/truenorth/internal/server"
	"github.com/victornm/truenorth/internal/store/postgres/migrations"
)

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP, WebSocket and gRPC health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if migrate && c.Storage.Driver == server.DriverPostgres {
				if err := migrations.Up(cmd.Context(), c.PostgresDSN()); err != nil {
					return err
				}
			}

			s, err := server.Init(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			go s.Start(ctx)

			<-ctx.Done()
			s.Shutdown()
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply postgres migrations before serving")
	return cmd
}
