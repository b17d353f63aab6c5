package main

import (
	"fmt"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/truenorth/internal/config"
	"github.com/victornm/truenorth/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not found, using the environment as is")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "truenorth",
		Short:         "True North or Not: timed Canada-or-USA quiz with daily leaderboards",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config (env CONFIG_PATH)")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newSeedCmd(&configPath))
	return cmd
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
