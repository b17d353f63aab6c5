package main

import (
	"github.com/spf13/cobra"

	"github.com/victornm/truenorth/internal/server"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var catalog string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the question catalog into an empty question table",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if catalog == "" {
				catalog = c.Question.Catalog
			}

			st, err := server.OpenStore(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer st.Close()

			return server.SeedQuestions(cmd.Context(), st, catalog)
		},
	}

	cmd.Flags().StringVar(&catalog, "catalog", "", "YAML catalog to load instead of the built-in one")
	return cmd
}
