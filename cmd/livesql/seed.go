package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zoravur/livesql/internal/app"
	"github.com/zoravur/livesql/internal/fixture"
)

func (c *cli) seedCommand() *cobra.Command {
	var opts fixture.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write sample items and people to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			if cfg.Store.Backend == "memory" {
				log.Warn("seeding the memory backend; documents vanish on exit")
			}
			ctx := context.Background()
			s, err := app.OpenStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			opts.Logger = log
			return fixture.Seed(ctx, s, cfg.Engine.Root, opts)
		},
	}
	cmd.Flags().IntVar(&opts.Items, "items", 50, "number of items")
	cmd.Flags().IntVar(&opts.People, "people", 20, "number of people")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "key seed")
	return cmd
}
