package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zoravur/livesql/internal/query"
	"github.com/zoravur/livesql/pkg/sqlast"
)

func (c *cli) explainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "explain SQL",
		Short: "Print the native queries a statement translates to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.load()
			if err != nil {
				return err
			}
			st, err := sqlast.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			p, err := query.NewPlan(cfg.Engine.Root, st, cfg.QueryOptions())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), p.Explain())
			return nil
		},
	}
}
