package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/app"
	"github.com/zoravur/livesql/internal/fixture"
)

func (c *cli) serveCommand() *cobra.Command {
	var seed fixture.Options
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return err
			}
			if seed.Items > 0 || seed.People > 0 {
				seed.Logger = log
				if err := fixture.Seed(ctx, srv.Store(), cfg.Engine.Root, seed); err != nil {
					log.Error("seeding failed", zap.Error(err))
				}
			}
			return srv.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "listen address")
	f.String("static", "", "directory served at /")
	f.String("feed", "", "postgres change feed: notify, wal or none")
	_ = c.v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = c.v.BindPFlag("http.static_dir", f.Lookup("static"))
	_ = c.v.BindPFlag("store.feed", f.Lookup("feed"))
	f.IntVar(&seed.Items, "seed-items", 0, "sample items written at startup")
	f.IntVar(&seed.People, "seed-people", 0, "sample people written at startup")
	f.Int64Var(&seed.Seed, "seed", 1, "fixture seed")
	return cmd
}
