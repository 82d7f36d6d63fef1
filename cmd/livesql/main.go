// Command livesql serves SQL live queries over a document store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/config"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the configuration shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configFile string
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.New()}
	root := &cobra.Command{
		Use:           "livesql",
		Short:         "Live SQL queries over a document store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (yaml, json or toml)")
	pf.String("backend", "", "store backend: memory or postgres")
	pf.String("dsn", "", "postgres connection string")
	pf.String("root", "", "collection prefix for FROM")
	pf.String("union-ordering", "", "UNION ORDER BY attribution: whole or last-branch")
	pf.String("log-level", "", "log level")
	for key, flag := range map[string]string{
		"store.backend":         "backend",
		"store.dsn":             "dsn",
		"engine.root":           "root",
		"engine.union_ordering": "union-ordering",
		"log.level":             "log-level",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(c.serveCommand(), c.explainCommand(), c.seedCommand())
	return root
}

// load reads the config and installs the global logger.
func (c *cli) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}
