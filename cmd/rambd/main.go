package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tcfw/rambd/internal/config"
	"github.com/tcfw/rambd/internal/log"

	_ "github.com/tcfw/rambd/fs/drivers/ram"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// ctx returns the command context carrying the configured logger.
func (a *app) ctx(c *cli.Context) context.Context {
	return log.Context(c.Context, a.logger)
}

func (a *app) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := log.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func newApp() *cli.App {
	a := &app{}

	return &cli.App{
		Name:  "rambd",
		Usage: "a RAM backed block device",
		Description: "rambd creates fixed size, sector addressed block devices " +
			"whose contents live in memory for the lifetime of the process",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"RAMBD_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.infoCommand(),
			a.inspectCommand(),
			a.benchCommand(),
			a.serveCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rambd: %v\n", err)
		os.Exit(1)
	}
}
