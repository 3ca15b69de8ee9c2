package main

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tcfw/rambd/fs"
	"github.com/tcfw/rambd/internal/log"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "create the configured devices and service requests until interrupted",
		Action: func(c *cli.Context) error {
			ctx := a.ctx(c)
			logger := log.For(a.logger, log.ComponentCLI)

			devs, err := fs.Setup(ctx, a.cfg.Devices)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			for _, dev := range devs {
				bdev := dev.BlockDevice
				g.Go(func() error {
					return bdev.Watch(gctx)
				})
			}

			logger.Info("serving", "devices", len(devs))

			err = g.Wait()
			logger.Info("shutting down")

			if terr := fs.Teardown(); terr != nil && err == nil {
				err = terr
			}
			return err
		},
	}
}
