package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/tcfw/rambd/fs/drivers/block"
)

type deviceInfo struct {
	Compat     string `yaml:"compat"`
	Sectors    uint64 `yaml:"sectors"`
	SectorSize uint64 `yaml:"sectorSize"`
	Bytes      uint64 `yaml:"bytes"`
	Workers    int    `yaml:"workers"`
	QueueDepth int    `yaml:"queueDepth"`
	Locking    bool   `yaml:"locking"`
}

func (a *app) infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "print the geometry of the configured devices",
		Action: func(c *cli.Context) error {
			infos := make([]deviceInfo, 0, len(a.cfg.Devices))
			for _, d := range a.cfg.Devices {
				infos = append(infos, deviceInfo{
					Compat:     d.Compat,
					Sectors:    d.Sectors,
					SectorSize: block.SectorSize,
					Bytes:      d.Sectors * block.SectorSize,
					Workers:    d.Workers,
					QueueDepth: d.QueueDepth,
					Locking:    d.Locking,
				})
			}

			data, err := yaml.Marshal(map[string]interface{}{"devices": infos})
			if err != nil {
				return errors.Wrap(err, "marshaling device info")
			}

			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}
