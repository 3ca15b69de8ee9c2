package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/tcfw/rambd/fs/devices"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/fs/drivers/ram"
	"github.com/tcfw/rambd/fs/filesystems"
	"github.com/tcfw/rambd/fs/partition"
	"github.com/tcfw/rambd/internal/log"
)

// sectors per write request when loading an image
const loadChunkSectors = 64

type partitionReport struct {
	Name        string `yaml:"name"`
	FileSystem  string `yaml:"fileSystem"`
	StartSector uint64 `yaml:"startSector"`
	Sectors     uint64 `yaml:"sectors"`
	Label       string `yaml:"label,omitempty"`
	OEMName     string `yaml:"oemName,omitempty"`
	Serial      string `yaml:"serial,omitempty"`
	ClusterSize uint32 `yaml:"clusterSize,omitempty"`
	FSSectors   uint32 `yaml:"fsSectors,omitempty"`
}

type imageReport struct {
	Image      string            `yaml:"image"`
	Device     string            `yaml:"device"`
	Serial     string            `yaml:"serial"`
	Sectors    uint64            `yaml:"sectors"`
	Partitions []partitionReport `yaml:"partitions"`
}

func (a *app) inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "load a disk image into a ram device and list its MBR partitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path to a raw disk image",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			report, err := a.inspect(a.ctx(c), c.String("image"))
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(report)
			if err != nil {
				return errors.Wrap(err, "marshaling report")
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

func (a *app) inspect(ctx context.Context, path string) (*imageReport, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading image")
	}
	if len(image) == 0 {
		return nil, errors.Errorf("image %s is empty", path)
	}

	sectors := (uint64(len(image)) + block.SectorSize - 1) / block.SectorSize

	drv, err := ram.New(ram.Config{
		Sectors:    sectors,
		Workers:    a.cfg.Workers,
		QueueDepth: a.cfg.QueueDepth,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	defer drv.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go drv.Watch(ctx)

	if err := loadImage(ctx, drv, image); err != nil {
		return nil, err
	}

	dev := &devices.Device{
		Name:        devices.ReservedName("rambd"),
		DeviceType:  devices.DeviceTypeBlock,
		BlockDevice: drv,
	}
	devices.RegisterDevice(dev)
	defer devices.UnregisterDevice(dev.Name)

	parts, err := partition.DiscoverMBRPartitions(ctx, dev)
	if err != nil {
		return nil, err
	}

	report := &imageReport{
		Image:      path,
		Device:     dev.Name,
		Serial:     drv.Serial().String(),
		Sectors:    drv.Sectors(),
		Partitions: []partitionReport{},
	}

	logger := log.For(a.logger, log.ComponentCLI)

	for _, pdev := range parts {
		defer devices.UnregisterDevice(pdev.Name)

		p := pdev.BlockPartition.(*partition.Partition)
		pr := partitionReport{
			Name:        pdev.Name,
			FileSystem:  p.Type.String(),
			StartSector: p.StartSector,
			Sectors:     p.SectorCount,
		}

		if p.Type == filesystems.FileSystemFAT16 {
			sb := make(filesystems.FAT16SuperBlock, block.SectorSize)
			if err := partition.ReadSector(ctx, p, 0, sb); err != nil {
				logger.Warn("reading boot sector", "partition", pdev.Name, "error", err)
			} else if sb.Valid() {
				pr.Label = sb.Label()
				pr.OEMName = sb.OEMName()
				pr.Serial = fmt.Sprintf("%08X", sb.SerialNumber())
				pr.ClusterSize = uint32(sb.BytesPerSector()) * uint32(sb.SectorsPerCluster())
				pr.FSSectors = sb.TotalSectors()
			}
		}

		report.Partitions = append(report.Partitions, pr)
	}

	return report, nil
}

// loadImage writes image to the start of drv, one multi segment request per
// chunk. The final sector is zero padded.
func loadImage(ctx context.Context, drv *ram.Driver, image []byte) error {
	var sector uint64

	for off := 0; off < len(image); {
		segs := make([][]byte, 0, loadChunkSectors)
		for len(segs) < loadChunkSectors && off < len(image) {
			end := off + block.SectorSize
			var seg []byte
			if end > len(image) {
				seg = make([]byte, block.SectorSize)
				copy(seg, image[off:])
			} else {
				seg = image[off:end]
			}
			segs = append(segs, seg)
			off = end
		}

		req := block.NewRequest(block.IORequestTypeWrite, sector, segs...)
		if _, err := drv.Submit(ctx, &req); err != nil {
			return errors.Wrapf(err, "loading image at sector %d", sector)
		}
		sector += uint64(len(segs))
	}

	return nil
}
