package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/fs/drivers/ram"
	"github.com/tcfw/rambd/internal/log"
)

type benchOptions struct {
	Requests    int
	Concurrency int
	SegmentSize int
	Segments    int
}

type benchResult struct {
	Requests    int     `yaml:"requests"`
	Concurrency int     `yaml:"concurrency"`
	Bytes       uint64  `yaml:"bytes"`
	Elapsed     string  `yaml:"elapsed"`
	MiBPerSec   float64 `yaml:"mibPerSec"`
	Sectors     uint64  `yaml:"sectors"`
}

func (a *app) benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "write and verify random data on a scratch ram device",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "requests", Aliases: []string{"n"}, Value: 10000, Usage: "write requests per worker"},
			&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "concurrent submitters, each on its own region"},
			&cli.IntFlag{Name: "segment-size", Value: block.SectorSize, Usage: "bytes per segment, a multiple of 512"},
			&cli.IntFlag{Name: "segments", Value: 4, Usage: "segments per request"},
		},
		Action: func(c *cli.Context) error {
			res, err := a.bench(a.ctx(c), benchOptions{
				Requests:    c.Int("requests"),
				Concurrency: c.Int("concurrency"),
				SegmentSize: c.Int("segment-size"),
				Segments:    c.Int("segments"),
			})
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(res)
			if err != nil {
				return errors.Wrap(err, "marshaling result")
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

func (o benchOptions) validate() error {
	if o.Requests <= 0 || o.Concurrency <= 0 || o.Segments <= 0 {
		return errors.New("requests, concurrency and segments must be positive")
	}
	if o.SegmentSize <= 0 || o.SegmentSize%block.SectorSize != 0 {
		return errors.Errorf("segment size %d is not a positive multiple of %d", o.SegmentSize, block.SectorSize)
	}
	return nil
}

// bench gives every submitter a private region of the device so that the
// read back of each write is deterministic without device locking.
func (a *app) bench(ctx context.Context, o benchOptions) (*benchResult, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	reqSectors := uint64(o.SegmentSize*o.Segments) / block.SectorSize
	regionSectors := reqSectors * 16
	sectors := regionSectors * uint64(o.Concurrency)

	drv, err := ram.New(ram.Config{
		Sectors:    sectors,
		Workers:    a.cfg.Workers,
		QueueDepth: a.cfg.QueueDepth,
		Locking:    a.cfg.Locking,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	defer drv.Close()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go drv.Watch(wctx)

	logger := log.For(a.logger, log.ComponentCLI)
	logger.Info("starting bench",
		"requests", o.Requests,
		"concurrency", o.Concurrency,
		"segmentSize", o.SegmentSize,
		"segments", o.Segments)

	start := time.Now()

	g, gctx := errgroup.WithContext(wctx)
	for w := 0; w < o.Concurrency; w++ {
		base := uint64(w) * regionSectors
		seed := uint64(w) + 1
		g.Go(func() error {
			return benchWorker(gctx, drv, o, base, regionSectors/reqSectors, seed)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	total := uint64(o.Requests*o.Concurrency) * reqSectors * block.SectorSize

	return &benchResult{
		Requests:    o.Requests * o.Concurrency,
		Concurrency: o.Concurrency,
		Bytes:       total,
		Elapsed:     elapsed.String(),
		MiBPerSec:   float64(total) / (1 << 20) / elapsed.Seconds(),
		Sectors:     sectors,
	}, nil
}

func benchWorker(ctx context.Context, drv *ram.Driver, o benchOptions, base, slots, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed*7919))

	segs := make([][]byte, o.Segments)
	back := make([][]byte, o.Segments)
	for i := range segs {
		segs[i] = make([]byte, o.SegmentSize)
		back[i] = make([]byte, o.SegmentSize)
	}
	reqSectors := uint64(o.SegmentSize*o.Segments) / block.SectorSize

	for n := 0; n < o.Requests; n++ {
		for _, s := range segs {
			for i := range s {
				s[i] = byte(rng.Uint32())
			}
		}
		sector := base + rng.Uint64N(slots)*reqSectors

		wr := block.NewRequest(block.IORequestTypeWrite, sector, segs...)
		if _, err := drv.Submit(ctx, &wr); err != nil {
			return errors.Wrapf(err, "write at sector %d", sector)
		}

		rd := block.NewRequest(block.IORequestTypeRead, sector, back...)
		if _, err := drv.Submit(ctx, &rd); err != nil {
			return errors.Wrapf(err, "read at sector %d", sector)
		}

		for i := range segs {
			if !bytes.Equal(segs[i], back[i]) {
				return errors.Errorf("segment %d at sector %d read back different data", i, sector)
			}
		}
	}

	return nil
}
