package fs

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tcfw/rambd/fs/devices"
	"github.com/tcfw/rambd/fs/drivers"
	"github.com/tcfw/rambd/internal/config"
	"github.com/tcfw/rambd/internal/log"
	"github.com/tcfw/rambd/utils"
)

// namePrefix maps a compat string onto the prefix used for device names.
func namePrefix(compat string) string {
	if strings.HasPrefix(compat, "ram,") {
		return "rambd"
	}
	prefix, _, _ := strings.Cut(compat, ",")
	return prefix
}

// Setup creates and registers a block device for every configured entry.
// Devices created before a failure are torn down again.
func Setup(ctx context.Context, cfgs []config.Device) ([]*devices.Device, error) {
	logger := log.For(log.FromContext(ctx), log.ComponentDevice)
	created := []*devices.Device{}

	for i, cfg := range cfgs {
		dev, err := setupDevice(ctx, uint32(i), cfg)
		if err != nil {
			teardown(created)
			return nil, errors.Wrapf(err, "setting up device %d (%s)", i, cfg.Compat)
		}
		created = append(created, dev)
	}

	logger.Info("devices ready", "count", len(created))

	return created, nil
}

func setupDevice(ctx context.Context, id uint32, cfg config.Device) (*devices.Device, error) {
	initFn, found := drivers.FindDeviceDriver(cfg.Compat)
	if !found {
		return nil, errors.Errorf("no driver for compat %q (have %v)", cfg.Compat, drivers.Compats())
	}

	info := utils.DevInfo{
		ID:      id,
		Name:    devices.ReservedName(namePrefix(cfg.Compat)),
		Compat:  cfg.Compat,
		Sectors: cfg.Sectors,
		Props: map[string]string{
			"workers":     strconv.Itoa(cfg.Workers),
			"queue-depth": strconv.Itoa(cfg.QueueDepth),
			"locking":     strconv.FormatBool(cfg.Locking),
		},
	}

	bdev, err := initFn(ctx, info)
	if err != nil {
		return nil, errors.Wrap(err, "initialising driver")
	}

	dev := &devices.Device{
		Name:        info.Name,
		DeviceType:  devices.DeviceTypeBlock,
		BlockDevice: bdev,
	}
	devices.RegisterDevice(dev)

	return dev, nil
}

// Teardown unregisters every block device and its partitions and releases
// the drivers.
func Teardown() error {
	var block []*devices.Device
	for _, dev := range devices.GetDevices() {
		if dev.DeviceType == devices.DeviceTypeBlock {
			block = append(block, dev)
		} else {
			devices.UnregisterDevice(dev.Name)
		}
	}

	return teardown(block)
}

func teardown(devs []*devices.Device) error {
	var firstErr error
	for _, dev := range devs {
		devices.UnregisterDevice(dev.Name)
		if err := dev.BlockDevice.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing %s", dev.Name)
		}
	}
	return firstErr
}
