package devices

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tcfw/rambd/fs/drivers"
)

type DeviceType uint

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeBlock
	DeviceTypeBlockPartition
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeBlock:
		return "block"
	case DeviceTypeBlockPartition:
		return "partition"
	default:
		return "unknown"
	}
}

var (
	devices   = []*Device{}
	devicesMu sync.Mutex

	deviceNameCount   = map[string]*atomic.Uint32{}
	deviceNameCountMu sync.Mutex
)

// ReservedName hands out the next free name for a device prefix, e.g.
// rambd0, rambd1.
func ReservedName(devType string) string {
	deviceNameCountMu.Lock()
	lastCount, ok := deviceNameCount[devType]
	if !ok {
		lastCount = &atomic.Uint32{}
		deviceNameCount[devType] = lastCount
	}
	deviceNameCountMu.Unlock()

	n := lastCount.Add(1)

	return devType + strconv.Itoa(int(n-1))
}

type Device struct {
	Name           string
	DeviceType     DeviceType
	BlockDevice    drivers.BlockDriver
	BlockPartition drivers.BlockQueuer
}

// Queuer returns whichever block interface the device exposes.
func (d *Device) Queuer() drivers.BlockQueuer {
	if d.DeviceType == DeviceTypeBlockPartition {
		return d.BlockPartition
	}
	return d.BlockDevice
}

func GetDevices() []*Device {
	devicesMu.Lock()
	defer devicesMu.Unlock()

	return append([]*Device(nil), devices...)
}

func GetDevice(name string) *Device {
	devicesMu.Lock()
	defer devicesMu.Unlock()

	for _, dev := range devices {
		if dev.Name == name {
			return dev
		}
	}

	return nil
}

func RegisterDevice(dev *Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()

	devices = append(devices, dev)
	slog.Info("registered device", "component", "device", "name", dev.Name, "type", dev.DeviceType.String())
}

// UnregisterDevice removes a device by name, reporting whether it existed.
func UnregisterDevice(name string) bool {
	devicesMu.Lock()
	defer devicesMu.Unlock()

	for i, dev := range devices {
		if dev.Name == name {
			devices = append(devices[:i], devices[i+1:]...)
			slog.Info("unregistered device", "component", "device", "name", name)
			return true
		}
	}

	return false
}

// Reset drops every registered device and name reservation.
func Reset() {
	devicesMu.Lock()
	devices = []*Device{}
	devicesMu.Unlock()

	deviceNameCountMu.Lock()
	deviceNameCount = map[string]*atomic.Uint32{}
	deviceNameCountMu.Unlock()
}
