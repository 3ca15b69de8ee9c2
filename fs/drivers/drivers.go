package drivers

import (
	"context"
	"sort"
	"sync"

	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/utils"
)

var (
	drivers   = map[string]BlockInitFn{}
	driversMu sync.RWMutex
)

type BlockInitFn func(context.Context, utils.DevInfo) (BlockDriver, error)

// BlockQueuer accepts block requests and reports each one exactly once on comp.
type BlockQueuer interface {
	BlockSize() uint64
	Sectors() uint64
	Enqueue(reqs []block.IORequest, comp chan<- block.IOResponse) (int, error)
}

type BlockDriver interface {
	BlockQueuer
	IsBusy() bool
	QueueSize() uint64
	Watch(ctx context.Context) error
	StopWatch()
	Close() error
}

func RegisterDriver(compat string, driver BlockInitFn) {
	driversMu.Lock()
	defer driversMu.Unlock()

	drivers[compat] = driver
}

func FindDeviceDriver(compat string) (BlockInitFn, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	driver, ok := drivers[compat]
	return driver, ok
}

// Compats lists the registered compat strings in order.
func Compats() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	c := make([]string, 0, len(drivers))
	for k := range drivers {
		c = append(c, k)
	}
	sort.Strings(c)
	return c
}
