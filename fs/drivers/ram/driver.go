package ram

import (
	"context"
	"encoding/binary"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tcfw/rambd/fs/drivers"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/internal/log"
	"github.com/tcfw/rambd/utils"
)

const (
	Compat = "ram,block-device"

	DefaultSectors    = 1024 * 1024 // 512 MiB
	DefaultQueueDepth = 128

	tagSize = 8
)

var ErrAlreadyWatching = errors.New("driver is already watching its queue")

func init() {
	drivers.RegisterDriver(Compat, InitRAMDevice)
}

// InitRAMDevice builds a RAM driver from device info. Recognised properties
// are "workers", "queue-depth" and "locking".
func InitRAMDevice(ctx context.Context, info utils.DevInfo) (drivers.BlockDriver, error) {
	return New(Config{
		Sectors:    info.Sectors,
		Workers:    info.PropInt("workers", 0),
		QueueDepth: info.PropInt("queue-depth", 0),
		Locking:    info.PropBool("locking"),
		Logger:     log.FromContext(ctx).With("device", info.Name),
	})
}

type Config struct {
	Sectors    uint64
	Workers    int
	QueueDepth int
	Locking    bool
	Logger     *slog.Logger
}

type pendingRequest struct {
	req  *block.IORequest
	comp chan<- block.IOResponse
}

// heldResponse is a serviced request whose completion channel was not
// ready when the workers stopped.
type heldResponse struct {
	resp block.IOResponse
	comp chan<- block.IOResponse
}

// Driver exposes a Servicer through a submission queue drained by a pool
// of workers. Every accepted request is answered exactly once on the
// completion channel it was enqueued with; requests are not ordered
// relative to each other.
type Driver struct {
	serial   uuid.UUID
	servicer *Servicer
	queue    *utils.Ring
	workers  int
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[uint64]pendingRequest
	held     []heldResponse
	nextTag  uint64
	cancel   context.CancelFunc
	running  sync.WaitGroup
	inflight atomic.Int64
}

func New(cfg Config) (*Driver, error) {
	if cfg.Sectors == 0 {
		cfg.Sectors = DefaultSectors
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	logger := log.For(cfg.Logger, log.ComponentDriver)

	store, err := NewStore(cfg.Sectors)
	if err != nil {
		return nil, errors.Wrap(err, "creating ram store")
	}

	opts := []ServicerOption{WithLogger(cfg.Logger)}
	if cfg.Locking {
		opts = append(opts, WithLocking())
	}

	d := &Driver{
		serial:   uuid.New(),
		servicer: NewServicer(store, opts...),
		queue:    utils.NewRing(tagSize, uint64(cfg.QueueDepth)),
		workers:  cfg.Workers,
		logger:   logger,
		pending:  make(map[uint64]pendingRequest, cfg.QueueDepth),
	}

	logger.Info("ram device created",
		"serial", d.serial.String(),
		"sectors", cfg.Sectors,
		"bytes", store.Capacity(),
		"workers", cfg.Workers,
		"queueDepth", cfg.QueueDepth,
		"locking", cfg.Locking)

	return d, nil
}

func (d *Driver) Serial() uuid.UUID {
	return d.serial
}

func (d *Driver) Servicer() *Servicer {
	return d.servicer
}

func (d *Driver) BlockSize() uint64 {
	return block.SectorSize
}

func (d *Driver) Sectors() uint64 {
	return d.servicer.Store().Sectors()
}

func (d *Driver) Capacity() uint64 {
	return d.servicer.Store().Capacity()
}

func (d *Driver) IsBusy() bool {
	return d.inflight.Load() > 0 || !d.queue.Empty()
}

func (d *Driver) QueueSize() uint64 {
	return d.queue.Len
}

// Enqueue queues reqs for the workers and returns how many were accepted.
// The requests must stay valid until their responses arrive on comp.
func (d *Driver) Enqueue(reqs []block.IORequest, comp chan<- block.IOResponse) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return 0, errors.Wrap(block.ErrIOError, "device closed")
	}

	var tag [tagSize]byte
	for i := range reqs {
		t := d.nextTag
		binary.LittleEndian.PutUint64(tag[:], t)

		d.pending[t] = pendingRequest{req: &reqs[i], comp: comp}
		if !d.queue.Push(tag[:]) {
			delete(d.pending, t)
			return i, block.ErrQueueFull
		}
		d.nextTag++
	}

	return len(reqs), nil
}

// Submit enqueues a single request and waits for its outcome.
func (d *Driver) Submit(ctx context.Context, req *block.IORequest) (block.Outcome, error) {
	comp := make(chan block.IOResponse, 1)

	if _, err := d.Enqueue([]block.IORequest{*req}, comp); err != nil {
		return block.OutcomeIOError, err
	}

	select {
	case resp := <-comp:
		return resp.Outcome, resp.Err
	case <-ctx.Done():
		return block.OutcomeIOError, ctx.Err()
	}
}

// Watch runs the workers until ctx is done or StopWatch is called. A
// response that cannot be delivered before then is held and retried by the
// next Watch or by Close.
func (d *Driver) Watch(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return ErrAlreadyWatching
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running.Add(1)
	held := d.held
	d.held = nil
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
		d.running.Done()
	}()

	d.logger.Debug("starting workers", "workers", d.workers)

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range held {
		g.Go(func() error {
			d.deliver(gctx, h.comp, h.resp)
			return nil
		})
	}
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			return d.work(gctx)
		})
	}

	return g.Wait()
}

func (d *Driver) StopWatch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Driver) work(ctx context.Context) error {
	tag := make([]byte, tagSize)

	for {
		if err := d.queue.PullToWait(ctx, tag); err != nil {
			return nil
		}

		d.mu.Lock()
		t := binary.LittleEndian.Uint64(tag)
		p, ok := d.pending[t]
		delete(d.pending, t)
		d.mu.Unlock()

		if !ok {
			d.logger.Warn("dropping unknown request tag", "tag", t)
			continue
		}

		d.inflight.Add(1)
		outcome, err := d.servicer.Service(p.req)
		d.inflight.Add(-1)

		if !d.deliver(ctx, p.comp, block.IOResponse{Req: p.req, Outcome: outcome, Err: err}) {
			return nil
		}
	}
}

// deliver sends resp on comp, holding it on the driver if ctx ends first.
func (d *Driver) deliver(ctx context.Context, comp chan<- block.IOResponse, resp block.IOResponse) bool {
	select {
	case comp <- resp:
		return true
	case <-ctx.Done():
	}

	d.mu.Lock()
	d.held = append(d.held, heldResponse{resp: resp, comp: comp})
	d.mu.Unlock()

	d.logger.Debug("holding response until restart", "id", resp.Req.ID)
	return false
}

// Close stops the workers, hands over held responses, fails anything still
// queued and releases the backing memory. Completion channels need room for
// these responses or they are dropped.
func (d *Driver) Close() error {
	d.StopWatch()
	d.running.Wait()

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	held := d.held
	d.held = nil
	d.mu.Unlock()

	for _, h := range held {
		select {
		case h.comp <- h.resp:
		default:
			d.logger.Warn("response dropped on close", "id", h.resp.Req.ID)
		}
	}

	for _, p := range pending {
		select {
		case p.comp <- block.IOResponse{Req: p.req, Outcome: block.OutcomeIOError, Err: errors.Wrap(block.ErrIOError, "device closed")}:
		default:
		}
	}

	d.logger.Info("ram device released", "serial", d.serial.String())

	return d.servicer.Store().Close()
}
