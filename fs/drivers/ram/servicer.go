package ram

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/internal/log"
)

// Servicer validates requests against the store's capacity and performs
// their segment copies on the calling goroutine.
//
// By default no locking is done: concurrent requests touching overlapping
// byte ranges may interleave their segment copies in any order, and keeping
// overlapping requests apart is the caller's job. WithLocking serialises
// writers against everything else instead. Neither mode orders requests.
type Servicer struct {
	store  *Store
	logger *slog.Logger

	locking bool
	mu      sync.RWMutex
}

type ServicerOption func(*Servicer)

// WithLocking makes reads share and writes/trims exclude a device wide lock.
func WithLocking() ServicerOption {
	return func(s *Servicer) {
		s.locking = true
	}
}

func WithLogger(logger *slog.Logger) ServicerOption {
	return func(s *Servicer) {
		s.logger = logger
	}
}

func NewServicer(store *Store, opts ...ServicerOption) *Servicer {
	s := &Servicer{store: store}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.For(s.logger, log.ComponentServicer)

	return s
}

func (s *Servicer) Store() *Store {
	return s.store
}

// Service runs a single request to completion. A request whose end sector
// lies past the device is rejected before the store is touched. A segment
// whose buffer cannot be addressed aborts the request with the segments
// before it already transferred.
func (s *Servicer) Service(req *block.IORequest) (block.Outcome, error) {
	err := s.service(req)
	outcome := block.OutcomeOf(err)

	if err != nil {
		s.logger.Debug("request failed",
			"id", req.ID,
			"type", req.RequestType.String(),
			"sector", req.Sector,
			"outcome", outcome.String(),
			"err", err)
	}

	return outcome, err
}

func (s *Servicer) service(req *block.IORequest) error {
	switch req.RequestType {
	case block.IORequestTypeRead, block.IORequestTypeWrite, block.IORequestTypeTrim:
	case block.IORequestTypeFlush:
		//nothing is cached in front of memory
		return nil
	default:
		return errors.Wrapf(block.ErrOperationNotSupported, "request type %d", req.RequestType)
	}

	if req.RequestType != block.IORequestTypeTrim && len(req.Segments) == 0 {
		return nil
	}

	if err := s.validate(req); err != nil {
		return err
	}

	if s.locking {
		if req.RequestType == block.IORequestTypeRead {
			s.mu.RLock()
			defer s.mu.RUnlock()
		} else {
			s.mu.Lock()
			defer s.mu.Unlock()
		}
	}

	cursor := req.Sector * block.SectorSize

	if req.RequestType == block.IORequestTypeTrim {
		s.store.Zero(cursor, req.Length)
		return nil
	}

	for i, seg := range req.Segments {
		if !seg.Mapped() {
			return errors.Wrapf(block.ErrIOError, "segment %d: buffer of %d bytes cannot hold %d", i, len(seg.Data), seg.Length)
		}

		if req.RequestType == block.IORequestTypeWrite {
			s.store.WriteAt(cursor, seg.Data[:seg.Length])
		} else {
			s.store.ReadInto(cursor, seg.Data[:seg.Length])
		}

		cursor += seg.Length
	}

	return nil
}

// validate applies the end sector bound once for the whole request. Segment
// lengths are summed against the remaining capacity so a huge length cannot
// wrap the total. Sector rounding is upward, so an end sector inside the
// device also keeps every per-segment cursor inside the store.
func (s *Servicer) validate(req *block.IORequest) error {
	sectors := s.store.Sectors()

	if req.Sector > sectors {
		return errors.Wrapf(block.ErrOutOfRange, "start sector %d past %d sectors", req.Sector, sectors)
	}

	room := s.store.Capacity() - req.Sector*block.SectorSize

	if req.RequestType == block.IORequestTypeTrim {
		if req.Length > room {
			return errors.Wrapf(block.ErrOutOfRange, "trim of %d bytes exceeds device", req.Length)
		}
	} else {
		var total uint64
		for i, seg := range req.Segments {
			if seg.Length > room-total {
				return errors.Wrapf(block.ErrOutOfRange, "segment %d: %d bytes exceed device", i, seg.Length)
			}
			total += seg.Length
		}
	}

	if end := req.EndSector(); end > sectors {
		return errors.Wrapf(block.ErrOutOfRange, "end sector %d past %d sectors", end, sectors)
	}

	return nil
}
