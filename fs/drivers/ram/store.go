package ram

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/utils"
)

// Store is the device's backing memory: a zero initialised region of
// sectors*block.SectorSize bytes. It does no locking of its own and trusts
// callers to stay inside Capacity; out of range access is a programming
// error and panics.
type Store struct {
	data    []byte
	sectors uint64
}

// NewStore maps a fresh region large enough for the given number of sectors.
func NewStore(sectors uint64) (*Store, error) {
	if sectors == 0 {
		return nil, errors.New("store must have at least one sector")
	}
	if sectors > ^uint64(0)/block.SectorSize {
		return nil, errors.Errorf("sector count %d overflows capacity", sectors)
	}

	data, err := utils.MemMap(sectors*block.SectorSize, utils.MMAP_READ|utils.MMAP_WRITE)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %d sectors", sectors)
	}

	return &Store{data: data, sectors: sectors}, nil
}

func (s *Store) Sectors() uint64 {
	return s.sectors
}

func (s *Store) Capacity() uint64 {
	return s.sectors * block.SectorSize
}

func (s *Store) check(offset, length uint64) {
	if offset > s.Capacity() || length > s.Capacity()-offset {
		panic(fmt.Sprintf("ram: access [%d, %d) outside store of %d bytes", offset, offset+length, s.Capacity()))
	}
}

// ReadAt returns a copy of length bytes starting at offset.
func (s *Store) ReadAt(offset, length uint64) []byte {
	s.check(offset, length)

	b := make([]byte, length)
	copy(b, s.data[offset:offset+length])
	return b
}

// ReadInto fills dst from the store starting at offset.
func (s *Store) ReadInto(offset uint64, dst []byte) {
	s.check(offset, uint64(len(dst)))

	copy(dst, s.data[offset:])
}

// WriteAt overwrites len(p) bytes starting at offset.
func (s *Store) WriteAt(offset uint64, p []byte) {
	s.check(offset, uint64(len(p)))

	copy(s.data[offset:], p)
}

// Zero clears length bytes starting at offset.
func (s *Store) Zero(offset, length uint64) {
	s.check(offset, length)

	clear(s.data[offset : offset+length])
}

// Close releases the backing region. The store must not be used afterwards.
func (s *Store) Close() error {
	data := s.data
	s.data = nil
	s.sectors = 0

	if err := utils.MemUnmap(data); err != nil {
		return errors.Wrap(err, "releasing store memory")
	}
	return nil
}
