package partition

import (
	"github.com/pkg/errors"

	"github.com/tcfw/rambd/fs/drivers"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/fs/filesystems"
)

type PartitionAttributes uint64

const (
	PartitionAttributeFirmware PartitionAttributes = iota + 1
	PartitionAttributeActive
)

// Partition is a window of sectors on a parent device. Requests are checked
// against the window, shifted by its start and forwarded to the parent.
type Partition struct {
	drivers.BlockQueuer
	Type        filesystems.FileSystemType
	StartSector uint64
	SectorCount uint64
	Attributes  PartitionAttributes
}

var _ drivers.BlockQueuer = (*Partition)(nil)

func (p *Partition) Sectors() uint64 {
	return p.SectorCount
}

func (p *Partition) StartOffset() uint64 {
	return p.StartSector * p.BlockSize()
}

func (p *Partition) EndOffset() uint64 {
	return (p.StartSector + p.SectorCount) * p.BlockSize()
}

// Enqueue forwards each request to the parent device. Responses carry the
// shifted copy of the request; ID and Ctx are preserved. Requests with no
// data to move go straight to the parent, which completes them. Requests
// ending past the partition are answered with OutcomeRejectedOutOfRange and
// never reach the parent; when comp has no room for that answer the request
// is not accepted and Enqueue stops there.
func (p *Partition) Enqueue(reqs []block.IORequest, comp chan<- block.IOResponse) (int, error) {
	for i := range reqs {
		req := reqs[i]

		movesData := req.RequestType == block.IORequestTypeTrim || len(req.Segments) > 0
		if movesData && (req.Sector > p.SectorCount || req.EndSector() > p.SectorCount) {
			err := errors.Wrapf(block.ErrOutOfRange, "end sector %d past partition of %d sectors", req.EndSector(), p.SectorCount)
			resp := block.IOResponse{
				Req:     &reqs[i],
				Outcome: block.OutcomeRejectedOutOfRange,
				Err:     err,
			}

			select {
			case comp <- resp:
			default:
				return i, err
			}
			continue
		}

		req.Sector += p.StartSector
		if _, err := p.BlockQueuer.Enqueue([]block.IORequest{req}, comp); err != nil {
			return i, err
		}
	}

	return len(reqs), nil
}
