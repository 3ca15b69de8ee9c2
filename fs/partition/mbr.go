package partition

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tcfw/rambd/fs/devices"
	"github.com/tcfw/rambd/fs/drivers"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/fs/filesystems"
	"github.com/tcfw/rambd/internal/log"
)

const (
	mbrSignature1 = 0x55
	mbrSignature2 = 0xAA

	partition1Offset = 0x01BE
	partitionEntries = 4
	partitionSize    = 16

	readTimeout = 1 * time.Second
)

var (
	ErrTimeout        = errors.New("timed out waiting for device")
	ErrNoMBR          = errors.New("no MBR signature")
	ErrGPTUnsupported = errors.New("GPT partition tables are not supported")
)

func IsMBRTable(d []byte) bool {
	if len(d) < 2 {
		return false
	}
	end2 := d[len(d)-2:]
	return end2[0] == mbrSignature1 && end2[1] == mbrSignature2
}

type MBR [512]byte

func (h *MBR) DiskSignature() uint32 {
	return binary.LittleEndian.Uint32(h[0x01BC:])
}

// Partition returns the nth (0-3) partition table entry.
func (h *MBR) Partition(n int) MBRPartition {
	off := partition1Offset + n*partitionSize
	return MBRPartition(h[off : off+partitionSize])
}

func (h *MBR) Partition1() MBRPartition {
	return h.Partition(0)
}

func (h *MBR) Partition2() MBRPartition {
	return h.Partition(1)
}

func (h *MBR) Partition3() MBRPartition {
	return h.Partition(2)
}

func (h *MBR) Partition4() MBRPartition {
	return h.Partition(3)
}

type MBRPartitionAttributes uint8

const (
	MBRPartitionAttributesActive MBRPartitionAttributes = 1 << 7
)

type MBRPartition []byte

func (p MBRPartition) Attributes() MBRPartitionAttributes {
	return MBRPartitionAttributes(p[0])
}

func (p MBRPartition) FirstSectorCHS() CHSAddress {
	return CHSAddress(p[1:4])
}

func (p MBRPartition) PartitionType() uint8 {
	return p[4]
}

func (p MBRPartition) LastSectorCHS() CHSAddress {
	return CHSAddress(p[5:8])
}

func (p MBRPartition) LBAStart() uint32 {
	return binary.LittleEndian.Uint32(p[8:])
}

func (p MBRPartition) SectorCount() uint32 {
	return binary.LittleEndian.Uint32(p[12:])
}

// InUse reports whether the entry describes a partition at all.
func (p MBRPartition) InUse() bool {
	return p.PartitionType() != 0 && p.SectorCount() != 0
}

// ReadSector reads one sector through the queue, waiting at most readTimeout.
func ReadSector(ctx context.Context, q drivers.BlockQueuer, sector uint64, buf []byte) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	blockCh := make(chan block.IOResponse, 1)

	req := block.NewRequest(block.IORequestTypeRead, sector, buf)
	if _, err := q.Enqueue([]block.IORequest{req}, blockCh); err != nil {
		return errors.Wrapf(err, "queueing read of sector %d", sector)
	}

	select {
	case resp := <-blockCh:
		if err := resp.Err; err != nil {
			return errors.Wrapf(err, "reading sector %d", sector)
		}
	case <-ctx.Done():
		return ErrTimeout
	}

	return nil
}

// ReadMBR reads and checks the boot sector of a block device.
func ReadMBR(ctx context.Context, q drivers.BlockQueuer) (*MBR, error) {
	mbr := &MBR{}

	if err := ReadSector(ctx, q, 0, mbr[:]); err != nil {
		return nil, err
	}

	if !IsMBRTable(mbr[:]) {
		return nil, ErrNoMBR
	}

	if mbr.Partition1().PartitionType() == mbrTypeGPTProtective {
		hdr := make([]byte, block.SectorSize)
		if err := ReadSector(ctx, q, 1, hdr); err != nil {
			return nil, err
		}
		if IsGPTTable(hdr) {
			return nil, ErrGPTUnsupported
		}
	}

	return mbr, nil
}

// DiscoverMBRPartitions reads the MBR of d and registers a partition device
// named <d.Name>.<n> for every entry in use.
func DiscoverMBRPartitions(ctx context.Context, d *devices.Device) ([]*devices.Device, error) {
	if d.DeviceType != devices.DeviceTypeBlock {
		return nil, errors.New("wrong device type for MBR")
	}

	logger := log.For(log.FromContext(ctx), log.ComponentPartition)
	bdev := d.BlockDevice

	mbr, err := ReadMBR(ctx, bdev)
	if err != nil {
		return nil, errors.Wrapf(err, "reading MBR of %s", d.Name)
	}

	found := []*devices.Device{}

	for i := 0; i < partitionEntries; i++ {
		p := mbr.Partition(i)
		if !p.InUse() {
			continue
		}

		start, count := uint64(p.LBAStart()), uint64(p.SectorCount())
		if start+count > bdev.Sectors() {
			logger.Warn("partition extends past device",
				"device", d.Name,
				"entry", i,
				"start", start,
				"sectors", count)
			continue
		}

		var attrs PartitionAttributes
		if p.Attributes()&MBRPartitionAttributesActive != 0 {
			attrs = PartitionAttributeActive
		}

		part := &devices.Device{
			Name:       d.Name + "." + strconv.Itoa(i),
			DeviceType: devices.DeviceTypeBlockPartition,
			BlockPartition: &Partition{
				BlockQueuer: bdev,
				Type:        filesystems.MBRPartitionTypeToFS(p.PartitionType()),
				StartSector: start,
				SectorCount: count,
				Attributes:  attrs,
			},
		}
		devices.RegisterDevice(part)
		found = append(found, part)
	}

	logger.Info("discovered partitions", "device", d.Name, "count", len(found))

	return found, nil
}
