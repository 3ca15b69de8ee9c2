package partition

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tcfw/rambd/fs/devices"
	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/fs/drivers/ram"
	"github.com/tcfw/rambd/fs/filesystems"
	"github.com/tcfw/rambd/internal/log"
)

func newTestDevice(t *testing.T, sectors uint64) (*devices.Device, *ram.Driver) {
	t.Helper()

	d, err := ram.New(ram.Config{Sectors: sectors, Workers: 2, Logger: log.Discard()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Watch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		d.Close()
	})

	return &devices.Device{Name: "rambd0", DeviceType: devices.DeviceTypeBlock, BlockDevice: d}, d
}

func putEntry(mbr []byte, n int, active bool, ptype uint8, start, count uint32) {
	e := mbr[partition1Offset+n*partitionSize:]
	if active {
		e[0] = 0x80
	}
	e[1], e[2], e[3] = 1, 0x41, 0x02
	e[4] = ptype
	binary.LittleEndian.PutUint32(e[8:], start)
	binary.LittleEndian.PutUint32(e[12:], count)
}

func TestCHSAddress(t *testing.T) {
	c := CHSAddress{1, 0x41, 0x02}
	if c.Head() != 1 || c.Sector() != 1 || c.Cylinder() != 0x102 {
		t.Fatalf("unexpected chs h=%d s=%d c=%d", c.Head(), c.Sector(), c.Cylinder())
	}
}

func TestIsGPTTable(t *testing.T) {
	if !IsGPTTable([]byte("EFI PART....")) {
		t.Fatal("expected GPT signature match")
	}
	if IsGPTTable([]byte("EFI")) {
		t.Fatal("short buffer should not match")
	}
}

func TestDiscoverMBRPartitions(t *testing.T) {
	devices.Reset()
	dev, d := newTestDevice(t, 64)

	mbr := make([]byte, 512)
	putEntry(mbr, 0, true, 0x06, 8, 16)
	putEntry(mbr, 2, false, 0x83, 24, 40)
	putEntry(mbr, 3, false, 0x83, 60, 40) //past the end of the device
	mbr[510], mbr[511] = mbrSignature1, mbrSignature2
	d.Servicer().Store().WriteAt(0, mbr)

	found, err := DiscoverMBRPartitions(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(found))
	}

	p0 := devices.GetDevice("rambd0.0")
	if p0 == nil {
		t.Fatal("partition 0 not registered")
	}
	part := p0.BlockPartition.(*Partition)
	if part.Type != filesystems.FileSystemFAT16 || part.StartSector != 8 || part.Sectors() != 16 {
		t.Fatalf("unexpected partition %+v", part)
	}
	if part.Attributes != PartitionAttributeActive {
		t.Fatal("expected active partition")
	}
	if part.StartOffset() != 8*512 || part.EndOffset() != 24*512 {
		t.Fatal("unexpected partition byte range")
	}

	if devices.GetDevice("rambd0.2") == nil {
		t.Fatal("partition 2 not registered")
	}
	if devices.GetDevice("rambd0.3") != nil {
		t.Fatal("partition past device end should be skipped")
	}
}

func TestDiscoverNoMBR(t *testing.T) {
	devices.Reset()
	dev, _ := newTestDevice(t, 4)

	if _, err := DiscoverMBRPartitions(context.Background(), dev); !errors.Is(err, ErrNoMBR) {
		t.Fatalf("expected ErrNoMBR, got %v", err)
	}
}

func TestDiscoverGPT(t *testing.T) {
	devices.Reset()
	dev, d := newTestDevice(t, 4)

	mbr := make([]byte, 512)
	putEntry(mbr, 0, false, mbrTypeGPTProtective, 1, 3)
	mbr[510], mbr[511] = mbrSignature1, mbrSignature2
	d.Servicer().Store().WriteAt(0, mbr)
	d.Servicer().Store().WriteAt(512, []byte(gptSignature))

	if _, err := DiscoverMBRPartitions(context.Background(), dev); !errors.Is(err, ErrGPTUnsupported) {
		t.Fatalf("expected ErrGPTUnsupported, got %v", err)
	}
}

func TestPartitionEnqueue(t *testing.T) {
	_, d := newTestDevice(t, 32)
	part := &Partition{BlockQueuer: d, StartSector: 8, SectorCount: 8}

	comp := make(chan block.IOResponse, 2)
	data := bytes.Repeat([]byte{0x5a}, 512)

	reqs := []block.IORequest{
		block.NewRequest(block.IORequestTypeWrite, 0, data),
		block.NewRequest(block.IORequestTypeWrite, 7, make([]byte, 1024)),
	}
	reqs[0].ID, reqs[1].ID = 1, 2

	if n, err := part.Enqueue(reqs, comp); n != 2 || err != nil {
		t.Fatalf("enqueue accepted %d: %v", n, err)
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case resp := <-comp:
			switch resp.Req.ID {
			case 1:
				if resp.Outcome != block.OutcomeCompleted {
					t.Fatalf("write inside partition failed: %v", resp.Err)
				}
			case 2:
				if resp.Outcome != block.OutcomeRejectedOutOfRange {
					t.Fatalf("expected write past partition to be rejected, got %v", resp.Outcome)
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for responses")
		}
	}

	if !bytes.Equal(d.Servicer().Store().ReadAt(8*512, 512), data) {
		t.Fatal("partition write not shifted to its start sector")
	}
	if !bytes.Equal(d.Servicer().Store().ReadAt(15*512, 1024), make([]byte, 1024)) {
		t.Fatal("rejected partition write reached the device")
	}
}

func TestPartitionEnqueueNoData(t *testing.T) {
	_, d := newTestDevice(t, 32)
	part := &Partition{BlockQueuer: d, StartSector: 8, SectorCount: 8}

	comp := make(chan block.IOResponse, 2)
	reqs := []block.IORequest{
		{RequestType: block.IORequestTypeRead, Sector: 20},
		{RequestType: block.IORequestTypeFlush, Sector: 20},
	}

	if n, err := part.Enqueue(reqs, comp); n != 2 || err != nil {
		t.Fatalf("enqueue accepted %d: %v", n, err)
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case resp := <-comp:
			if resp.Outcome != block.OutcomeCompleted {
				t.Fatalf("request without data should complete, got %v %v", resp.Outcome, resp.Err)
			}
		case <-timeout:
			t.Fatal("timed out waiting for responses")
		}
	}
}

func TestPartitionEnqueueRejectNeedsRoom(t *testing.T) {
	_, d := newTestDevice(t, 32)
	part := &Partition{BlockQueuer: d, StartSector: 8, SectorCount: 8}

	comp := make(chan block.IOResponse)
	reqs := []block.IORequest{block.NewRequest(block.IORequestTypeRead, 8, make([]byte, 512))}

	n, err := part.Enqueue(reqs, comp)
	if n != 0 || !errors.Is(err, block.ErrOutOfRange) {
		t.Fatalf("expected rejection to be refused without room, got %d %v", n, err)
	}
}
