package ram

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tcfw/rambd/fs/drivers/block"
	"github.com/tcfw/rambd/internal/log"
)

func newTestServicer(t *testing.T, sectors uint64, opts ...ServicerOption) *Servicer {
	t.Helper()

	return NewServicer(newTestStore(t, sectors), append(opts, WithLogger(log.Discard()))...)
}

func snapshot(s *Servicer) []byte {
	return s.Store().ReadAt(0, s.Store().Capacity())
}

func TestServiceWriteThenRead(t *testing.T) {
	s := newTestServicer(t, 10)

	data := bytes.Repeat([]byte{0xAA}, 512)
	w := block.NewRequest(block.IORequestTypeWrite, 0, data)
	if outcome, err := s.Service(&w); outcome != block.OutcomeCompleted || err != nil {
		t.Fatalf("write failed: %v %v", outcome, err)
	}

	buf := make([]byte, 512)
	r := block.NewRequest(block.IORequestTypeRead, 0, buf)
	if outcome, err := s.Service(&r); outcome != block.OutcomeCompleted || err != nil {
		t.Fatalf("read failed: %v %v", outcome, err)
	}

	if !bytes.Equal(buf, data) {
		t.Fatal("read did not return written bytes")
	}
}

func TestServiceRejectsPastEnd(t *testing.T) {
	s := newTestServicer(t, 10)
	before := snapshot(s)

	req := block.NewRequest(block.IORequestTypeWrite, 9, bytes.Repeat([]byte{1}, 1024))
	outcome, err := s.Service(&req)
	if outcome != block.OutcomeRejectedOutOfRange {
		t.Fatalf("expected rejection, got %v", outcome)
	}
	if !errors.Is(err, block.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	if !bytes.Equal(before, snapshot(s)) {
		t.Fatal("rejected request modified the store")
	}
}

func TestServiceRejectsPartialSectorPastEnd(t *testing.T) {
	s := newTestServicer(t, 10)

	//one byte into sector 10 rounds the end sector up to 11
	req := block.NewRequest(block.IORequestTypeWrite, 9, make([]byte, 513))
	if outcome, _ := s.Service(&req); outcome != block.OutcomeRejectedOutOfRange {
		t.Fatalf("expected rejection, got %v", outcome)
	}
}

func TestServiceRejectsHugeStartSector(t *testing.T) {
	s := newTestServicer(t, 10)

	req := block.NewRequest(block.IORequestTypeRead, ^uint64(0)/2, make([]byte, 512))
	if outcome, _ := s.Service(&req); outcome != block.OutcomeRejectedOutOfRange {
		t.Fatalf("expected rejection, got %v", outcome)
	}
}

func TestServiceRejectsOverflowingSegmentLengths(t *testing.T) {
	cases := []struct {
		sector uint64
		first  uint64
	}{
		{sector: 0, first: 512},
		{sector: 10, first: 1024},
	}

	for _, c := range cases {
		s := newTestServicer(t, 10)
		before := snapshot(s)

		req := block.IORequest{
			RequestType: block.IORequestTypeWrite,
			Sector:      c.sector,
			Segments: []block.Segment{
				{Data: bytes.Repeat([]byte{0xAB}, int(c.first)), Length: c.first},
				{Data: nil, Length: ^uint64(0) - (c.first - 1)},
			},
		}

		outcome, err := s.Service(&req)
		if outcome != block.OutcomeRejectedOutOfRange || !errors.Is(err, block.ErrOutOfRange) {
			t.Fatalf("sector %d: expected rejection, got %v %v", c.sector, outcome, err)
		}
		if !bytes.Equal(before, snapshot(s)) {
			t.Fatalf("sector %d: rejected request modified the store", c.sector)
		}
	}
}

func TestServiceRejectsOversizedTrim(t *testing.T) {
	s := newTestServicer(t, 4)

	req := block.IORequest{RequestType: block.IORequestTypeTrim, Sector: 2, Length: ^uint64(0)}
	if outcome, _ := s.Service(&req); outcome != block.OutcomeRejectedOutOfRange {
		t.Fatalf("expected rejection, got %v", outcome)
	}
}

func TestServiceLastSector(t *testing.T) {
	s := newTestServicer(t, 10)

	req := block.NewRequest(block.IORequestTypeWrite, 9, bytes.Repeat([]byte{7}, 512))
	if outcome, err := s.Service(&req); outcome != block.OutcomeCompleted {
		t.Fatalf("expected last sector write to complete: %v", err)
	}

	if s.Store().ReadAt(10*512-1, 1)[0] != 7 {
		t.Fatal("last byte of device not written")
	}
}

func TestServiceMultiSegmentWrite(t *testing.T) {
	s := newTestServicer(t, 10)

	a := bytes.Repeat([]byte{0x11}, 256)
	b := bytes.Repeat([]byte{0x22}, 256)
	req := block.NewRequest(block.IORequestTypeWrite, 2, a, b)

	if outcome, err := s.Service(&req); outcome != block.OutcomeCompleted {
		t.Fatalf("multi segment write failed: %v", err)
	}

	got := s.Store().ReadAt(1024, 512)
	if !bytes.Equal(got[:256], a) || !bytes.Equal(got[256:], b) {
		t.Fatal("segments not committed contiguously from byte 1024")
	}
	if !bytes.Equal(s.Store().ReadAt(0, 1024), make([]byte, 1024)) {
		t.Fatal("bytes before the request were modified")
	}
}

func TestServiceScatterRead(t *testing.T) {
	s := newTestServicer(t, 4)

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	s.Store().WriteAt(512, data)

	bufs := [][]byte{make([]byte, 100), make([]byte, 412), make([]byte, 512)}
	req := block.NewRequest(block.IORequestTypeRead, 1, bufs...)
	if outcome, err := s.Service(&req); outcome != block.OutcomeCompleted {
		t.Fatalf("scatter read failed: %v", err)
	}

	if !bytes.Equal(bytes.Join(bufs, nil), data) {
		t.Fatal("scatter read returned bytes out of order")
	}
}

func TestServiceZeroSegments(t *testing.T) {
	s := newTestServicer(t, 1)
	before := snapshot(s)

	for _, sector := range []uint64{0, 1, 100} {
		req := block.IORequest{RequestType: block.IORequestTypeWrite, Sector: sector}
		if outcome, err := s.Service(&req); outcome != block.OutcomeCompleted || err != nil {
			t.Fatalf("zero segment request at sector %d: %v %v", sector, outcome, err)
		}
	}

	if !bytes.Equal(before, snapshot(s)) {
		t.Fatal("zero segment request modified the store")
	}
}

func TestServiceUnmappedSegment(t *testing.T) {
	s := newTestServicer(t, 4)

	req := block.IORequest{
		RequestType: block.IORequestTypeWrite,
		Sector:      0,
		Segments: []block.Segment{
			{Data: bytes.Repeat([]byte{1}, 512), Length: 512},
			{Data: nil, Length: 512},
			{Data: bytes.Repeat([]byte{3}, 512), Length: 512},
		},
	}

	outcome, err := s.Service(&req)
	if outcome != block.OutcomeIOError {
		t.Fatalf("expected io error, got %v", outcome)
	}
	if !errors.Is(err, block.ErrIOError) {
		t.Fatalf("expected ErrIOError, got %v", err)
	}

	//the first segment was transferred, the rest were not
	if !bytes.Equal(s.Store().ReadAt(0, 512), bytes.Repeat([]byte{1}, 512)) {
		t.Fatal("segment before failure not transferred")
	}
	if !bytes.Equal(s.Store().ReadAt(512, 1024), make([]byte, 1024)) {
		t.Fatal("segments after failure were transferred")
	}
}

func TestServiceSegmentLengthShorterThanBuffer(t *testing.T) {
	s := newTestServicer(t, 1)

	req := block.IORequest{
		RequestType: block.IORequestTypeWrite,
		Segments:    []block.Segment{{Data: bytes.Repeat([]byte{9}, 512), Length: 10}},
	}
	if outcome, _ := s.Service(&req); outcome != block.OutcomeCompleted {
		t.Fatalf("unexpected outcome %v", outcome)
	}

	got := s.Store().ReadAt(0, 11)
	if !bytes.Equal(got[:10], bytes.Repeat([]byte{9}, 10)) || got[10] != 0 {
		t.Fatal("segment length not honoured")
	}
}

func TestServiceFlushAndTrim(t *testing.T) {
	s := newTestServicer(t, 4)
	s.Store().WriteAt(0, bytes.Repeat([]byte{0xff}, 2048))

	flush := block.IORequest{RequestType: block.IORequestTypeFlush}
	if outcome, _ := s.Service(&flush); outcome != block.OutcomeCompleted {
		t.Fatalf("flush failed: %v", outcome)
	}

	trim := block.IORequest{RequestType: block.IORequestTypeTrim, Sector: 1, Length: 1024}
	if outcome, _ := s.Service(&trim); outcome != block.OutcomeCompleted {
		t.Fatalf("trim failed: %v", outcome)
	}

	got := snapshot(s)
	if !bytes.Equal(got[512:1536], make([]byte, 1024)) {
		t.Fatal("trim did not zero its range")
	}
	if got[511] != 0xff || got[1536] != 0xff {
		t.Fatal("trim zeroed outside its range")
	}

	trim = block.IORequest{RequestType: block.IORequestTypeTrim, Sector: 3, Length: 1024}
	if outcome, _ := s.Service(&trim); outcome != block.OutcomeRejectedOutOfRange {
		t.Fatalf("expected trim past end to be rejected, got %v", outcome)
	}
}

func TestServiceUnknownType(t *testing.T) {
	s := newTestServicer(t, 1)

	req := block.IORequest{RequestType: block.IORequestType(42)}
	outcome, err := s.Service(&req)
	if outcome != block.OutcomeNotSupported || !errors.Is(err, block.ErrOperationNotSupported) {
		t.Fatalf("expected not supported, got %v %v", outcome, err)
	}
}

func TestServiceConcurrentDisjoint(t *testing.T) {
	for _, opts := range [][]ServicerOption{nil, {WithLocking()}} {
		s := newTestServicer(t, 64, opts...)

		var g errgroup.Group
		for i := 0; i < 64; i++ {
			g.Go(func() error {
				data := bytes.Repeat([]byte{byte(i)}, 512)
				w := block.NewRequest(block.IORequestTypeWrite, uint64(i), data[:200], data[200:])
				if _, err := s.Service(&w); err != nil {
					return err
				}

				buf := make([]byte, 512)
				r := block.NewRequest(block.IORequestTypeRead, uint64(i), buf)
				if _, err := s.Service(&r); err != nil {
					return err
				}
				if !bytes.Equal(buf, data) {
					return errors.New("read back mismatch")
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
	}
}

func BenchmarkServiceWrite(b *testing.B) {
	store, err := NewStore(1024)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	s := NewServicer(store, WithLogger(log.Discard()))
	data := make([]byte, 4096)
	b.SetBytes(int64(len(data)))

	for n := 0; n < b.N; n++ {
		req := block.NewRequest(block.IORequestTypeWrite, uint64(n%1000), data)
		if _, err := s.Service(&req); err != nil {
			b.Fatal(err)
		}
	}
}
