package block

import (
	"errors"
	"math"
)

// SectorSize is the addressable unit of every block device in the service.
const SectorSize = 512

type IORequestType uint

const (
	IORequestTypeRead IORequestType = iota
	IORequestTypeWrite
	IORequestTypeFlush
	IORequestTypeTrim
)

func (t IORequestType) String() string {
	switch t {
	case IORequestTypeRead:
		return "read"
	case IORequestTypeWrite:
		return "write"
	case IORequestTypeFlush:
		return "flush"
	case IORequestTypeTrim:
		return "trim"
	default:
		return "unknown"
	}
}

var (
	ErrOperationNotSupported = errors.New("operation not supported")
	ErrIOError               = errors.New("io error")
	ErrOutOfRange            = errors.New("request out of device range")
	ErrQueueFull             = errors.New("device queue full")
	ErrUnknownResponse       = errors.New("unknown device response")
)

// Outcome is the completion status reported for a single request.
type Outcome uint

const (
	OutcomeCompleted Outcome = iota
	OutcomeRejectedOutOfRange
	OutcomeIOError
	OutcomeNotSupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRejectedOutOfRange:
		return "rejected-out-of-range"
	case OutcomeIOError:
		return "io-error"
	case OutcomeNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Segment is one (buffer, length) pair of a scatter/gather request. A Data
// slice shorter than Length stands for a buffer that could not be mapped.
type Segment struct {
	Data   []byte
	Length uint64
}

// Mapped reports whether the whole segment is addressable.
func (s Segment) Mapped() bool {
	return uint64(len(s.Data)) >= s.Length
}

type IORequest struct {
	RequestType IORequestType
	ID          uint64
	Sector      uint64
	Segments    []Segment
	Length      uint64 //only used for Trim
	Ctx         any
}

// NewRequest builds a request with one segment per buffer.
func NewRequest(t IORequestType, sector uint64, bufs ...[]byte) IORequest {
	segs := make([]Segment, 0, len(bufs))
	for _, b := range bufs {
		segs = append(segs, Segment{Data: b, Length: uint64(len(b))})
	}

	return IORequest{
		RequestType: t,
		Sector:      sector,
		Segments:    segs,
	}
}

// TotalBytes is the transfer length of the request. The sum saturates at
// the largest uint64 instead of wrapping.
func (r *IORequest) TotalBytes() uint64 {
	if r.RequestType == IORequestTypeTrim {
		return r.Length
	}

	var n uint64
	for _, s := range r.Segments {
		if s.Length > math.MaxUint64-n {
			return math.MaxUint64
		}
		n += s.Length
	}
	return n
}

// EndSector is the first sector past the request, rounding partial sectors up.
func (r *IORequest) EndSector() uint64 {
	total := r.TotalBytes()
	n := total / SectorSize
	if total%SectorSize != 0 {
		n++
	}
	return r.Sector + n
}

type IOResponse struct {
	Req     *IORequest
	Outcome Outcome
	Err     error
}

// OutcomeOf maps a servicing error back onto the outcome it reports.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrOutOfRange):
		return OutcomeRejectedOutOfRange
	case errors.Is(err, ErrOperationNotSupported):
		return OutcomeNotSupported
	default:
		return OutcomeIOError
	}
}
