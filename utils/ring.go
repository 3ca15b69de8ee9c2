package utils

import (
	"context"
	"sync"
	"sync/atomic"
)

// Ring is a MPSC circular queue of fixed size objects. Producers are
// serialised by a mutex; consumers claim slots with CAS on the tail index so
// several workers may pull concurrently.
type Ring struct {
	Len        uint64
	ObjectSize uint64
	Tail       uint64
	Head       uint64
	Reserved   uint64
	Data       []byte

	zero   []byte
	mu     sync.Mutex
	notify chan struct{}
}

func NewRing(objectSize uint64, len uint64) *Ring {
	return &Ring{
		Len:        len,
		ObjectSize: objectSize,
		Data:       make([]byte, len*objectSize),
		zero:       make([]byte, objectSize),
		notify:     make(chan struct{}, 1),
	}
}

// slot returns the object slice at the given absolute index
func (r *Ring) slot(index uint64) []byte {
	from := (index % r.Len) * r.ObjectSize
	return r.Data[from : from+r.ObjectSize : from+r.ObjectSize]
}

// reserve bumps the reserved index forward, but keeps
// the Head index in place
func (r *Ring) reserve() []byte {
	resv := atomic.LoadUint64(&r.Reserved)
	//if ring would be full
	if (resv+1)-atomic.LoadUint64(&r.Tail) > r.Len {
		return nil
	}

	if !atomic.CompareAndSwapUint64(&r.Reserved, resv, resv+1) {
		return nil
	}

	return r.slot(resv)
}

// pushReserved bumps the Head index by delta positions.
// Care must be taken when reserving multiple blocks for
// premature pushes
func (r *Ring) pushReserved(delta uint64) uint64 {
	return atomic.AddUint64(&r.Head, delta)
}

// Push copies byte slice d to the highest unreserved position
// and wakes a waiting consumer
func (r *Ring) Push(d []byte) bool {
	ret := r.PushNoWake(d)
	if ret {
		r.wake()
	}

	return ret
}

// PushNoWake bumps the Head index by delta positions
// with the slice, but will not signal waiting consumers
func (r *Ring) PushNoWake(d []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint64(len(d)) > r.ObjectSize {
		panic("object larger than Ring object size")
	}

	b := r.reserve()
	if b == nil {
		return false
	}

	copy(b, d)
	if len(d) < len(b) {
		//zero out remaining data
		copy(b[len(d):], r.zero)
	}

	r.pushReserved(1)

	return true
}

func (r *Ring) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Count is the number of objects waiting to be pulled
func (r *Ring) Count() uint64 {
	return atomic.LoadUint64(&r.Head) - atomic.LoadUint64(&r.Tail)
}

func (r *Ring) Empty() bool {
	return r.Count() == 0
}

// Pull provides a slice to the latest Tail index and bump the
// tail index. The slice is only valid until the slot is reused,
// so concurrent consumers should prefer PullTo
func (r *Ring) Pull() []byte {
	tail := atomic.LoadUint64(&r.Tail)
	// if there's something to read
	if atomic.LoadUint64(&r.Head) == tail {
		return nil
	}

	if !atomic.CompareAndSwapUint64(&r.Tail, tail, tail+1) {
		return nil
	}

	return r.slot(tail)
}

// Peek provides a slice to the latest Tail index, but does
// not bump the read index
func (r *Ring) Peek() []byte {
	tail := atomic.LoadUint64(&r.Tail)
	// if there's something to read
	if atomic.LoadUint64(&r.Head) == tail {
		return nil
	}

	return r.slot(tail)
}

// PullTo copies the next unread object to the destination byte slice
func (r *Ring) PullTo(d []byte) bool {
	tail := atomic.LoadUint64(&r.Tail)
	// if there's something to read
	if atomic.LoadUint64(&r.Head) == tail {
		return false
	}

	copy(d, r.slot(tail))
	return atomic.CompareAndSwapUint64(&r.Tail, tail, tail+1)
}

// PullToWait blocks until an object has been copied into d or ctx is done
func (r *Ring) PullToWait(ctx context.Context, d []byte) error {
	for {
		if r.PullTo(d) {
			if !r.Empty() {
				//pass the wakeup on to another consumer
				r.wake()
			}
			return nil
		}

		if !r.Empty() {
			//lost a CAS race with another consumer
			continue
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
