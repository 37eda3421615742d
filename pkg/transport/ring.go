package transport

import (
	"sync"
	"sync/atomic"
)

// Ring is an in-process ring buffer: one bounded queue shared by every
// producer, read in the order samples were committed.
type Ring struct {
	samples   chan []byte
	lost      atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*Ring)(nil)

func NewRing(depth int) *Ring {
	if depth < 1 {
		depth = 1
	}
	return &Ring{
		samples: make(chan []byte, depth),
		done:    make(chan struct{}),
	}
}

func (r *Ring) Kind() Kind {
	return RingBuffer
}

func (r *Ring) Output(_ int, sample []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	s := make([]byte, len(sample))
	copy(s, sample)
	select {
	case r.samples <- s:
		return nil
	default:
		r.lost.Add(1)
		return ErrFull
	}
}

func (r *Ring) Read() (Record, error) {
	if lost := r.lost.Swap(0); lost > 0 {
		return Record{CPU: -1, LostSamples: lost}, nil
	}
	select {
	case s := <-r.samples:
		return Record{RawSample: s, CPU: -1}, nil
	case <-r.done:
		return Record{}, ErrClosed
	}
}

// Len returns the number of samples waiting to be read.
func (r *Ring) Len() int {
	return len(r.samples)
}

func (r *Ring) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
