package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

var (
	ErrClosed = errors.New("transport closed")
	ErrFull   = errors.New("transport full")
)

// Kind is the delivery strategy of an event channel.
type Kind int

const (
	// RingBuffer is a single ordered buffer shared by all CPUs.
	RingBuffer Kind = iota
	// PerfBuffer is one buffer per CPU with no ordering across CPUs.
	PerfBuffer
)

func (k Kind) String() string {
	switch k {
	case RingBuffer:
		return "ringbuf"
	case PerfBuffer:
		return "perfbuf"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Preference is the configured transport choice.
type Preference string

const (
	PreferAuto    Preference = "auto"
	PreferRingBuf Preference = "ringbuf"
	PreferPerfBuf Preference = "perf"
)

func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(s)); p {
	case "", PreferAuto:
		return PreferAuto, nil
	case PreferRingBuf, PreferPerfBuf:
		return p, nil
	default:
		return "", fmt.Errorf("unknown transport %q", s)
	}
}

// SelectKind picks the ring buffer whenever the host supports it, unless perf
// buffers are explicitly requested. A ring buffer request on a host without
// support degrades to perf buffers.
func SelectKind(caps Capabilities, pref Preference) Kind {
	if pref == PreferPerfBuf {
		return PerfBuffer
	}
	if caps.RingBufferSupported() {
		return RingBuffer
	}
	if pref == PreferRingBuf {
		logger.L().Warning("ring buffers are not supported on this host, falling back to perf buffers")
	}
	logger.L().Debug("selected transport", helpers.String("kind", PerfBuffer.String()))
	return PerfBuffer
}

// Record is one unit read from a channel. A record either carries a sample
// or reports LostSamples dropped by the producer since the previous record.
type Record struct {
	RawSample   []byte
	CPU         int
	LostSamples uint64
}

// Reader is the consumer side of an event channel.
type Reader interface {
	// Read blocks until a record is available. It returns ErrClosed once
	// the reader is closed.
	Read() (Record, error)
	Close() error
}

// Emitter is the producer side of an event channel. Output never blocks: a
// full channel drops the sample, counts it and returns ErrFull.
type Emitter interface {
	Output(cpu int, sample []byte) error
}

// Channel is an in-process event channel.
type Channel interface {
	Emitter
	Reader
	Kind() Kind
}

// NewChannel creates an in-process channel of the given kind. depth is the
// total capacity for a ring buffer and the per-CPU capacity for perf buffers.
func NewChannel(kind Kind, depth, cpus int) Channel {
	if kind == RingBuffer {
		return NewRing(depth)
	}
	return NewPerfArray(cpus, depth)
}
