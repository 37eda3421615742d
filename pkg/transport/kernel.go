package transport

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"
)

type ringbufReader struct {
	reader *ringbuf.Reader
}

type perfReader struct {
	reader *perf.Reader
}

// NewKernelReader opens a reader on an events map loaded in the kernel.
// perCPUBuffer is only used for perf buffers.
func NewKernelReader(kind Kind, m *ebpf.Map, perCPUBuffer int) (Reader, error) {
	switch kind {
	case RingBuffer:
		r, err := ringbuf.NewReader(m)
		if err != nil {
			return nil, fmt.Errorf("opening ring buffer reader: %w", err)
		}
		return &ringbufReader{reader: r}, nil
	case PerfBuffer:
		r, err := perf.NewReader(m, perCPUBuffer)
		if err != nil {
			return nil, fmt.Errorf("opening perf buffer reader: %w", err)
		}
		return &perfReader{reader: r}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %s", kind)
	}
}

func (r *ringbufReader) Read() (Record, error) {
	rec, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{RawSample: rec.RawSample, CPU: -1}, nil
}

func (r *ringbufReader) Close() error {
	return r.reader.Close()
}

func (r *perfReader) Read() (Record, error) {
	rec, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, perf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{RawSample: rec.RawSample, CPU: rec.CPU, LostSamples: rec.LostSamples}, nil
}

func (r *perfReader) Close() error {
	return r.reader.Close()
}
