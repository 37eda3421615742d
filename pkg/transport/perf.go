package transport

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// PerfArray is an in-process perf buffer: one bounded queue per CPU. Samples
// from one CPU are read in order; there is no ordering across CPUs.
type PerfArray struct {
	cpus      []chan []byte
	lost      []atomic.Uint64
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*PerfArray)(nil)

func NewPerfArray(cpus, depthPerCPU int) *PerfArray {
	if cpus < 1 {
		cpus = 1
	}
	if depthPerCPU < 1 {
		depthPerCPU = 1
	}
	p := &PerfArray{
		cpus: make([]chan []byte, cpus),
		lost: make([]atomic.Uint64, cpus),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for i := range p.cpus {
		p.cpus[i] = make(chan []byte, depthPerCPU)
	}
	return p
}

func (p *PerfArray) Kind() Kind {
	return PerfBuffer
}

func (p *PerfArray) cpu(cpu int) int {
	if cpu < 0 {
		return 0
	}
	return cpu % len(p.cpus)
}

func (p *PerfArray) Output(cpu int, sample []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	cpu = p.cpu(cpu)
	s := make([]byte, len(sample))
	copy(s, sample)
	select {
	case p.cpus[cpu] <- s:
	default:
		p.lost[cpu].Add(1)
		return ErrFull
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *PerfArray) Read() (Record, error) {
	n := len(p.cpus)
	for {
		select {
		case <-p.done:
			return Record{}, ErrClosed
		default:
		}
		start := rand.IntN(n)
		for i := 0; i < n; i++ {
			cpu := (start + i) % n
			if lost := p.lost[cpu].Swap(0); lost > 0 {
				return Record{CPU: cpu, LostSamples: lost}, nil
			}
			select {
			case s := <-p.cpus[cpu]:
				return Record{RawSample: s, CPU: cpu}, nil
			default:
			}
		}
		select {
		case <-p.wake:
		case <-p.done:
			return Record{}, ErrClosed
		}
	}
}

// Len returns the number of samples waiting to be read on all CPUs.
func (p *PerfArray) Len() int {
	n := 0
	for _, c := range p.cpus {
		n += len(c)
	}
	return n
}

func (p *PerfArray) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
