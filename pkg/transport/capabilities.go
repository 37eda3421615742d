package transport

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
)

// Capabilities reports which transports the host can provide.
type Capabilities interface {
	RingBufferSupported() bool
}

// KernelCapabilities probes the running kernel.
type KernelCapabilities struct{}

func (KernelCapabilities) RingBufferSupported() bool {
	return features.HaveMapType(ebpf.RingBuf) == nil
}

// StaticCapabilities answers from a fixed flag.
type StaticCapabilities struct {
	RingBuffer bool
}

func (c StaticCapabilities) RingBufferSupported() bool {
	return c.RingBuffer
}
