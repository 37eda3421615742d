package tracepointlib

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

type TracepointInfo struct {
	Group   string
	Name    string
	Program *ebpf.Program
}

func AttachTracepoint(tracepoint TracepointInfo) (link.Link, error) {
	l, err := link.Tracepoint(tracepoint.Group, tracepoint.Name, tracepoint.Program, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to attach tracepoint %s/%s: %w", tracepoint.Group, tracepoint.Name, err)
	}
	return l, nil
}

func AttachKprobe(symbol string, program *ebpf.Program) (link.Link, error) {
	l, err := link.Kprobe(symbol, program, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to attach kprobe %s: %w", symbol, err)
	}
	return l, nil
}
