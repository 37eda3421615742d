package probes

//go:generate sh -c "bpftool btf dump file /sys/kernel/btf/vmlinux format c > bpf/vmlinux.h"
//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -no-global-types -target bpfel -cc clang -cflags "-g -O2 -Wall -D __TARGET_ARCH_x86" probes bpf/probes.bpf.c -- -I./bpf/

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/ebpf/lib"
	"github.com/kubescape/inuse-agent/pkg/identity"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/kubescape/inuse-agent/pkg/utils"
)

const (
	OpenEventsMap      = "open_events"
	ExitEventsMap      = "exit_events"
	ProcessInfoMap     = "pid_to_info"
	DropsMap           = "drops"
	UseRingbufVariable = "use_ringbuf"
)

// drop reasons in the order of enum drop_reason
var dropReasons = []utils.DropReason{
	utils.DropCopyFailed,
	utils.DropTableFull,
	utils.DropOutputFull,
}

type Options struct {
	// object file loaded instead of the embedded one when set
	ObjectPath string
	Kind       transport.Kind
	// ring buffer sizes in bytes, a power of two multiple of the page size
	OpenRingBytes uint32
	ExitRingBytes uint32
	// perf buffer sizes in pages per CPU
	OpenPerfPages int
	ExitPerfPages int
	// capacity of the process identity map, the object default when zero
	IdentityEntries uint32
}

type attachPoint struct {
	program string
	group   string // empty for kprobes
	name    string
}

var attachPoints = []attachPoint{
	{program: "enter_creat", group: "syscalls", name: "sys_enter_creat"},
	{program: "exit_creat", group: "syscalls", name: "sys_exit_creat"},
	{program: "enter_open", group: "syscalls", name: "sys_enter_open"},
	{program: "exit_open", group: "syscalls", name: "sys_exit_open"},
	{program: "enter_openat", group: "syscalls", name: "sys_enter_openat"},
	{program: "exit_openat", group: "syscalls", name: "sys_exit_openat"},
	{program: "enter_openat2", group: "syscalls", name: "sys_enter_openat2"},
	{program: "exit_openat2", group: "syscalls", name: "sys_exit_openat2"},
	{program: "kprobe__setup_new_exec", name: "setup_new_exec"},
	{program: "cgroup_attach_task", group: "cgroup", name: "cgroup_attach_task"},
	{program: "cgroup_transfer_tasks", group: "cgroup", name: "cgroup_transfer_tasks"},
	{program: "sched_process_exit", group: "sched", name: "sched_process_exit"},
	{program: "kprobe__fsnotify", name: "fsnotify"},
}

// openat2 needs struct open_how and the sys_*_openat2 tracepoints, which
// kernels before 5.6 do not have. Both programs are attached or neither is.
var optionalPrograms = []string{"enter_openat2", "exit_openat2"}

type attachFunc func(ap attachPoint, prog *ebpf.Program) (link.Link, error)

// Probes is the kernel probe set loaded and attached.
type Probes struct {
	opts  Options
	coll  *ebpf.Collection
	links []link.Link
}

// Load reads the probe object, adapts its event maps to the chosen transport,
// loads it into the kernel and attaches every program.
func Load(opts Options) (*Probes, error) {
	spec, err := loadSpec(opts.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", utils.ErrProbeLoad, err)
	}
	if err := ConfigureSpec(spec, opts); err != nil {
		return nil, fmt.Errorf("%s: %w", utils.ErrProbeLoad, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		logger.L().Warning("Probes - loading failed, retrying without openat2 probes", helpers.Error(err))
		RemovePrograms(spec, optionalPrograms...)
		coll, err = ebpf.NewCollection(spec)
		if err != nil {
			var verr *ebpf.VerifierError
			if errors.As(err, &verr) {
				logger.L().Debug("Probes - verifier log", helpers.String("log", fmt.Sprintf("%+v", verr)))
			}
			return nil, fmt.Errorf("%s: %w", utils.ErrProbeLoad, err)
		}
	}

	p := &Probes{opts: opts, coll: coll}
	p.links, err = attachAll(coll.Programs, attachProgram)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", utils.ErrProbeLoad, err)
	}
	logger.L().Info("Probes - attached", helpers.Int("links", len(p.links)), helpers.String("transport", opts.Kind.String()))
	return p, nil
}

// loadSpec returns the object embedded at build time, or the one at path.
func loadSpec(path string) (*ebpf.CollectionSpec, error) {
	if path == "" {
		return loadProbes()
	}
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return spec, nil
}

// ConfigureSpec upgrades the event maps to ring buffers when requested and
// sets the flag that selects the matching output helper.
func ConfigureSpec(spec *ebpf.CollectionSpec, opts Options) error {
	if err := UpgradeEventMaps(spec.Maps, opts); err != nil {
		return err
	}
	if opts.IdentityEntries > 0 {
		ms, ok := spec.Maps[ProcessInfoMap]
		if !ok {
			return fmt.Errorf("map %s not found in probe object", ProcessInfoMap)
		}
		ms.MaxEntries = opts.IdentityEntries
	}
	v, ok := spec.Variables[UseRingbufVariable]
	if !ok {
		return fmt.Errorf("variable %s not found in probe object", UseRingbufVariable)
	}
	if err := v.Set(opts.Kind == transport.RingBuffer); err != nil {
		return fmt.Errorf("setting %s: %w", UseRingbufVariable, err)
	}
	return nil
}

// UpgradeEventMaps turns the perf event arrays of both event channels into
// ring buffers of the configured size. Perf buffers are left as declared.
func UpgradeEventMaps(maps map[string]*ebpf.MapSpec, opts Options) error {
	sizes := map[string]uint32{
		OpenEventsMap: opts.OpenRingBytes,
		ExitEventsMap: opts.ExitRingBytes,
	}
	for name, size := range sizes {
		ms, ok := maps[name]
		if !ok {
			return fmt.Errorf("map %s not found in probe object", name)
		}
		if ms.Type != ebpf.PerfEventArray {
			return fmt.Errorf("map %s is not a perf buffer, got %s instead", name, ms.Type)
		}
		if opts.Kind != transport.RingBuffer {
			continue
		}
		pageSize := uint32(os.Getpagesize())
		if size == 0 || size%pageSize != 0 || size&(size-1) != 0 {
			return fmt.Errorf("ring buffer size %d of %s must be a power of two multiple of %d", size, name, pageSize)
		}
		ms.Type = ebpf.RingBuf
		ms.KeySize = 0
		ms.ValueSize = 0
		ms.MaxEntries = size
	}
	return nil
}

// RemovePrograms drops programs from spec so that they are neither loaded
// nor attached.
func RemovePrograms(spec *ebpf.CollectionSpec, names ...string) {
	for _, name := range names {
		delete(spec.Programs, name)
	}
}

func attachProgram(ap attachPoint, prog *ebpf.Program) (link.Link, error) {
	if ap.group == "" {
		return tracepointlib.AttachKprobe(ap.name, prog)
	}
	return tracepointlib.AttachTracepoint(tracepointlib.TracepointInfo{Group: ap.group, Name: ap.name, Program: prog})
}

// attachAll attaches every loaded program. A failure on an optional program
// detaches the whole optional group and attaching goes on without it; any
// other failure detaches everything.
func attachAll(programs map[string]*ebpf.Program, attach attachFunc) ([]link.Link, error) {
	var links, optional []link.Link
	optionalFailed := false
	for _, ap := range attachPoints {
		prog, ok := programs[ap.program]
		if !ok {
			// creat/open only exist on x86, openat2 may have been removed
			logger.L().Debug("Probes - program not loaded, skipping", helpers.String("program", ap.program), helpers.String("arch", runtime.GOARCH))
			continue
		}
		isOptional := slices.Contains(optionalPrograms, ap.program)
		if isOptional && optionalFailed {
			continue
		}
		l, err := attach(ap, prog)
		if err != nil {
			if isOptional {
				logger.L().Warning("Probes - attaching failed, continuing without openat2 probes",
					helpers.String("program", ap.program), helpers.Error(err))
				optionalFailed = true
				closeLinks(optional)
				optional = nil
				continue
			}
			closeLinks(links)
			closeLinks(optional)
			return nil, fmt.Errorf("attaching %s: %w", ap.program, err)
		}
		if isOptional {
			optional = append(optional, l)
		} else {
			links = append(links, l)
		}
	}
	return append(links, optional...), nil
}

func closeLinks(links []link.Link) {
	for _, l := range links {
		if err := l.Close(); err != nil {
			logger.L().Warning("Probes - closing link", helpers.Error(err))
		}
	}
}

func (p *Probes) Kind() transport.Kind {
	return p.opts.Kind
}

// OpenEventsReader opens the consumer side of the open event channel.
func (p *Probes) OpenEventsReader() (transport.Reader, error) {
	return transport.NewKernelReader(p.opts.Kind, p.coll.Maps[OpenEventsMap], p.opts.OpenPerfPages*os.Getpagesize())
}

// ExitEventsReader opens the consumer side of the exit event channel.
func (p *Probes) ExitEventsReader() (transport.Reader, error) {
	return transport.NewKernelReader(p.opts.Kind, p.coll.Maps[ExitEventsMap], p.opts.ExitPerfPages*os.Getpagesize())
}

// ProcessTable gives access to the process identities written by the probes.
func (p *Probes) ProcessTable() identity.ProcessTable {
	return identity.NewMapTable(p.coll.Maps[ProcessInfoMap])
}

// DropCounts returns the events dropped in the kernel, summed over CPUs.
func (p *Probes) DropCounts() (map[utils.DropReason]uint64, error) {
	m := p.coll.Maps[DropsMap]
	counts := make(map[utils.DropReason]uint64, len(dropReasons))
	for i, reason := range dropReasons {
		var perCPU []uint64
		if err := m.Lookup(uint32(i), &perCPU); err != nil {
			return nil, fmt.Errorf("reading drop counter %s: %w", reason, err)
		}
		var total uint64
		for _, v := range perCPU {
			total += v
		}
		counts[reason] = total
	}
	return counts, nil
}

func (p *Probes) Close() {
	closeLinks(p.links)
	p.links = nil
	if p.coll != nil {
		p.coll.Close()
	}
}

// WatchDrops reports the growth of the kernel drop counters every interval
// until ctx is done.
func (p *Probes) WatchDrops(ctx context.Context, interval time.Duration, metrics metricsmanager.MetricsManager) {
	last := make(map[utils.DropReason]uint64, len(dropReasons))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := p.DropCounts()
			if err != nil {
				logger.L().Debug("Probes - reading drop counters", helpers.Error(err))
				continue
			}
			for reason, total := range counts {
				if delta := total - last[reason]; delta > 0 {
					metrics.ReportKernelDrops(reason, delta)
				}
				last[reason] = total
			}
		}
	}
}
