// Package probeset implements the kernel probe handlers in userspace with
// the same bounded tables and emission rules as the BPF program. It drives
// the fanotify event source and lets the correlation pipeline be exercised
// without loading anything into the kernel.
package probeset

import (
	"errors"
	"sync"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/ebpf/events"
	"github.com/kubescape/inuse-agent/pkg/identity"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/kubescape/inuse-agent/pkg/utils"
)

const (
	DefaultInflightSize = 1024
	DefaultIdentitySize = 1024
)

var ErrFault = errors.New("bad address")

// Task identifies the thread a probe fires on.
type Task struct {
	Tid  uint32
	Tgid uint32
	CPU  int
}

func (t Task) IsMainThread() bool {
	return t.Tid == t.Tgid
}

// StringRef is a string living in the traced task's memory. It is only
// copied when Load is called, so its content may change or become
// unreadable between syscall entry and exit.
type StringRef interface {
	Load() (string, error)
}

// Literal is a StringRef that is always readable.
type Literal string

func (l Literal) Load() (string, error) {
	return string(l), nil
}

// CgroupReader resolves the cgroup a task currently runs in.
type CgroupReader interface {
	CurrentCgroup(task Task) (string, error)
}

type inflightEntry struct {
	filename StringRef
	flags    int32
}

// ProbeSet holds the probe state: open calls in flight keyed by thread id
// and the process identity table keyed by thread group id.
type ProbeSet struct {
	mu               sync.Mutex
	inflight         map[uint32]inflightEntry
	inflightCapacity int
	identities       *identity.Table
	cgroups          CgroupReader
	opens            transport.Emitter
	exits            transport.Emitter
	metrics          metricsmanager.MetricsManager
}

func New(identities *identity.Table, cgroups CgroupReader, opens, exits transport.Emitter, metrics metricsmanager.MetricsManager, inflightSize int) *ProbeSet {
	if inflightSize <= 0 {
		inflightSize = DefaultInflightSize
	}
	return &ProbeSet{
		inflight:         make(map[uint32]inflightEntry, inflightSize),
		inflightCapacity: inflightSize,
		identities:       identities,
		cgroups:          cgroups,
		opens:            opens,
		exits:            exits,
		metrics:          metrics,
	}
}

// EnterOpen records the arguments of an open-family syscall.
func (p *ProbeSet) EnterOpen(task Task, filename StringRef, flags int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[task.Tid]; !ok && len(p.inflight) >= p.inflightCapacity {
		p.metrics.ReportDroppedEvent(utils.DropTableFull)
		return
	}
	p.inflight[task.Tid] = inflightEntry{filename: filename, flags: flags}
}

// ExitOpen completes the open started on the same thread. Failed opens are
// discarded; successful ones with an absolute path are emitted.
func (p *ProbeSet) ExitOpen(task Task, rc int64) {
	p.mu.Lock()
	entry, ok := p.inflight[task.Tid]
	delete(p.inflight, task.Tid)
	p.mu.Unlock()

	if rc < 0 || !ok {
		return
	}
	p.ensureIdentity(task)
	p.emitOpen(task, entry.filename)
}

// SetupNewExec reports the loaded binary and, when it differs, the
// interpreter that runs it. A nil interp means the binary is native.
func (p *ProbeSet) SetupNewExec(task Task, filename, interp StringRef) {
	p.ensureIdentity(task)
	if filename == nil {
		return
	}
	p.emitOpen(task, filename)
	if interp != nil && interp != filename {
		p.emitOpen(task, interp)
	}
}

// CgroupMigrate records that pid moved to the cgroup at dstPath. The entry
// is overwritten unconditionally and is no longer a zombie.
func (p *ProbeSet) CgroupMigrate(pid uint32, dstPath StringRef) {
	cgroup, err := dstPath.Load()
	if err != nil {
		p.metrics.ReportDroppedEvent(utils.DropCopyFailed)
		return
	}
	if err := p.identities.Install(pid, cgroup); err != nil {
		p.metrics.ReportDroppedEvent(utils.DropTableFull)
	}
}

// ProcessExit marks the process of a main thread as a zombie and notifies
// userspace. Threads and untracked processes are ignored.
func (p *ProbeSet) ProcessExit(task Task) {
	if !task.IsMainThread() {
		return
	}
	if !p.identities.MarkZombie(task.Tgid) {
		return
	}
	if err := p.exits.Output(task.CPU, events.ExitEvent{Pid: task.Tgid}.Encode()); err != nil {
		p.metrics.ReportDroppedEvent(utils.DropOutputFull)
	}
}

// FsNotify repairs the identity of a process that was never seen or whose
// pid was reused after a zombie entry.
func (p *ProbeSet) FsNotify(task Task) {
	p.ensureIdentity(task)
}

// Reinstall replaces the identity of a pid now held by another process than
// the one it was installed for.
func (p *ProbeSet) Reinstall(task Task) {
	p.installCurrent(task)
}

func (p *ProbeSet) ensureIdentity(task Task) {
	existing, ok, _ := p.identities.Lookup(task.Tgid)
	if ok && !existing.Zombie {
		return
	}
	p.installCurrent(task)
}

func (p *ProbeSet) installCurrent(task Task) {
	cgroup, err := p.cgroups.CurrentCgroup(task)
	if err != nil {
		logger.L().Debug("ProbeSet - failed to read cgroup", helpers.Int("pid", int(task.Tgid)), helpers.Error(err))
		p.metrics.ReportDroppedEvent(utils.DropNoCgroup)
		return
	}
	if err := p.identities.Install(task.Tgid, cgroup); err != nil {
		p.metrics.ReportDroppedEvent(utils.DropTableFull)
	}
}

func (p *ProbeSet) emitOpen(task Task, ref StringRef) {
	path, err := ref.Load()
	if err != nil {
		p.metrics.ReportDroppedEvent(utils.DropCopyFailed)
		return
	}
	if !utils.IsAbsolutePath(path) {
		return
	}
	if err := p.opens.Output(task.CPU, events.OpenEvent{Pid: task.Tgid, Path: path}.Encode()); err != nil {
		p.metrics.ReportDroppedEvent(utils.DropOutputFull)
	}
}

// InflightLen returns the number of open calls awaiting their exit.
func (p *ProbeSet) InflightLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Identities exposes the process identity table written by the probes.
func (p *ProbeSet) Identities() *identity.Table {
	return p.identities
}
