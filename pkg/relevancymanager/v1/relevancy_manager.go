package relevancymanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/dedup"
	"github.com/kubescape/inuse-agent/pkg/ebpf/events"
	"github.com/kubescape/inuse-agent/pkg/exporters"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/kubescape/inuse-agent/pkg/relevancymanager"
	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/kubescape/inuse-agent/pkg/utils"
	"github.com/oleiade/lane/v2"
)

const minPendingTick = 10 * time.Millisecond

type Config struct {
	PendingTimeout   time.Duration
	MaxPendingEvents int
	EventBufferSize  int
	FactBufferSize   int
}

func DefaultConfig() Config {
	return Config{
		PendingTimeout:   500 * time.Millisecond,
		MaxPendingEvents: 4096,
		EventBufferSize:  1024,
		FactBufferSize:   1024,
	}
}

// PathFilter maps an opened path to the file reported for the workload, or
// rejects it.
type PathFilter interface {
	Resolve(workload resolver.WorkloadIdentity, pid uint32, path string) (string, utils.DropReason, bool)
}

// parkedOpen is an open event waiting for the runtime lookup of its cgroup.
type parkedOpen struct {
	pid      uint32
	path     string
	received time.Time
}

// RelevancyManager correlates open events with workloads and forwards each
// (workload, path) pair once.
type RelevancyManager struct {
	cfg      Config
	resolver resolver.IdentityResolver
	dedup    dedup.Set
	paths    PathFilter
	exporter exporters.Exporter
	metrics  metricsmanager.MetricsManager

	opens chan events.OpenEvent
	exits chan events.ExitEvent
	facts chan exporters.Fact

	// pending is owned by the core loop
	pending      map[string]*lane.Queue[parkedOpen]
	pendingCount int

	now     func() time.Time
	ready   atomic.Bool
	wg      sync.WaitGroup
	pollers sync.WaitGroup
}

var _ relevancymanager.RelevancyManagerClient = (*RelevancyManager)(nil)

// CreateRelevancyManager builds the engine. A nil paths forwards every
// absolute path as reported.
func CreateRelevancyManager(cfg Config, identityResolver resolver.IdentityResolver, seen dedup.Set, paths PathFilter, exporter exporters.Exporter, metrics metricsmanager.MetricsManager) *RelevancyManager {
	return &RelevancyManager{
		cfg:      cfg,
		resolver: identityResolver,
		dedup:    seen,
		paths:    paths,
		exporter: exporter,
		metrics:  metrics,
		opens:    make(chan events.OpenEvent, cfg.EventBufferSize),
		exits:    make(chan events.ExitEvent, cfg.EventBufferSize),
		facts:    make(chan exporters.Fact, cfg.FactBufferSize),
		pending:  make(map[string]*lane.Queue[parkedOpen]),
		now:      time.Now,
	}
}

func (rm *RelevancyManager) StartRelevancyManager(ctx context.Context, opens, exits transport.Reader) {
	rm.pollers.Add(2)
	go rm.poll(ctx, opens, utils.OpenEventType)
	go rm.poll(ctx, exits, utils.ExitEventType)

	// readers block in Read, closing them is the only way to stop the pollers
	go func() {
		<-ctx.Done()
		if err := errors.Join(opens.Close(), exits.Close()); err != nil {
			logger.L().Debug("RelevancyManager - failed to close readers", helpers.Error(err))
		}
	}()

	rm.wg.Add(2)
	go func() {
		defer rm.wg.Done()
		defer close(rm.facts)
		rm.run(ctx)
	}()
	go func() {
		defer rm.wg.Done()
		rm.upload(context.WithoutCancel(ctx))
	}()
	rm.ready.Store(true)
	logger.L().Info("RelevancyManager - started", helpers.String("pendingTimeout", rm.cfg.PendingTimeout.String()))
}

func (rm *RelevancyManager) Wait() {
	rm.wg.Wait()
	rm.pollers.Wait()
}

func (rm *RelevancyManager) Ready() bool {
	return rm.ready.Load()
}

func (rm *RelevancyManager) poll(ctx context.Context, reader transport.Reader, eventType utils.EventType) {
	defer rm.pollers.Done()
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			logger.L().Debug("RelevancyManager - failed to read record", helpers.String("type", string(eventType)), helpers.Error(err))
			continue
		}
		if record.LostSamples > 0 {
			rm.metrics.ReportLostEvents(eventType, record.LostSamples)
			continue
		}
		if !rm.dispatch(ctx, eventType, record.RawSample) {
			return
		}
	}
}

// dispatch decodes a sample and hands it to the core loop. It returns false
// once ctx is cancelled.
func (rm *RelevancyManager) dispatch(ctx context.Context, eventType utils.EventType, raw []byte) bool {
	switch eventType {
	case utils.OpenEventType:
		event, err := events.DecodeOpenEvent(raw)
		if err != nil {
			rm.metrics.ReportDroppedEvent(utils.DropDecodeFailed)
			return true
		}
		select {
		case rm.opens <- event:
		case <-ctx.Done():
			return false
		}
	case utils.ExitEventType:
		event, err := events.DecodeExitEvent(raw)
		if err != nil {
			rm.metrics.ReportDroppedEvent(utils.DropDecodeFailed)
			return true
		}
		select {
		case rm.exits <- event:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (rm *RelevancyManager) run(ctx context.Context) {
	tick := rm.cfg.PendingTimeout / 4
	if tick < minPendingTick {
		tick = minPendingTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case event := <-rm.opens:
			rm.handleOpen(ctx, event)
		case event := <-rm.exits:
			rm.metrics.ReportEvent(utils.ExitEventType)
			rm.resolver.OnExit(event.Pid)
		case cgroupPath := <-rm.resolver.Resolved():
			rm.flush(ctx, cgroupPath)
		case <-ticker.C:
			rm.expirePending(ctx)
		case <-ctx.Done():
			rm.flushAll(ctx)
			return
		}
	}
}

func (rm *RelevancyManager) handleOpen(ctx context.Context, event events.OpenEvent) {
	rm.metrics.ReportEvent(utils.OpenEventType)
	if !utils.IsAbsolutePath(event.Path) {
		rm.metrics.ReportDroppedEvent(utils.DropRelativePath)
		return
	}
	rm.resolver.OnOpen(event.Pid)
	workload, ready := rm.resolver.ResolvePid(event.Pid)
	if !ready {
		rm.park(ctx, workload.CgroupPath, parkedOpen{pid: event.Pid, path: event.Path, received: rm.now()})
		return
	}
	// events parked earlier for the same cgroup go first
	if _, ok := rm.pending[workload.CgroupPath]; ok {
		rm.flush(ctx, workload.CgroupPath)
	}
	rm.forward(ctx, workload, event.Pid, event.Path, rm.now())
}

func (rm *RelevancyManager) park(ctx context.Context, cgroupPath string, event parkedOpen) {
	if rm.pendingCount >= rm.cfg.MaxPendingEvents {
		rm.metrics.ReportPendingOverflow()
		if _, ok := rm.pending[cgroupPath]; ok {
			rm.flush(ctx, cgroupPath)
		}
		workload, _ := rm.resolver.Resolve(cgroupPath)
		rm.forward(ctx, workload, event.pid, event.path, event.received)
		return
	}
	queue, ok := rm.pending[cgroupPath]
	if !ok {
		queue = lane.NewQueue[parkedOpen]()
		rm.pending[cgroupPath] = queue
	}
	queue.Enqueue(event)
	rm.pendingCount++
}

// flush forwards every event parked for cgroupPath, in arrival order, under
// the identity the resolver reports now.
func (rm *RelevancyManager) flush(ctx context.Context, cgroupPath string) {
	queue, ok := rm.pending[cgroupPath]
	if !ok {
		return
	}
	delete(rm.pending, cgroupPath)
	workload, _ := rm.resolver.Resolve(cgroupPath)
	for {
		event, ok := queue.Dequeue()
		if !ok {
			break
		}
		rm.pendingCount--
		rm.forward(ctx, workload, event.pid, event.path, event.received)
	}
}

func (rm *RelevancyManager) expirePending(ctx context.Context) {
	deadline := rm.now().Add(-rm.cfg.PendingTimeout)
	for cgroupPath, queue := range rm.pending {
		head, ok := queue.Head()
		if !ok || !head.received.After(deadline) {
			rm.flush(ctx, cgroupPath)
		}
	}
}

func (rm *RelevancyManager) flushAll(ctx context.Context) {
	for cgroupPath := range rm.pending {
		rm.flush(ctx, cgroupPath)
	}
}

func (rm *RelevancyManager) forward(ctx context.Context, workload resolver.WorkloadIdentity, pid uint32, path string, received time.Time) {
	if rm.paths != nil {
		resolved, reason, ok := rm.paths.Resolve(workload, pid, path)
		if !ok {
			rm.metrics.ReportDroppedEvent(reason)
			return
		}
		path = resolved
	}
	if !rm.dedup.TestAndInsert(dedup.Key{Workload: workload.Key(), Path: path}) {
		rm.metrics.ReportDuplicateSuppressed()
		return
	}
	fact := exporters.Fact{
		Workload:  workload,
		Path:      path,
		Pid:       pid,
		Timestamp: received,
	}
	// a full buffer blocks the core loop and, through it, the pollers
	select {
	case rm.facts <- fact:
	case <-ctx.Done():
		// shutting down, the uploader still drains what fits
		select {
		case rm.facts <- fact:
		default:
			logger.L().Debug("RelevancyManager - fact dropped on shutdown", helpers.String("path", path))
			return
		}
	}
	rm.metrics.ReportFactForwarded()
}

func (rm *RelevancyManager) upload(ctx context.Context) {
	for fact := range rm.facts {
		if err := rm.exporter.SendFact(ctx, fact); err != nil {
			logger.L().Warning("RelevancyManager - failed to export fact", helpers.String("workload", fact.Workload.Key()), helpers.String("path", fact.Path), helpers.Error(err))
		}
	}
}
