package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goradd/maps"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/containerruntime"
	"github.com/kubescape/inuse-agent/pkg/cooldownqueue"
	"github.com/kubescape/inuse-agent/pkg/identity"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/panjf2000/ants/v2"
)

const (
	fallbackUnknown  = "unknown"
	fallbackPartial  = "partial"
	fallbackOverload = "overload"
)

type Config struct {
	GracePeriod      time.Duration
	EvictionInterval time.Duration
	CacheSize        int
	CacheTTL         time.Duration
	FailureTTL       time.Duration
	LookupRetries    uint
	Workers          int
	NotifyBuffer     int
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:      cooldownqueue.DefaultExpiration,
		EvictionInterval: cooldownqueue.EvictionInterval,
		CacheSize:        4096,
		CacheTTL:         10 * time.Minute,
		FailureTTL:       5 * time.Second,
		LookupRetries:    3,
		Workers:          4,
		NotifyBuffer:     256,
	}
}

// Resolver attributes processes to workloads. Process to cgroup mapping
// comes from the process table the probes maintain; cgroup to container
// metadata comes from the container runtimes and is cached.
type Resolver struct {
	cfg        Config
	table      identity.ProcessTable
	runtime    containerruntime.Runtime
	metrics    metricsmanager.MetricsManager
	resolved   *expirable.LRU[string, resolver.WorkloadIdentity]
	failed     *expirable.LRU[string, resolver.WorkloadIdentity]
	inflight   maps.SafeMap[string, struct{}]
	submitMu   sync.Mutex
	pool       *ants.Pool
	reclaim    *cooldownqueue.CooldownQueue[uint32]
	notify     chan string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
	newBackOff func() backoff.BackOff
}

var _ resolver.IdentityResolver = (*Resolver)(nil)

func CreateResolver(cfg Config, table identity.ProcessTable, runtime containerruntime.Runtime, metrics metricsmanager.MetricsManager) (*Resolver, error) {
	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		cfg:      cfg,
		table:    table,
		runtime:  runtime,
		metrics:  metrics,
		resolved: expirable.NewLRU[string, resolver.WorkloadIdentity](cfg.CacheSize, nil, cfg.CacheTTL),
		failed:   expirable.NewLRU[string, resolver.WorkloadIdentity](cfg.CacheSize, nil, cfg.FailureTTL),
		pool:     pool,
		reclaim:  cooldownqueue.NewCooldownQueue[uint32](cfg.GracePeriod, cfg.EvictionInterval),
		notify:   make(chan string, cfg.NotifyBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.newBackOff = func() backoff.BackOff {
		return backoff.NewExponentialBackOff()
	}
	return r, nil
}

func (r *Resolver) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reclaimLoop()
	}()
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.ctx.Done():
		}
	}()
}

func (r *Resolver) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.reclaim.Stop()
		r.pool.Release()
		r.wg.Wait()
	})
}

// reclaimLoop deletes identities whose grace period ended. A pid that was
// reused in the meantime no longer carries the zombie flag and is kept.
func (r *Resolver) reclaimLoop() {
	for pid := range r.reclaim.ResultChan() {
		deleted, err := r.table.DeleteIfZombie(pid)
		if err != nil {
			logger.L().Debug("Resolver - failed to reclaim identity", helpers.Int("pid", int(pid)), helpers.Error(err))
			continue
		}
		if deleted {
			r.metrics.ReportIdentityReclaimed()
		}
	}
}

func (r *Resolver) OnOpen(pid uint32) {
	r.reclaim.Touch(pid)
}

func (r *Resolver) OnExit(pid uint32) {
	r.reclaim.Enqueue(pid)
}

func (r *Resolver) Resolved() <-chan string {
	return r.notify
}

func (r *Resolver) ResolvePid(pid uint32) (resolver.WorkloadIdentity, bool) {
	process, ok, err := r.table.Lookup(pid)
	if err != nil {
		logger.L().Debug("Resolver - process table lookup failed", helpers.Int("pid", int(pid)), helpers.Error(err))
	}
	if !ok || process.CgroupPath == "" {
		r.metrics.ReportFallbackIdentity(fallbackUnknown)
		return resolver.UnknownIdentity(), true
	}
	return r.Resolve(process.CgroupPath)
}

func (r *Resolver) Resolve(cgroupPath string) (resolver.WorkloadIdentity, bool) {
	containerID, ok := containerruntime.ContainerIDFromCgroup(cgroupPath)
	if !ok {
		return resolver.HostIdentity(cgroupPath), true
	}
	if workload, ok := r.resolved.Get(cgroupPath); ok {
		return workload, true
	}
	if workload, ok := r.failed.Get(cgroupPath); ok {
		r.metrics.ReportFallbackIdentity(fallbackPartial)
		return workload, true
	}
	partial := resolver.ContainerIdentity(cgroupPath, containerID, nil)
	if !r.submit(cgroupPath, containerID) {
		r.metrics.ReportFallbackIdentity(fallbackOverload)
		r.failed.Add(cgroupPath, partial)
		return partial, true
	}
	return partial, false
}

// submit schedules a runtime lookup unless one is already running for the
// cgroup. It returns false when the lookup could not be scheduled.
func (r *Resolver) submit(cgroupPath, containerID string) bool {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()
	if r.inflight.Has(cgroupPath) {
		return true
	}
	if r.ctx.Err() != nil {
		return false
	}
	r.inflight.Set(cgroupPath, struct{}{})
	err := r.pool.Submit(func() {
		defer r.inflight.Delete(cgroupPath)
		r.lookup(cgroupPath, containerID)
	})
	if err != nil {
		r.inflight.Delete(cgroupPath)
		if !errors.Is(err, ants.ErrPoolOverload) {
			logger.L().Warning("Resolver - failed to schedule runtime lookup", helpers.String("cgroup", cgroupPath), helpers.Error(err))
		}
		return false
	}
	return true
}

func (r *Resolver) lookup(cgroupPath, containerID string) {
	info, err := backoff.Retry(r.ctx, func() (*containerruntime.Info, error) {
		info, err := r.runtime.Inspect(r.ctx, containerID)
		if errors.Is(err, containerruntime.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return info, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.cfg.LookupRetries))

	switch {
	case err == nil:
		r.resolved.Add(cgroupPath, resolver.ContainerIdentity(cgroupPath, containerID, info))
		r.failed.Remove(cgroupPath)
	case errors.Is(err, containerruntime.ErrNotFound):
		logger.L().Debug("Resolver - no runtime claims cgroup", helpers.String("cgroup", cgroupPath))
		r.resolved.Add(cgroupPath, resolver.HostIdentity(cgroupPath))
		r.failed.Remove(cgroupPath)
	default:
		logger.L().Warning("Resolver - runtime lookup failed", helpers.String("cgroup", cgroupPath), helpers.String("containerID", containerID), helpers.Error(err))
		r.failed.Add(cgroupPath, resolver.ContainerIdentity(cgroupPath, containerID, nil))
	}

	select {
	case r.notify <- cgroupPath:
	default:
		logger.L().Debug("Resolver - notification channel full", helpers.String("cgroup", cgroupPath))
	}
}
