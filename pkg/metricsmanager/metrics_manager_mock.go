package metricsmanager

import (
	"sync"
	"sync/atomic"

	"github.com/goradd/maps"
	"github.com/kubescape/inuse-agent/pkg/utils"
)

var _ MetricsManager = (*MetricsMock)(nil)

// MetricsMock keeps every counter in memory. The keyed counters are only
// touched under mu, read them through the accessor methods.
type MetricsMock struct {
	mu                     sync.Mutex
	FactCounter            atomic.Int32
	DuplicateCounter       atomic.Int32
	ReclaimCounter         atomic.Int32
	PendingOverflowCounter atomic.Int32
	eventCounter           maps.SafeMap[utils.EventType, int]
	lostCounter            maps.SafeMap[utils.EventType, uint64]
	dropCounter            maps.SafeMap[utils.DropReason, int]
	fallbackCounter        maps.SafeMap[string, int]
	runtimeLookupCounter   maps.SafeMap[string, int] // key: "runtime:result"
}

func NewMetricsMock() *MetricsMock {
	return &MetricsMock{}
}

func (m *MetricsMock) Start() {
}

func (m *MetricsMock) Destroy() {
	m.FactCounter.Store(0)
	m.DuplicateCounter.Store(0)
	m.ReclaimCounter.Store(0)
	m.PendingOverflowCounter.Store(0)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCounter.Clear()
	m.lostCounter.Clear()
	m.dropCounter.Clear()
	m.fallbackCounter.Clear()
	m.runtimeLookupCounter.Clear()
}

func (m *MetricsMock) Events(eventType utils.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventCounter.Get(eventType)
}

func (m *MetricsMock) Lost(eventType utils.EventType) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lostCounter.Get(eventType)
}

func (m *MetricsMock) Drops(reason utils.DropReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropCounter.Get(reason)
}

func (m *MetricsMock) Fallbacks(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackCounter.Get(kind)
}

func (m *MetricsMock) RuntimeLookups(runtime, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runtimeLookupCounter.Get(runtime + ":" + result)
}

func (m *MetricsMock) ReportEvent(eventType utils.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCounter.Set(eventType, m.eventCounter.Get(eventType)+1)
}

func (m *MetricsMock) ReportLostEvents(eventType utils.EventType, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostCounter.Set(eventType, m.lostCounter.Get(eventType)+count)
}

func (m *MetricsMock) ReportDroppedEvent(reason utils.DropReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropCounter.Set(reason, m.dropCounter.Get(reason)+1)
}

func (m *MetricsMock) ReportKernelDrops(reason utils.DropReason, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropCounter.Set(reason, m.dropCounter.Get(reason)+int(count))
}

func (m *MetricsMock) ReportFactForwarded() {
	m.FactCounter.Add(1)
}

func (m *MetricsMock) ReportDuplicateSuppressed() {
	m.DuplicateCounter.Add(1)
}

func (m *MetricsMock) ReportFallbackIdentity(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackCounter.Set(kind, m.fallbackCounter.Get(kind)+1)
}

func (m *MetricsMock) ReportRuntimeLookup(runtime, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := runtime + ":" + result
	m.runtimeLookupCounter.Set(key, m.runtimeLookupCounter.Get(key)+1)
}

func (m *MetricsMock) ReportIdentityReclaimed() {
	m.ReclaimCounter.Add(1)
}

func (m *MetricsMock) ReportPendingOverflow() {
	m.PendingOverflowCounter.Add(1)
}
