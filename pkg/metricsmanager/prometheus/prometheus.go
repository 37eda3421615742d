package metricsmanager

import (
	"fmt"
	"net/http"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/kubescape/inuse-agent/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	eventTypeLabel = "event_type"
	reasonLabel    = "reason"
	kindLabel      = "kind"
	runtimeLabel   = "runtime"
	resultLabel    = "result"
)

var _ metricsmanager.MetricsManager = (*PrometheusMetric)(nil)

type PrometheusMetric struct {
	port                   int
	openCounter            prometheus.Counter
	exitCounter            prometheus.Counter
	lostCounter            *prometheus.CounterVec
	droppedCounter         *prometheus.CounterVec
	factCounter            prometheus.Counter
	duplicateCounter       prometheus.Counter
	fallbackCounter        *prometheus.CounterVec
	runtimeLookupCounter   *prometheus.CounterVec
	reclaimCounter         prometheus.Counter
	pendingOverflowCounter prometheus.Counter
}

func NewPrometheusMetric(port int) *PrometheusMetric {
	return &PrometheusMetric{
		port: port,
		openCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_open_counter",
			Help: "The total number of open events received from the probes",
		}),
		exitCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_exit_counter",
			Help: "The total number of process exit events received from the probes",
		}),
		lostCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inuse_agent_lost_events_counter",
			Help: "The total number of events lost in the transport buffers",
		}, []string{eventTypeLabel}),
		droppedCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inuse_agent_dropped_events_counter",
			Help: "The total number of events dropped before correlation",
		}, []string{reasonLabel}),
		factCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_facts_counter",
			Help: "The total number of file access facts forwarded to the uploader",
		}),
		duplicateCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_duplicates_counter",
			Help: "The total number of open events suppressed as duplicates",
		}),
		fallbackCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inuse_agent_fallback_identity_counter",
			Help: "The total number of events attributed to a fallback workload identity",
		}, []string{kindLabel}),
		runtimeLookupCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inuse_agent_runtime_lookup_counter",
			Help: "The total number of container runtime lookups by runtime and result",
		}, []string{runtimeLabel, resultLabel}),
		reclaimCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_identity_reclaimed_counter",
			Help: "The total number of process identities reclaimed after exit",
		}),
		pendingOverflowCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inuse_agent_pending_overflow_counter",
			Help: "The total number of events forwarded early because the pending queue was full",
		}),
	}
}

func (p *PrometheusMetric) Start() {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.L().Info("prometheus metrics server started", helpers.Int("port", p.port), helpers.String("path", "/metrics"))
		logger.L().Fatal(http.ListenAndServe(fmt.Sprintf(":%d", p.port), mux).Error())
	}()
}

func (p *PrometheusMetric) Destroy() {
	prometheus.Unregister(p.openCounter)
	prometheus.Unregister(p.exitCounter)
	prometheus.Unregister(p.lostCounter)
	prometheus.Unregister(p.droppedCounter)
	prometheus.Unregister(p.factCounter)
	prometheus.Unregister(p.duplicateCounter)
	prometheus.Unregister(p.fallbackCounter)
	prometheus.Unregister(p.runtimeLookupCounter)
	prometheus.Unregister(p.reclaimCounter)
	prometheus.Unregister(p.pendingOverflowCounter)
}

func (p *PrometheusMetric) ReportEvent(eventType utils.EventType) {
	switch eventType {
	case utils.OpenEventType:
		p.openCounter.Inc()
	case utils.ExitEventType:
		p.exitCounter.Inc()
	}
}

func (p *PrometheusMetric) ReportLostEvents(eventType utils.EventType, count uint64) {
	p.lostCounter.With(prometheus.Labels{eventTypeLabel: string(eventType)}).Add(float64(count))
}

func (p *PrometheusMetric) ReportDroppedEvent(reason utils.DropReason) {
	p.droppedCounter.With(prometheus.Labels{reasonLabel: string(reason)}).Inc()
}

func (p *PrometheusMetric) ReportKernelDrops(reason utils.DropReason, count uint64) {
	p.droppedCounter.With(prometheus.Labels{reasonLabel: string(reason)}).Add(float64(count))
}

func (p *PrometheusMetric) ReportFactForwarded() {
	p.factCounter.Inc()
}

func (p *PrometheusMetric) ReportDuplicateSuppressed() {
	p.duplicateCounter.Inc()
}

func (p *PrometheusMetric) ReportFallbackIdentity(kind string) {
	p.fallbackCounter.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func (p *PrometheusMetric) ReportRuntimeLookup(runtime, result string) {
	p.runtimeLookupCounter.With(prometheus.Labels{runtimeLabel: runtime, resultLabel: result}).Inc()
}

func (p *PrometheusMetric) ReportIdentityReclaimed() {
	p.reclaimCounter.Inc()
}

func (p *PrometheusMetric) ReportPendingOverflow() {
	p.pendingOverflowCounter.Inc()
}
