package metricsmanager

import "github.com/kubescape/inuse-agent/pkg/utils"

// MetricsManager is an interface for reporting metrics
type MetricsManager interface {
	Start()
	Destroy()
	ReportEvent(eventType utils.EventType)
	ReportLostEvents(eventType utils.EventType, count uint64)
	ReportDroppedEvent(reason utils.DropReason)
	ReportKernelDrops(reason utils.DropReason, count uint64)
	ReportFactForwarded()
	ReportDuplicateSuppressed()
	ReportFallbackIdentity(kind string)
	ReportRuntimeLookup(runtime, result string)
	ReportIdentityReclaimed()
	ReportPendingOverflow()
}
