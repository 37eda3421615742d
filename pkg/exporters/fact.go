package exporters

import (
	"time"

	"github.com/kubescape/inuse-agent/pkg/resolver"
)

// Fact states that a workload accessed a file.
type Fact struct {
	Workload  resolver.WorkloadIdentity `json:"workload"`
	Path      string                    `json:"path"`
	Pid       uint32                    `json:"pid"`
	Timestamp time.Time                 `json:"timestamp"`
}

// workloadName is a human readable name of the workload for flat sinks.
func (f Fact) workloadName() string {
	if f.Workload.Runtime != nil && f.Workload.Runtime.Name != "" {
		return f.Workload.Runtime.Name
	}
	return f.Workload.Key()
}

func (f Fact) image() string {
	if f.Workload.Runtime == nil {
		return ""
	}
	return f.Workload.Runtime.Image
}

func (f Fact) runtime() string {
	if f.Workload.Runtime == nil {
		return ""
	}
	return f.Workload.Runtime.Runtime
}
