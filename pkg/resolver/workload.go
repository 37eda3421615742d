package resolver

import (
	"github.com/kubescape/inuse-agent/pkg/containerruntime"
)

type Kind string

const (
	KindHost      Kind = "host"
	KindContainer Kind = "container"
	// KindUnknown is used when the process could not be attributed.
	KindUnknown Kind = "unknown"
)

const hostKey = "host"

// WorkloadIdentity is the unit file accesses are attributed to: the host
// itself or one container.
type WorkloadIdentity struct {
	Kind        Kind                   `json:"kind"`
	CgroupPath  string                 `json:"cgroupPath,omitempty"`
	ContainerID string                 `json:"containerId,omitempty"`
	Runtime     *containerruntime.Info `json:"runtime,omitempty"`
}

// Key identifies the workload. Host processes in different cgroups belong
// to the same workload; a container is the same workload whether or not its
// runtime metadata is known yet.
func (w WorkloadIdentity) Key() string {
	switch w.Kind {
	case KindContainer:
		return string(KindContainer) + ":" + w.ContainerID
	case KindHost:
		return hostKey
	default:
		return string(KindUnknown)
	}
}

// Partial reports whether the identity lacks runtime metadata.
func (w WorkloadIdentity) Partial() bool {
	return w.Kind == KindUnknown || (w.Kind == KindContainer && w.Runtime == nil)
}

func HostIdentity(cgroupPath string) WorkloadIdentity {
	return WorkloadIdentity{Kind: KindHost, CgroupPath: cgroupPath}
}

func UnknownIdentity() WorkloadIdentity {
	return WorkloadIdentity{Kind: KindUnknown}
}

func ContainerIdentity(cgroupPath, containerID string, info *containerruntime.Info) WorkloadIdentity {
	return WorkloadIdentity{Kind: KindContainer, CgroupPath: cgroupPath, ContainerID: containerID, Runtime: info}
}
