package containerruntime

import (
	"context"
	"errors"
	"regexp"
)

const (
	DockerRuntime     = "docker"
	PodmanRuntime     = "podman"
	ContainerdRuntime = "containerd"
	CrioRuntime       = "crio"
)

var ErrNotFound = errors.New("container not found")

// container ids are 64 hex characters somewhere in the cgroup name, e.g.
// docker-<id>.scope or cri-containerd-<id>.scope
var cgroupIDRegex = regexp.MustCompile(`[[:xdigit:]]{64}`)

// Info describes a container as reported by the runtime that owns it.
type Info struct {
	Runtime     string            `json:"runtime"`
	ContainerID string            `json:"containerId"`
	Name        string            `json:"name,omitempty"`
	Image       string            `json:"image,omitempty"`
	ImageID     string            `json:"imageId,omitempty"`
	RootFS      string            `json:"rootfs,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Runtime looks up containers in one container runtime.
type Runtime interface {
	Name() string
	// Inspect returns ErrNotFound when the runtime does not know the
	// container.
	Inspect(ctx context.Context, containerID string) (*Info, error)
	Close() error
}

// ContainerIDFromCgroup extracts the container id from a cgroup path or
// name. The last match wins for nested hierarchies.
func ContainerIDFromCgroup(cgroup string) (string, bool) {
	matches := cgroupIDRegex.FindAllString(cgroup, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1], true
}
