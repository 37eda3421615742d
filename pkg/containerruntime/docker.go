package containerruntime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

type dockerClient interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	Close() error
}

// Docker talks to a Docker Engine compatible API. Podman serves the same
// API, so the daemon behind a socket is identified from its version
// components on first use.
type Docker struct {
	client   dockerClient
	endpoint string
	mu       sync.Mutex
	detected bool
	name     string
}

var _ Runtime = (*Docker)(nil)

// NewDocker creates a client for the Docker socket. The client connects
// lazily, so a missing daemon only surfaces on lookup.
func NewDocker(endpoint string) (*Docker, error) {
	return newDockerAPI(endpoint, DockerRuntime)
}

// NewPodman creates a client for the Podman Docker compatible socket.
func NewPodman(endpoint string) (*Docker, error) {
	return newDockerAPI(endpoint, PodmanRuntime)
}

func newDockerAPI(endpoint, name string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(endpoint), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating %s client for %s: %w", name, endpoint, err)
	}
	return &Docker{client: cli, endpoint: endpoint, name: name}, nil
}

func (d *Docker) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// detect retries on every lookup until the daemon answers once.
func (d *Docker) detect(ctx context.Context) {
	d.mu.Lock()
	detected := d.detected
	d.mu.Unlock()
	if detected {
		return
	}
	v, err := d.client.ServerVersion(ctx)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detected = true
	if isPodman(v) && d.name != PodmanRuntime {
		logger.L().Info("Docker - podman detected behind docker socket", helpers.String("endpoint", d.endpoint))
		d.name = PodmanRuntime
	}
}

func isPodman(v types.Version) bool {
	for _, c := range v.Components {
		if strings.Contains(strings.ToLower(c.Name), PodmanRuntime) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(v.Platform.Name), PodmanRuntime)
}

func (d *Docker) Inspect(ctx context.Context, containerID string) (*Info, error) {
	d.detect(ctx)
	resp, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info := &Info{
		Runtime:     d.Name(),
		ContainerID: containerID,
	}
	if resp.ContainerJSONBase != nil {
		info.ContainerID = resp.ID
		info.Name = strings.TrimPrefix(resp.Name, "/")
		info.ImageID = resp.Image
		info.RootFS = resp.GraphDriver.Data["MergedDir"]
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	return info, nil
}

func (d *Docker) Close() error {
	return d.client.Close()
}
