package containerruntime

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/namespaces"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

const (
	// DefaultContainerdNamespace is where the CRI plugin keeps Kubernetes
	// containers.
	DefaultContainerdNamespace = "k8s.io"

	// the shim mounts the rootfs of each task under <root>/<namespace>/<id>/rootfs
	containerdTaskRoot = "/run/containerd/io.containerd.runtime.v2.task"

	k8sContainerNameLabel = "io.kubernetes.container.name"
	k8sPodNameLabel       = "io.kubernetes.pod.name"
	k8sPodNamespaceLabel  = "io.kubernetes.pod.namespace"
)

// Containerd looks containers up through the native containerd API.
type Containerd struct {
	address     string
	namespace   string
	dialTimeout time.Duration
	mu          sync.Mutex
	client      *containerd.Client
}

var _ Runtime = (*Containerd)(nil)

func NewContainerd(address, namespace string, dialTimeout time.Duration) *Containerd {
	if namespace == "" {
		namespace = DefaultContainerdNamespace
	}
	return &Containerd{
		address:     address,
		namespace:   namespace,
		dialTimeout: dialTimeout,
	}
}

func (c *Containerd) Name() string {
	return ContainerdRuntime
}

func (c *Containerd) connect() (*containerd.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cl, err := containerd.New(c.address, containerd.WithDefaultNamespace(c.namespace), containerd.WithTimeout(c.dialTimeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", c.address, err)
	}
	logger.L().Info("Containerd - connected", helpers.String("address", c.address), helpers.String("namespace", c.namespace))
	c.client = cl
	return cl, nil
}

func (c *Containerd) Inspect(ctx context.Context, containerID string) (*Info, error) {
	cl, err := c.connect()
	if err != nil {
		return nil, err
	}
	ctx = namespaces.WithNamespace(ctx, c.namespace)
	cont, err := cl.LoadContainer(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta, err := cont.Info(ctx, containerd.WithoutRefreshedMetadata)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info := infoFromContainerd(meta, c.namespace)
	if img, err := cont.Image(ctx); err == nil {
		info.ImageID = img.Target().Digest.String()
	}
	return info, nil
}

func infoFromContainerd(meta containers.Container, namespace string) *Info {
	name := meta.Labels[k8sContainerNameLabel]
	if pod := meta.Labels[k8sPodNameLabel]; pod != "" && name != "" {
		name = meta.Labels[k8sPodNamespaceLabel] + "/" + pod + "/" + name
	}
	if name == "" {
		name = meta.ID
	}
	return &Info{
		Runtime:     ContainerdRuntime,
		ContainerID: meta.ID,
		Name:        name,
		Image:       meta.Image,
		RootFS:      path.Join(containerdTaskRoot, namespace, meta.ID, "rootfs"),
		Labels:      meta.Labels,
	}
}

func (c *Containerd) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
