package containerruntime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/containerd/containerd/containers"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
)

var testID = strings.Repeat("ab12", 16)

func TestContainerIDFromCgroup(t *testing.T) {
	tests := []struct {
		name   string
		cgroup string
		want   string
		found  bool
	}{
		{name: "docker scope", cgroup: "/system.slice/docker-" + testID + ".scope", want: testID, found: true},
		{name: "containerd leaf name", cgroup: "cri-containerd-" + testID + ".scope", want: testID, found: true},
		{name: "cgroupfs driver", cgroup: "/kubepods/besteffort/pod1234/" + testID, want: testID, found: true},
		{name: "host service", cgroup: "/system.slice/sshd.service", found: false},
		{name: "root", cgroup: "/", found: false},
		{name: "too short", cgroup: "/docker/" + testID[:63], found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ContainerIDFromCgroup(tt.cgroup)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerIDFromNestedCgroupTakesLast(t *testing.T) {
	outer := strings.Repeat("0", 64)
	got, ok := ContainerIDFromCgroup("/docker/" + outer + "/docker/" + testID)
	require.True(t, ok)
	assert.Equal(t, testID, got)
}

type fakeRuntime struct {
	name  string
	info  *Info
	err   error
	delay time.Duration
	calls int
}

func (f *fakeRuntime) Name() string { return f.name }

func (f *fakeRuntime) Inspect(ctx context.Context, _ string) (*Info, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.info, f.err
}

func (f *fakeRuntime) Close() error { return nil }

func TestChainFirstResponderWins(t *testing.T) {
	docker := &fakeRuntime{name: DockerRuntime, err: ErrNotFound}
	containerd := &fakeRuntime{name: ContainerdRuntime, info: &Info{Runtime: ContainerdRuntime, ContainerID: testID}}
	crio := &fakeRuntime{name: CrioRuntime, info: &Info{Runtime: CrioRuntime, ContainerID: testID}}
	metrics := metricsmanager.NewMetricsMock()

	info, err := NewChain(time.Second, metrics, docker, containerd, crio).Inspect(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, ContainerdRuntime, info.Runtime)
	assert.Equal(t, 0, crio.calls)
	assert.Equal(t, 1, metrics.RuntimeLookups("docker", "not_found"))
	assert.Equal(t, 1, metrics.RuntimeLookups("containerd", "found"))
}

func TestChainAllNotFound(t *testing.T) {
	chain := NewChain(time.Second, metricsmanager.NewMetricsMock(),
		&fakeRuntime{name: DockerRuntime, err: ErrNotFound},
		&fakeRuntime{name: CrioRuntime, err: ErrNotFound})
	_, err := chain.Inspect(context.Background(), testID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewChain(time.Second, metricsmanager.NewMetricsMock()).Inspect(context.Background(), testID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChainErrorIsNotNotFound(t *testing.T) {
	boom := errors.New("connection refused")
	chain := NewChain(time.Second, metricsmanager.NewMetricsMock(),
		&fakeRuntime{name: DockerRuntime, err: boom},
		&fakeRuntime{name: CrioRuntime, err: ErrNotFound})
	_, err := chain.Inspect(context.Background(), testID)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, err, boom)
}

func TestChainBoundsEachRuntime(t *testing.T) {
	slow := &fakeRuntime{name: DockerRuntime, delay: time.Minute}
	fast := &fakeRuntime{name: CrioRuntime, info: &Info{Runtime: CrioRuntime}}
	start := time.Now()
	info, err := NewChain(20*time.Millisecond, metricsmanager.NewMetricsMock(), slow, fast).Inspect(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, CrioRuntime, info.Runtime)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type fakeDockerClient struct {
	resp    container.InspectResponse
	err     error
	version types.Version
}

func (f *fakeDockerClient) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return f.resp, f.err
}

func (f *fakeDockerClient) ServerVersion(context.Context) (types.Version, error) {
	return f.version, nil
}

func (f *fakeDockerClient) Close() error { return nil }

func TestDockerInspect(t *testing.T) {
	cli := &fakeDockerClient{
		resp: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{ID: testID, Name: "/web", Image: "sha256:feed"},
			Config:            &container.Config{Image: "nginx:1.25", Labels: map[string]string{"app": "web"}},
		},
	}
	d := &Docker{client: cli, name: DockerRuntime}
	info, err := d.Inspect(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, &Info{
		Runtime:     DockerRuntime,
		ContainerID: testID,
		Name:        "web",
		Image:       "nginx:1.25",
		ImageID:     "sha256:feed",
		Labels:      map[string]string{"app": "web"},
	}, info)
}

func TestDockerNotFound(t *testing.T) {
	d := &Docker{client: &fakeDockerClient{err: cerrdefs.ErrNotFound}, name: DockerRuntime}
	_, err := d.Inspect(context.Background(), testID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDockerDetectsPodman(t *testing.T) {
	cli := &fakeDockerClient{
		resp:    container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{ID: testID}},
		version: types.Version{Components: []types.ComponentVersion{{Name: "Podman Engine"}}},
	}
	d := &Docker{client: cli, name: DockerRuntime}
	info, err := d.Inspect(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, PodmanRuntime, info.Runtime)
	assert.Equal(t, PodmanRuntime, d.Name())
}

func TestInfoFromContainerd(t *testing.T) {
	info := infoFromContainerd(containers.Container{
		ID:    testID,
		Image: "docker.io/library/redis:7",
		Labels: map[string]string{
			k8sContainerNameLabel: "redis",
			k8sPodNameLabel:       "cache-0",
			k8sPodNamespaceLabel:  "default",
		},
	}, DefaultContainerdNamespace)
	assert.Equal(t, ContainerdRuntime, info.Runtime)
	assert.Equal(t, "default/cache-0/redis", info.Name)
	assert.Equal(t, "docker.io/library/redis:7", info.Image)
	assert.Equal(t, "/run/containerd/io.containerd.runtime.v2.task/k8s.io/"+testID+"/rootfs", info.RootFS)

	bare := infoFromContainerd(containers.Container{ID: testID}, "moby")
	assert.Equal(t, testID, bare.Name)
}

type fakeStatusClient struct {
	resp *runtimeapi.ContainerStatusResponse
	err  error
}

func (f *fakeStatusClient) ContainerStatus(context.Context, *runtimeapi.ContainerStatusRequest, ...grpc.CallOption) (*runtimeapi.ContainerStatusResponse, error) {
	return f.resp, f.err
}

func TestCrioInspect(t *testing.T) {
	c := &Crio{client: &fakeStatusClient{resp: &runtimeapi.ContainerStatusResponse{
		Status: &runtimeapi.ContainerStatus{
			Id:       testID,
			Metadata: &runtimeapi.ContainerMetadata{Name: "api"},
			Image:    &runtimeapi.ImageSpec{Image: "quay.io/org/api:v2"},
			ImageRef: "quay.io/org/api@sha256:abc",
		},
	}}}
	info, err := c.Inspect(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, CrioRuntime, info.Runtime)
	assert.Equal(t, "api", info.Name)
	assert.Equal(t, "quay.io/org/api:v2", info.Image)
	assert.Equal(t, "quay.io/org/api@sha256:abc", info.ImageID)
}

func TestCrioNotFound(t *testing.T) {
	c := &Crio{client: &fakeStatusClient{err: status.Error(codes.NotFound, "no such container")}}
	_, err := c.Inspect(context.Background(), testID)
	assert.ErrorIs(t, err, ErrNotFound)

	c = &Crio{client: &fakeStatusClient{err: status.Error(codes.Unavailable, "down")}}
	_, err = c.Inspect(context.Background(), testID)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewChainFromConfigSkipsDisabled(t *testing.T) {
	cfgs := DefaultConfigs()
	for i := range cfgs {
		cfgs[i].Enabled = cfgs[i].Name == ContainerdRuntime
	}
	chain := NewChainFromConfig(cfgs, time.Second, time.Second, metricsmanager.NewMetricsMock())
	assert.Equal(t, 1, chain.Len())
	assert.NoError(t, chain.Close())
}
