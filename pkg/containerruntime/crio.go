package containerruntime

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
)

type containerStatusClient interface {
	ContainerStatus(ctx context.Context, in *runtimeapi.ContainerStatusRequest, opts ...grpc.CallOption) (*runtimeapi.ContainerStatusResponse, error)
}

// Crio looks containers up through the CRI runtime service of CRI-O.
type Crio struct {
	conn   *grpc.ClientConn
	client containerStatusClient
}

var _ Runtime = (*Crio)(nil)

// NewCrio creates a CRI client for endpoint, e.g.
// unix:///var/run/crio/crio.sock. The connection is established on first
// use.
func NewCrio(endpoint string) (*Crio, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating CRI client for %s: %w", endpoint, err)
	}
	return &Crio{
		conn:   conn,
		client: runtimeapi.NewRuntimeServiceClient(conn),
	}, nil
}

func (c *Crio) Name() string {
	return CrioRuntime
}

func (c *Crio) Inspect(ctx context.Context, containerID string) (*Info, error) {
	resp, err := c.client.ContainerStatus(ctx, &runtimeapi.ContainerStatusRequest{ContainerId: containerID})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s := resp.GetStatus()
	if s == nil {
		return nil, ErrNotFound
	}
	return &Info{
		Runtime:     CrioRuntime,
		ContainerID: s.GetId(),
		Name:        s.GetMetadata().GetName(),
		Image:       s.GetImage().GetImage(),
		ImageID:     s.GetImageRef(),
		Labels:      s.GetLabels(),
	}, nil
}

func (c *Crio) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
