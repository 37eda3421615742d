package exporters

import (
	"strings"
	"time"

	"github.com/kubescape/inuse-agent/pkg/containerruntime"
	"github.com/kubescape/inuse-agent/pkg/resolver"
)

var testContainerID = strings.Repeat("0f", 32)

func testFact() Fact {
	return Fact{
		Workload: resolver.ContainerIdentity("cri-containerd-"+testContainerID+".scope", testContainerID, &containerruntime.Info{
			Runtime:     containerruntime.ContainerdRuntime,
			ContainerID: testContainerID,
			Name:        "default/web/nginx",
			Image:       "docker.io/library/nginx:1.27",
		}),
		Path:      "/etc/nginx/nginx.conf",
		Pid:       4242,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}
