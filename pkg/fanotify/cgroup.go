package fanotify

import (
	"fmt"

	"github.com/kubescape/inuse-agent/pkg/probeset"
	"github.com/prometheus/procfs"
)

// procCgroupReader reads the cgroup of a task from /proc/<pid>/cgroup.
type procCgroupReader struct {
	fs procfs.FS
}

var _ probeset.CgroupReader = (*procCgroupReader)(nil)

func NewCgroupReader(fs procfs.FS) probeset.CgroupReader {
	return &procCgroupReader{fs: fs}
}

// CurrentCgroup prefers the unified hierarchy and falls back to the last
// v1 hierarchy listed, which names the container on hybrid hosts as well.
func (r *procCgroupReader) CurrentCgroup(task probeset.Task) (string, error) {
	proc, err := r.fs.Proc(int(task.Tgid))
	if err != nil {
		return "", err
	}
	cgroups, err := proc.Cgroups()
	if err != nil {
		return "", err
	}
	if len(cgroups) == 0 {
		return "", fmt.Errorf("no cgroup for pid %d", task.Tgid)
	}
	for _, cg := range cgroups {
		if cg.HierarchyID == 0 {
			return cg.Path, nil
		}
	}
	return cgroups[len(cgroups)-1].Path, nil
}
