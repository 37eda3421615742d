package identity

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/kubescape/inuse-agent/pkg/ebpf/events"
)

// MapTable reads the pid_to_info map of the loaded kernel probes.
type MapTable struct {
	m *ebpf.Map
}

var _ ProcessTable = (*MapTable)(nil)

func NewMapTable(m *ebpf.Map) *MapTable {
	return &MapTable{m: m}
}

func (t *MapTable) Lookup(pid uint32) (ProcessIdentity, bool, error) {
	var raw events.RawProcessInfo
	if err := t.m.Lookup(pid, &raw); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return ProcessIdentity{}, false, nil
		}
		return ProcessIdentity{}, false, fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	info := raw.Decode()
	return ProcessIdentity{Pid: pid, CgroupPath: info.Cgroup, Zombie: info.Zombie}, true, nil
}

// DeleteIfZombie cannot be atomic against the kernel writers. A probe that
// refreshes the entry between the lookup and the delete loses it, and the
// next open or notification of that process installs it again.
func (t *MapTable) DeleteIfZombie(pid uint32) (bool, error) {
	identity, ok, err := t.Lookup(pid)
	if err != nil || !ok || !identity.Zombie {
		return false, err
	}
	if err := t.m.Delete(pid); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("deleting pid %d: %w", pid, err)
	}
	return true, nil
}
