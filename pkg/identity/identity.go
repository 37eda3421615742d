package identity

import (
	"errors"
	"fmt"
)

var ErrTableFull = errors.New("process table full")

// ProcessIdentity is what the probes know about a process: the cgroup it
// runs in and whether its main thread has exited.
type ProcessIdentity struct {
	Pid        uint32
	CgroupPath string
	Zombie     bool
}

func (p ProcessIdentity) String() string {
	return fmt.Sprintf("pid=%d cgroup=%q zombie=%t", p.Pid, p.CgroupPath, p.Zombie)
}

// ProcessTable is the userspace view of the per-process identity table
// written by the probes.
type ProcessTable interface {
	Lookup(pid uint32) (ProcessIdentity, bool, error)
	// DeleteIfZombie removes the entry for pid only while it is still
	// marked zombie. An entry refreshed by a reused pid is left in place.
	DeleteIfZombie(pid uint32) (bool, error)
}
