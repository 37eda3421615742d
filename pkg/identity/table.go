package identity

import (
	"sync"
)

type entry struct {
	cgroup string
	zombie bool
}

// Table is a fixed-capacity process identity table. Inserting a new pid
// into a full table fails with ErrTableFull and leaves the table unchanged;
// updates of existing entries always succeed.
type Table struct {
	mu       sync.RWMutex
	capacity int
	entries  map[uint32]entry
}

var _ ProcessTable = (*Table)(nil)

func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		entries:  make(map[uint32]entry, capacity),
	}
}

func (t *Table) Lookup(pid uint32) (ProcessIdentity, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[pid]
	if !ok {
		return ProcessIdentity{}, false, nil
	}
	return ProcessIdentity{Pid: pid, CgroupPath: e.cgroup, Zombie: e.zombie}, true, nil
}

// Install writes a live identity for pid, superseding any previous entry.
func (t *Table) Install(pid uint32, cgroup string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[pid]; !ok && len(t.entries) >= t.capacity {
		return ErrTableFull
	}
	t.entries[pid] = entry{cgroup: cgroup}
	return nil
}

// MarkZombie flags the entry of pid as exited. It reports whether an entry
// existed.
func (t *Table) MarkZombie(pid uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pid]
	if !ok {
		return false
	}
	e.zombie = true
	t.entries[pid] = e
	return true
}

func (t *Table) DeleteIfZombie(pid uint32) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[pid]; ok && e.zombie {
		delete(t.entries, pid)
		return true, nil
	}
	return false, nil
}

func (t *Table) Delete(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pid)
}

// Pids returns a snapshot of the tracked pids.
func (t *Table) Pids() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pids := make([]uint32, 0, len(t.entries))
	for pid := range t.entries {
		pids = append(pids, pid)
	}
	return pids
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
