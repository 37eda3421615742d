package resolver

import (
	"context"
	"sync"
)

var _ IdentityResolver = (*ResolverMock)(nil)

// ResolverMock resolves pids from a static table. Workloads listed in
// NotReady are reported as not ready until MarkResolved is called.
type ResolverMock struct {
	mu       sync.Mutex
	Pids     map[uint32]WorkloadIdentity
	NotReady map[string]bool
	Opens    []uint32
	Exits    []uint32
	resolved chan string
}

func NewResolverMock() *ResolverMock {
	return &ResolverMock{
		Pids:     make(map[uint32]WorkloadIdentity),
		NotReady: make(map[string]bool),
		resolved: make(chan string, 16),
	}
}

func (r *ResolverMock) Start(_ context.Context) {}

func (r *ResolverMock) Stop() {}

func (r *ResolverMock) SetPid(pid uint32, identity WorkloadIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pids[pid] = identity
}

func (r *ResolverMock) SetNotReady(cgroupPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NotReady[cgroupPath] = true
}

func (r *ResolverMock) ResolvePid(pid uint32) (WorkloadIdentity, bool) {
	r.mu.Lock()
	identity, ok := r.Pids[pid]
	r.mu.Unlock()
	if !ok {
		return UnknownIdentity(), true
	}
	return r.Resolve(identity.CgroupPath)
}

func (r *ResolverMock) Resolve(cgroupPath string) (WorkloadIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.Pids {
		if identity.CgroupPath != cgroupPath {
			continue
		}
		if r.NotReady[cgroupPath] {
			return WorkloadIdentity{Kind: identity.Kind, CgroupPath: cgroupPath, ContainerID: identity.ContainerID}, false
		}
		return identity, true
	}
	return HostIdentity(cgroupPath), true
}

// SetReady finishes the lookup of cgroupPath without notifying listeners.
func (r *ResolverMock) SetReady(cgroupPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.NotReady, cgroupPath)
}

// MarkResolved finishes the lookup of cgroupPath and notifies listeners.
func (r *ResolverMock) MarkResolved(cgroupPath string) {
	r.mu.Lock()
	delete(r.NotReady, cgroupPath)
	r.mu.Unlock()
	r.resolved <- cgroupPath
}

func (r *ResolverMock) OnOpen(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Opens = append(r.Opens, pid)
}

func (r *ResolverMock) OnExit(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Exits = append(r.Exits, pid)
}

func (r *ResolverMock) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Opens)
}

func (r *ResolverMock) ExitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Exits)
}

func (r *ResolverMock) Resolved() <-chan string {
	return r.resolved
}
