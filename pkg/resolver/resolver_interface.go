package resolver

import (
	"context"
)

// IdentityResolver maps processes to the workload they belong to.
type IdentityResolver interface {
	Start(ctx context.Context)
	Stop()
	// ResolvePid returns the workload of pid. Unknown processes resolve to
	// the unknown identity. ready is false while a runtime lookup for the
	// workload is still in flight.
	ResolvePid(pid uint32) (identity WorkloadIdentity, ready bool)
	// Resolve returns the workload running in cgroupPath.
	Resolve(cgroupPath string) (identity WorkloadIdentity, ready bool)
	// OnOpen records activity of pid and postpones its reclaim if it exited.
	OnOpen(pid uint32)
	// OnExit schedules the identity of pid for reclaim after the grace
	// period.
	OnExit(pid uint32)
	// Resolved delivers the cgroup paths whose runtime lookup completed.
	Resolved() <-chan string
}
