package exporters

import (
	"sync"
	"testing"
	"time"

	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	attempts int
	failures int
	bulks    map[string][][]Fact
}

func newRecordingSender(failures int) *recordingSender {
	return &recordingSender{failures: failures, bulks: map[string][][]Fact{}}
}

func (r *recordingSender) send(workload string, facts []Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.attempts <= r.failures {
		return assert.AnError
	}
	r.bulks[workload] = append(r.bulks[workload], facts)
	return nil
}

func (r *recordingSender) sent(workload string) [][]Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Fact(nil), r.bulks[workload]...)
}

func (r *recordingSender) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func hostFact(path string) Fact {
	return Fact{Workload: resolver.HostIdentity("/system.slice/cron.service"), Path: path, Pid: 1}
}

func TestWorkloadBulk_ShouldFlushSize(t *testing.T) {
	bulk := &workloadBulk{workload: "host", maxSize: 3, timeout: 10 * time.Second}

	bulk.addFact(hostFact("/usr/bin/a"))
	bulk.addFact(hostFact("/usr/bin/b"))
	assert.False(t, bulk.shouldFlush())

	bulk.addFact(hostFact("/usr/bin/c"))
	assert.True(t, bulk.shouldFlush())
}

func TestWorkloadBulk_ShouldFlushTimeout(t *testing.T) {
	bulk := &workloadBulk{workload: "host", maxSize: 50, timeout: 10 * time.Second}
	assert.False(t, bulk.shouldFlush(), "an empty bulk never times out")

	bulk.addFact(hostFact("/usr/bin/a"))
	bulk.firstFactTime = time.Now().Add(-11 * time.Second)
	assert.True(t, bulk.shouldFlush())
}

func TestWorkloadBulk_Flush(t *testing.T) {
	bulk := &workloadBulk{workload: "host", maxSize: 50, timeout: 10 * time.Second}
	bulk.addFact(hostFact("/usr/bin/a"))
	bulk.addFact(hostFact("/usr/bin/b"))

	facts := bulk.flush()
	require.Len(t, facts, 2)
	assert.Equal(t, "/usr/bin/a", facts[0].Path)
	assert.Equal(t, "/usr/bin/b", facts[1].Path)
	assert.Empty(t, bulk.facts)
	assert.True(t, bulk.firstFactTime.IsZero())
}

func TestFactBulkManager_FlushOnSizeLimit(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(5, 10*time.Second, 0, 0, 0, 0, sender.send)
	manager.Start()
	defer manager.Stop()

	for range 5 {
		manager.AddFact(testFact())
	}

	workload := testFact().Workload.Key()
	assert.Eventually(t, func() bool { return len(sender.sent(workload)) == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, sender.sent(workload)[0], 5)
	assert.Equal(t, 0, manager.BulkCount())
}

func TestFactBulkManager_FlushOnTimeout(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(50, 100*time.Millisecond, 0, 0, 0, 0, sender.send)
	manager.Start()
	defer manager.Stop()

	manager.AddFact(hostFact("/usr/bin/env"))
	assert.Equal(t, 1, manager.BulkCount())

	assert.Eventually(t, func() bool { return len(sender.sent("host")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/usr/bin/env", sender.sent("host")[0][0].Path)
	assert.Equal(t, 0, manager.BulkCount())
}

func TestFactBulkManager_MultipleWorkloads(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(2, 10*time.Second, 0, 0, 0, 0, sender.send)
	manager.Start()
	defer manager.Stop()

	manager.AddFact(testFact())
	manager.AddFact(hostFact("/usr/bin/a"))
	assert.Equal(t, 2, manager.BulkCount())

	manager.AddFact(hostFact("/usr/bin/b"))
	assert.Eventually(t, func() bool { return len(sender.sent("host")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, sender.sent(testFact().Workload.Key()))
	assert.Equal(t, 1, manager.BulkCount())
}

func TestFactBulkManager_FlushWorkload(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(50, 10*time.Second, 0, 0, 0, 0, sender.send)
	manager.Start()
	defer manager.Stop()

	manager.AddFact(hostFact("/usr/bin/a"))
	manager.AddFact(testFact())
	manager.FlushWorkload("host")

	assert.Eventually(t, func() bool { return len(sender.sent("host")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, manager.BulkCount())
}

func TestFactBulkManager_RetryOnFailure(t *testing.T) {
	sender := newRecordingSender(2)
	manager := NewFactBulkManager(1, 10*time.Second, 0, 3, 10*time.Millisecond, 50*time.Millisecond, sender.send)
	manager.Start()
	defer manager.Stop()

	manager.AddFact(hostFact("/usr/bin/a"))

	assert.Eventually(t, func() bool { return len(sender.sent("host")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, sender.attemptCount())
}

func TestFactBulkManager_MaxRetriesExceeded(t *testing.T) {
	sender := newRecordingSender(100)
	manager := NewFactBulkManager(1, 10*time.Second, 0, 2, 10*time.Millisecond, 20*time.Millisecond, sender.send)
	manager.Start()

	manager.AddFact(hostFact("/usr/bin/a"))

	// 1 initial attempt + 2 retries
	assert.Eventually(t, func() bool { return sender.attemptCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, sender.attemptCount())
	assert.Empty(t, sender.sent("host"))
	manager.Stop()
}

func TestFactBulkManager_StopDrainsPendingBulks(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(50, 10*time.Second, 0, 0, 0, 0, sender.send)
	manager.Start()

	manager.AddFact(hostFact("/usr/bin/a"))
	manager.AddFact(hostFact("/usr/bin/b"))
	manager.AddFact(testFact())
	manager.Stop()

	require.Len(t, sender.sent("host"), 1)
	assert.Len(t, sender.sent("host")[0], 2)
	assert.Len(t, sender.sent(testFact().Workload.Key()), 1)
	assert.Equal(t, 0, manager.BulkCount())
}

func TestFactBulkManager_ConcurrentAdds(t *testing.T) {
	sender := newRecordingSender(0)
	manager := NewFactBulkManager(10, 10*time.Second, 0, 0, 0, 0, sender.send)
	manager.Start()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				manager.AddFact(hostFact("/usr/bin/a"))
			}
		}()
	}
	wg.Wait()
	manager.Stop()

	total := 0
	for _, bulk := range sender.sent("host") {
		assert.LessOrEqual(t, len(bulk), 10)
		total += len(bulk)
	}
	assert.Equal(t, 100, total)
}
