package cooldownqueue

import (
	"sync"
	"time"

	"istio.io/pkg/cache"
)

const (
	DefaultExpiration = 10 * time.Second
	EvictionInterval  = 1 * time.Second
)

// CooldownQueue holds items for a cooldown period before handing them to
// the consumer. Enqueueing an item that is already waiting resets its
// cooldown, so an item is released only after it has been left alone for
// the whole period.
type CooldownQueue[T comparable] struct {
	mu         sync.RWMutex
	closed     bool
	pending    cache.ExpiringCache
	resultChan chan T
	done       chan struct{}
	stopOnce   sync.Once
}

// NewCooldownQueue returns a new Cooldown Queue. Items are released at most
// evictionInterval after their cooldown ends.
func NewCooldownQueue[T comparable](cooldown time.Duration, evictionInterval time.Duration) *CooldownQueue[T] {
	q := &CooldownQueue[T]{
		resultChan: make(chan T),
		done:       make(chan struct{}),
	}
	q.pending = cache.NewTTLWithCallback(cooldown, evictionInterval, q.release)
	return q
}

func (q *CooldownQueue[T]) release(_, value any) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.resultChan <- value.(T):
	case <-q.done:
	}
}

func (q *CooldownQueue[T]) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Enqueue starts or restarts the cooldown of item.
func (q *CooldownQueue[T]) Enqueue(item T) {
	if q.Closed() {
		return
	}
	q.pending.Set(item, item)
}

// Pending reports whether item is waiting for its cooldown to end.
func (q *CooldownQueue[T]) Pending(item T) bool {
	_, ok := q.pending.Get(item)
	return ok
}

// Touch restarts the cooldown of item if it is waiting, and reports
// whether it was.
func (q *CooldownQueue[T]) Touch(item T) bool {
	if !q.Pending(item) {
		return false
	}
	q.Enqueue(item)
	return true
}

// Remove cancels the cooldown of item without releasing it.
func (q *CooldownQueue[T]) Remove(item T) {
	q.pending.Remove(item)
}

func (q *CooldownQueue[T]) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.resultChan)
	})
}

// ResultChan returns a read-only channel for consuming released items.
func (q *CooldownQueue[T]) ResultChan() <-chan T {
	return q.resultChan
}
