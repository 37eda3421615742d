package dedup

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 65536

// Key is a (workload, path) pair. A fact is forwarded once per key.
type Key struct {
	Workload string
	Path     string
}

// Set remembers which keys were already forwarded.
type Set interface {
	// TestAndInsert inserts key and reports whether it was absent.
	TestAndInsert(key Key) bool
	Len() int
}

// New returns a bounded set for a positive capacity and an unbounded one
// otherwise.
func New(capacity int) (Set, error) {
	if capacity <= 0 {
		return NewUnbounded(), nil
	}
	return NewLRU(capacity)
}

// LRU forgets the least recently seen key once full, so a key may be
// forwarded again after it was evicted.
type LRU struct {
	mu    sync.Mutex
	cache *lru.Cache[Key, struct{}]
}

func NewLRU(capacity int) (*LRU, error) {
	cache, err := lru.New[Key, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &LRU{cache: cache}, nil
}

func (s *LRU) TestAndInsert(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Contains(key) {
		// refresh recency
		s.cache.Get(key)
		return false
	}
	s.cache.Add(key, struct{}{})
	return true
}

func (s *LRU) Len() int {
	return s.cache.Len()
}

type Unbounded struct {
	set mapset.Set[Key]
}

func NewUnbounded() *Unbounded {
	return &Unbounded{set: mapset.NewSet[Key]()}
}

func (s *Unbounded) TestAndInsert(key Key) bool {
	return s.set.Add(key)
}

func (s *Unbounded) Len() int {
	return s.set.Cardinality()
}
