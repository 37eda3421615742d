package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsImplementation(t *testing.T) {
	s, err := New(0)
	require.NoError(t, err)
	assert.IsType(t, &Unbounded{}, s)

	s, err = New(16)
	require.NoError(t, err)
	assert.IsType(t, &LRU{}, s)
}

func TestTestAndInsertOncePerKey(t *testing.T) {
	lruSet, err := NewLRU(DefaultCapacity)
	require.NoError(t, err)
	for name, s := range map[string]Set{"lru": lruSet, "unbounded": NewUnbounded()} {
		t.Run(name, func(t *testing.T) {
			key := Key{Workload: "host", Path: "/etc/passwd"}
			inserted := 0
			for i := 0; i < 1000; i++ {
				if s.TestAndInsert(key) {
					inserted++
				}
			}
			assert.Equal(t, 1, inserted)
			assert.True(t, s.TestAndInsert(Key{Workload: "container:abc", Path: "/etc/passwd"}))
			assert.True(t, s.TestAndInsert(Key{Workload: "host", Path: "/etc/shadow"}))
			assert.Equal(t, 3, s.Len())
		})
	}
}

func TestLRUEvictsLeastRecentlySeen(t *testing.T) {
	s, err := NewLRU(2)
	require.NoError(t, err)
	a := Key{Workload: "host", Path: "/a"}
	b := Key{Workload: "host", Path: "/b"}
	c := Key{Workload: "host", Path: "/c"}

	assert.True(t, s.TestAndInsert(a))
	assert.True(t, s.TestAndInsert(b))
	assert.False(t, s.TestAndInsert(a))
	assert.True(t, s.TestAndInsert(c))

	assert.False(t, s.TestAndInsert(a))
	assert.True(t, s.TestAndInsert(b), "b was evicted")
}

func TestUnboundedNeverForgets(t *testing.T) {
	s := NewUnbounded()
	for i := 0; i < 10000; i++ {
		s.TestAndInsert(Key{Workload: "host", Path: fmt.Sprintf("/f/%d", i)})
	}
	assert.False(t, s.TestAndInsert(Key{Workload: "host", Path: "/f/0"}))
	assert.Equal(t, 10000, s.Len())
}
