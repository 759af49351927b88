package cache

import (
	"sync"

	"github.com/IvanBrykalov/rowcache/internal/util"
)

// Store is the associative store the cache fronts. Implementations must be
// safe for concurrent use; the cache routes write-side isolation through
// its own row locks, so a Store only needs per-operation consistency.
//
// The built-in sharded map is used when Options.Store is nil. Supplying a
// custom Store lets the facade front other associative collections
// (off-heap tables, instrumented maps, test fakes).
type Store[K comparable, V any] interface {
	// Get returns the value for k and a presence flag.
	Get(k K) (V, bool)
	// Set inserts or replaces the value for k.
	Set(k K, v V)
	// Delete removes k and reports whether it was present.
	Delete(k K) bool
	// Len returns the number of stored entries.
	Len() int
}

// storeShard is an independent partition of the built-in store with its
// own lock and map. The resident count is kept in a padded atomic so Len
// never touches the shard locks.
type storeShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
	n  util.PaddedAtomicInt64
}

// mapStore is the built-in sharded map store.
type mapStore[K comparable, V any] struct {
	shards []*storeShard[K, V]
}

// newMapStore creates a sharded map store. shards <= 0 selects an
// automatic, CPU-derived count; any other value is rounded up to a power
// of two.
func newMapStore[K comparable, V any](shards int) *mapStore[K, V] {
	var n int
	if shards <= 0 {
		n = util.ReasonableShardCount()
	} else {
		n = int(util.NextPow2(uint64(shards)))
	}
	s := &mapStore[K, V]{shards: make([]*storeShard[K, V], n)}
	for i := range s.shards {
		s.shards[i] = &storeShard[K, V]{m: make(map[K]V)}
	}
	return s
}

func (s *mapStore[K, V]) shardOf(k K) *storeShard[K, V] {
	return s.shards[util.ShardIndex(util.Fnv64a(k), len(s.shards))]
}

func (s *mapStore[K, V]) Get(k K) (V, bool) {
	sh := s.shardOf(k)
	sh.mu.RLock()
	v, ok := sh.m[k]
	sh.mu.RUnlock()
	return v, ok
}

func (s *mapStore[K, V]) Set(k K, v V) {
	sh := s.shardOf(k)
	sh.mu.Lock()
	if _, ok := sh.m[k]; !ok {
		sh.n.Add(1)
	}
	sh.m[k] = v
	sh.mu.Unlock()
}

func (s *mapStore[K, V]) Delete(k K) bool {
	sh := s.shardOf(k)
	sh.mu.Lock()
	_, ok := sh.m[k]
	if ok {
		delete(sh.m, k)
		sh.n.Add(-1)
	}
	sh.mu.Unlock()
	return ok
}

func (s *mapStore[K, V]) Len() int {
	total := int64(0)
	for _, sh := range s.shards {
		total += sh.n.Load()
	}
	return int(total)
}

var _ Store[string, int] = (*mapStore[string, int])(nil)
