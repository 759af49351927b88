// Package rowlock provides per-key mutual exclusion over an arbitrary
// comparable key type.
//
// A Locker hands out row locks: writers on distinct keys proceed in
// parallel, writers on the same key serialize. Lock records are allocated
// lazily on first acquisition and reclaimed as soon as the last holder
// releases with no waiters parked, so memory tracks the currently contended
// working set rather than the keyspace.
//
// Holders are explicit identities, not goroutines. The same Holder may
// re-acquire a key it already owns to unbounded depth; a matching number of
// Release calls gives the lock up. Waiters are granted ownership in FIFO
// order.
package rowlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/rowcache/internal/util"
)

// Errors returned by Acquire.
var (
	// ErrTimeout is returned by Acquire when the context deadline passes
	// before the lock is granted.
	ErrTimeout = errors.New("rowlock: acquire timed out")
)

// Holder identifies a lock owner. Two acquisitions with the same Holder
// nest; with different Holders they contend.
type Holder uint64

var holderSeq atomic.Uint64

// NewHolder returns a process-unique holder identity.
func NewHolder() Holder { return Holder(holderSeq.Add(1)) }

// waiter is one parked Acquire call. granted is closed exactly once, when
// ownership is handed to this waiter.
type waiter struct {
	holder  Holder
	granted chan struct{}
}

// record tracks one currently held or awaited key.
// A key with no record is unlocked.
type record struct {
	owner   Holder
	depth   uint32
	waiters []*waiter // FIFO
}

// lockShard is an independent partition of the record table with its own
// mutex, so uncontended acquisitions on different keys rarely touch the
// same lock word.
type lockShard[K comparable] struct {
	mu   sync.Mutex
	recs map[K]*record
	_    util.CacheLinePad
}

// Locker is a sharded registry of row locks. The zero value is not usable;
// create one with New. All methods are safe for concurrent use.
type Locker[K comparable] struct {
	shards []lockShard[K]
}

// New creates a Locker with the given number of shards, rounded up to a
// power of two. shards <= 0 selects the default of 256.
func New[K comparable](shards int) *Locker[K] {
	if shards <= 0 {
		shards = 256
	}
	n := int(util.NextPow2(uint64(shards)))
	l := &Locker[K]{shards: make([]lockShard[K], n)}
	for i := range l.shards {
		l.shards[i].recs = make(map[K]*record)
	}
	return l
}

// Len returns the number of live lock records (held or awaited keys).
func (l *Locker[K]) Len() int {
	total := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		total += len(s.recs)
		s.mu.Unlock()
	}
	return total
}

func (l *Locker[K]) shardOf(k K) *lockShard[K] {
	return &l.shards[util.ShardIndex(util.Fnv64a(k), len(l.shards))]
}

// TryAcquire attempts to take the row lock for k without blocking.
// It reports whether the lock was granted; re-acquisition by the owning
// holder always succeeds and increments the nesting depth.
func (l *Locker[K]) TryAcquire(k K, h Holder) bool {
	s := l.shardOf(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recs[k]
	if !ok {
		s.recs[k] = &record{owner: h, depth: 1}
		return true
	}
	if r.owner == h {
		r.depth++
		return true
	}
	return false
}

// Acquire takes the row lock for k, blocking until the current owner
// releases or ctx is done. A deadline expiry is reported as ErrTimeout;
// cancellation is reported as ctx.Err(). Re-acquisition by the owning
// holder returns immediately with the depth incremented.
func (l *Locker[K]) Acquire(ctx context.Context, k K, h Holder) error {
	s := l.shardOf(k)
	s.mu.Lock()
	r, ok := s.recs[k]
	if !ok {
		s.recs[k] = &record{owner: h, depth: 1}
		s.mu.Unlock()
		return nil
	}
	if r.owner == h {
		r.depth++
		s.mu.Unlock()
		return nil
	}
	w := &waiter{holder: h, granted: make(chan struct{})}
	r.waiters = append(r.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.granted:
		return nil
	case <-ctx.Done():
	}

	// The context fired, but a release may have handed us ownership in the
	// meantime. Re-check under the shard lock: if we own the lock now, pass
	// it straight on; otherwise withdraw from the queue.
	s.mu.Lock()
	select {
	case <-w.granted:
		s.releaseLocked(k, s.recs[k])
	default:
		if r := s.recs[k]; r != nil {
			for i, cand := range r.waiters {
				if cand == w {
					r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
					break
				}
			}
		}
	}
	s.mu.Unlock()

	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// Release gives up one level of the row lock for k. When the depth reaches
// zero, ownership transfers to the longest-waiting holder, or the record is
// removed if nobody waits. Releasing a lock the holder does not own is a
// programming error and panics.
func (l *Locker[K]) Release(k K, h Holder) {
	s := l.shardOf(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recs[k]
	if !ok || r.owner != h {
		panic("rowlock: release of a lock that is not held")
	}
	r.depth--
	if r.depth > 0 {
		return
	}
	s.releaseLocked(k, r)
}

// releaseLocked hands the fully released lock to the next waiter or drops
// the record. Caller holds s.mu and guarantees depth has reached zero.
func (s *lockShard[K]) releaseLocked(k K, r *record) {
	if len(r.waiters) > 0 {
		w := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.owner = w.holder
		r.depth = 1
		close(w.granted)
		return
	}
	delete(s.recs, k)
}
