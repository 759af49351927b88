// Package rowcache provides a concurrent in-process key/value cache with
// per-entry TTL expiry and row-level write isolation.
//
// Design
//
//   - Isolation: every write-side operation takes a per-key row lock from a
//     sharded lock registry (package rowlock). Writers on distinct keys run
//     in parallel; writers on the same key serialize. Lock records are
//     allocated lazily and reclaimed when the last holder releases, so
//     memory tracks the contended working set, not the keyspace.
//
//   - Expiry: a discrete-time bucketed wheel (package wheel) maps keys to
//     future sweep steps. A single owner goroutine advances the wheel every
//     Options.TTLCheck and deletes the due keys through the same row-lock
//     path as user deletes. TTL registrations are batched until the next
//     step, so repeated writes between two sweeps collapse to one schedule
//     change. Expiry is best effort: readers never synchronize with the
//     sweeper.
//
//   - Storage: the facade fronts a pluggable associative store
//     (cache.Store). The built-in store is a sharded map with an RWMutex
//     per shard; reads bypass the row locks entirely.
//
//   - Isolated sections: Isolated(k, fn) runs fn under k's row lock, and
//     the context handed to fn re-enters the same lock, so nested
//     operations on k do not deadlock. TryIsolated refuses instead of
//     waiting. Callers nesting distinct keys choose their own ordering.
//
//   - Callbacks: Options.Callback receives Update and Delete events
//     synchronously on the mutating goroutine, stamped with the cache ID.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Expired/LockTimeout/Size
//     signals. By default NoopMetrics is used; plug the metrics/prom
//     adapter to export Prometheus series.
//
// Basic usage
//
//	c := cache.New[string, int](cache.Options[string, int]{})
//	ctx := context.Background()
//	_ = c.Set(ctx, "a", 1)
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	_ = c.Remove(ctx, "a")
//
// With TTL
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    TTL:      time.Minute,        // default entry lifetime
//	    TTLCheck: 5 * time.Second,    // sweep cadence
//	})
//	_ = c.Set(ctx, "session", "tok")            // expires ~1min later
//	_ = c.SetItem(ctx, "pin", cache.Item[string]{
//	    Value: "keep",
//	    TTL:   cache.TTLNoUpdate,               // never scheduled
//	})
//
// Read/modify/write without a central coordinator
//
//	err := c.Isolated(ctx, "counter", func(ctx context.Context) error {
//	    return c.Update(ctx, "counter", func(cur int, ok bool) (int, error) {
//	        return cur + 1, nil
//	    })
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Reads are one map
// access; writes add a lock-record operation and an O(1) amortized wheel
// registration. Sweeps cost O(due keys) per interval.
//
// See cache/options.go for all available Options fields, package wheel for
// the expiry structure, and package rowlock for the lock registry.
package rowcache
