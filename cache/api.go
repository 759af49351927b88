package cache

import (
	"context"

	"github.com/google/uuid"
)

// Cache is a concurrent key/value cache with per-entry TTL expiry and
// row-level write isolation. All methods are safe for concurrent use by
// multiple goroutines.
//
// Writers on distinct keys proceed in parallel; writers on the same key
// serialize through a per-key row lock. Reads never take the row lock, so
// a read racing the background sweep may observe a value the sweep is
// about to delete. Expiry is best effort, not a consistency barrier.
//
// Locking methods accept a context. The context both carries the caller's
// cancellation and threads the lock-holder identity: operations invoked
// from inside an Isolated body with the context it was handed re-enter the
// same row lock instead of deadlocking.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a presence flag. Get does not take
	// the row lock; it reads whatever the store currently holds.
	Get(k K) (V, bool)

	// Set inserts or updates k→v under the row lock, registering the
	// cache-wide default TTL.
	Set(ctx context.Context, k K, v V) error

	// SetItem is Set with an explicit per-write TTL choice.
	SetItem(ctx context.Context, k K, it Item[V]) error

	// Add inserts k→v only if k is absent; ErrExists otherwise.
	Add(ctx context.Context, k K, v V) error

	// AddItem is Add with an explicit per-write TTL choice.
	AddItem(ctx context.Context, k K, it Item[V]) error

	// Update atomically transforms the value under the row lock. fn
	// receives the current value (or the zero value with ok=false) and
	// returns the replacement; returning an error stores nothing and
	// surfaces that error verbatim.
	Update(ctx context.Context, k K, fn func(cur V, ok bool) (V, error)) error

	// UpdateItem is Update for callbacks that also choose a TTL.
	UpdateItem(ctx context.Context, k K, fn func(cur V, ok bool) (Item[V], error)) error

	// UpdateExisting is Update restricted to present keys;
	// ErrNotExisting when k is absent.
	UpdateExisting(ctx context.Context, k K, fn func(cur V) (V, error)) error

	// Remove deletes k under the row lock, emitting the delete event
	// before the entry disappears.
	Remove(ctx context.Context, k K) error

	// GetOrStore returns the value for k, computing and storing it via fn
	// on miss. The miss path re-checks under the row lock, so concurrent
	// callers for the same key run fn once and the rest observe the
	// stored value.
	GetOrStore(ctx context.Context, k K, fn func() (V, error)) (V, error)

	// GetOrLoad returns the value for k, loading it via Options.Loader on
	// miss. Concurrent loads for the same key are coalesced
	// (singleflight). If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Touch renews k's expiry schedule by its recorded interval without
	// touching the value. Unknown keys are ignored.
	Touch(k K)

	// Isolated runs fn while holding the row lock for k. Pass the context
	// fn receives into nested cache calls: same-key calls re-enter the
	// lock, different-key calls nest (callers are responsible for a
	// consistent ordering between distinct keys).
	Isolated(ctx context.Context, k K, fn func(ctx context.Context) error) error

	// TryIsolated is Isolated without blocking: ErrLocked when another
	// holder currently owns k.
	TryIsolated(ctx context.Context, k K, fn func(ctx context.Context) error) error

	// SetDirty, SetItemDirty, AddDirty, UpdateDirty, UpdateExistingDirty,
	// RemoveDirty and GetOrStoreDirty mirror their locked counterparts but
	// skip the row lock. Isolation degrades to whatever the backing store
	// provides; TTL registration and events still fire.
	SetDirty(k K, v V)
	SetItemDirty(k K, it Item[V])
	AddDirty(k K, v V) error
	UpdateDirty(k K, fn func(cur V, ok bool) (V, error)) error
	UpdateExistingDirty(k K, fn func(cur V) (V, error)) error
	RemoveDirty(k K)
	GetOrStoreDirty(k K, fn func() (V, error)) (V, error)

	// Len returns the number of resident entries.
	Len() int

	// ID returns the cache instance identity stamped on emitted events.
	ID() uuid.UUID

	// Close stops the background sweep and marks the cache closed.
	// Further operations are no-ops. Close is idempotent.
	Close() error
}
