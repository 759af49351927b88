// Package cache provides a concurrent key/value cache with per-entry TTL
// expiry and row-level write isolation.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/rowcache/internal/singleflight"
	"github.com/IvanBrykalov/rowcache/rowlock"
	"github.com/IvanBrykalov/rowcache/wheel"
)

// holderKey carries the row-lock holder identity through a context, so
// nested operations from an Isolated body re-enter the same lock.
type holderKey struct{}

func holderFrom(ctx context.Context) (rowlock.Holder, bool) {
	h, ok := ctx.Value(holderKey{}).(rowlock.Holder)
	return h, ok
}

func withHolder(ctx context.Context, h rowlock.Holder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// cache implements Cache. Writes flow: row lock -> store mutation ->
// callback -> TTL registration; the sweep loop flows the other way,
// turning due keys back into locked deletes.
type cache[K comparable, V any] struct {
	id     uuid.UUID
	store  Store[K, V]
	locks  *rowlock.Locker[K]
	owner  *owner[K] // nil when expiry is disabled
	opt    Options[K, V]
	closed atomic.Bool

	// defaultSteps is Options.TTL pre-converted to sweep steps.
	defaultSteps uint64

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// New constructs a cache with the provided Options and starts the
// background sweep when TTLCheck is positive. Invalid options (TimeSize
// out of range) panic: construction problems are fatal.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	c := newCache(opt)
	if c.owner != nil {
		c.owner.start()
	}
	return c
}

// newCache builds the cache without starting the sweep goroutine.
// Tests use it directly and drive ticks by hand.
func newCache[K comparable, V any](opt Options[K, V]) *cache[K, V] {
	if opt.TimeSize > 64 {
		panic("cache: TimeSize must be in 1..64")
	}
	if opt.TimeSize == 0 {
		opt.TimeSize = 64
	}
	if opt.AcquireTimeout <= 0 {
		opt.AcquireTimeout = 5 * time.Second
	}
	if opt.LockShards <= 0 {
		opt.LockShards = 256
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	store := opt.Store
	if store == nil {
		store = newMapStore[K, V](opt.StoreShards)
	}

	c := &cache[K, V]{
		id:    uuid.New(),
		store: store,
		locks: rowlock.New[K](opt.LockShards),
		opt:   opt,
	}
	if opt.TTLCheck > 0 {
		c.defaultSteps = stepsFor(opt.TTL, opt.TTLCheck)
		c.owner = newOwner(horizon(opt.TimeSize), opt.TTLCheck, c.sweep, opt.Metrics, opt.Logger)
	}
	return c
}

// horizon converts a bit-width into the wheel's maximum step.
func horizon(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// stepsFor converts a relative TTL to whole sweep steps, rounding up so an
// entry never expires before its TTL has elapsed.
func stepsFor(d, tick time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64((d + tick - 1) / tick)
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) ID() uuid.UUID { return c.id }

func (c *cache[K, V]) Get(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	v, ok := c.store.Get(k)
	if !ok {
		c.opt.Metrics.Miss()
		return v, false
	}
	c.opt.Metrics.Hit()
	if c.opt.TouchOnRead && c.owner != nil {
		c.owner.setTTL(k, wheel.Renew())
	}
	return v, true
}

func (c *cache[K, V]) Set(ctx context.Context, k K, v V) error {
	return c.SetItem(ctx, k, Item[V]{Value: v})
}

func (c *cache[K, V]) SetItem(ctx context.Context, k K, it Item[V]) error {
	if c.closed.Load() {
		return nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	c.put(k, it)
	return nil
}

func (c *cache[K, V]) Add(ctx context.Context, k K, v V) error {
	return c.AddItem(ctx, k, Item[V]{Value: v})
}

func (c *cache[K, V]) AddItem(ctx context.Context, k K, it Item[V]) error {
	if c.closed.Load() {
		return nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := c.store.Get(k); ok {
		return ErrExists
	}
	c.put(k, it)
	return nil
}

func (c *cache[K, V]) Update(ctx context.Context, k K, fn func(cur V, ok bool) (V, error)) error {
	return c.UpdateItem(ctx, k, func(cur V, ok bool) (Item[V], error) {
		v, err := fn(cur, ok)
		return Item[V]{Value: v}, err
	})
}

func (c *cache[K, V]) UpdateItem(ctx context.Context, k K, fn func(cur V, ok bool) (Item[V], error)) error {
	if c.closed.Load() {
		return nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	cur, ok := c.store.Get(k)
	it, err := fn(cur, ok)
	if err != nil {
		return err
	}
	c.put(k, it)
	return nil
}

func (c *cache[K, V]) UpdateExisting(ctx context.Context, k K, fn func(cur V) (V, error)) error {
	if c.closed.Load() {
		return nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	cur, ok := c.store.Get(k)
	if !ok {
		return ErrNotExisting
	}
	v, err := fn(cur)
	if err != nil {
		return err
	}
	c.put(k, Item[V]{Value: v})
	return nil
}

func (c *cache[K, V]) Remove(ctx context.Context, k K) error {
	if c.closed.Load() {
		return nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	c.del(k)
	return nil
}

func (c *cache[K, V]) GetOrStore(ctx context.Context, k K, fn func() (V, error)) (V, error) {
	// Fast path: no lock for a resident entry.
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	var zero V
	if c.closed.Load() {
		return zero, nil
	}
	_, unlock, err := c.lock(ctx, k)
	if err != nil {
		return zero, err
	}
	defer unlock()
	// Re-check: a concurrent writer may have stored while we waited.
	if v, ok := c.store.Get(k); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return zero, err
	}
	c.put(k, Item[V]{Value: v})
	return v, nil
}

func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.closed.Load() {
		var zero V
		return zero, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	// singleflight: exactly one real load per key.
	return c.sf.Do(ctx, k, func() (V, error) {
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err != nil {
			return v, err
		}
		if err := c.Set(ctx, k, v); err != nil {
			return v, err
		}
		return v, nil
	})
}

func (c *cache[K, V]) Touch(k K) {
	if c.closed.Load() || c.owner == nil {
		return
	}
	c.owner.setTTL(k, wheel.Renew())
}

func (c *cache[K, V]) Isolated(ctx context.Context, k K, fn func(ctx context.Context) error) error {
	if c.closed.Load() {
		return nil
	}
	hctx, unlock, err := c.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(hctx)
}

func (c *cache[K, V]) TryIsolated(ctx context.Context, k K, fn func(ctx context.Context) error) error {
	if c.closed.Load() {
		return nil
	}
	h, ok := holderFrom(ctx)
	if !ok {
		h = rowlock.NewHolder()
		ctx = withHolder(ctx, h)
	}
	if !c.locks.TryAcquire(k, h) {
		return ErrLocked
	}
	defer c.locks.Release(k, h)
	return fn(ctx)
}

// ---- dirty variants: same write path, no row lock ----

func (c *cache[K, V]) SetDirty(k K, v V) {
	c.SetItemDirty(k, Item[V]{Value: v})
}

func (c *cache[K, V]) SetItemDirty(k K, it Item[V]) {
	if c.closed.Load() {
		return
	}
	c.put(k, it)
}

func (c *cache[K, V]) AddDirty(k K, v V) error {
	if c.closed.Load() {
		return nil
	}
	if _, ok := c.store.Get(k); ok {
		return ErrExists
	}
	c.put(k, Item[V]{Value: v})
	return nil
}

func (c *cache[K, V]) UpdateDirty(k K, fn func(cur V, ok bool) (V, error)) error {
	if c.closed.Load() {
		return nil
	}
	cur, ok := c.store.Get(k)
	v, err := fn(cur, ok)
	if err != nil {
		return err
	}
	c.put(k, Item[V]{Value: v})
	return nil
}

func (c *cache[K, V]) UpdateExistingDirty(k K, fn func(cur V) (V, error)) error {
	if c.closed.Load() {
		return nil
	}
	cur, ok := c.store.Get(k)
	if !ok {
		return ErrNotExisting
	}
	v, err := fn(cur)
	if err != nil {
		return err
	}
	c.put(k, Item[V]{Value: v})
	return nil
}

func (c *cache[K, V]) RemoveDirty(k K) {
	if c.closed.Load() {
		return
	}
	c.del(k)
}

func (c *cache[K, V]) GetOrStoreDirty(k K, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	var zero V
	if c.closed.Load() {
		return zero, nil
	}
	v, err := fn()
	if err != nil {
		return zero, err
	}
	c.put(k, Item[V]{Value: v})
	return v, nil
}

func (c *cache[K, V]) Len() int {
	return c.store.Len()
}

func (c *cache[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.owner != nil {
		c.owner.close()
	}
	return nil
}

// ---- internals ----

// lock acquires the row lock for k, minting a holder when the context does
// not already carry one. The returned context carries the holder; the
// returned func releases the lock.
func (c *cache[K, V]) lock(ctx context.Context, k K) (context.Context, func(), error) {
	h, ok := holderFrom(ctx)
	if !ok {
		h = rowlock.NewHolder()
		ctx = withHolder(ctx, h)
	}
	unlock := func() { c.locks.Release(k, h) }

	// Uncontended or reentrant: grant without the blocking machinery.
	if c.locks.TryAcquire(k, h) {
		return ctx, unlock, nil
	}

	actx, cancel := context.WithTimeout(ctx, c.opt.AcquireTimeout)
	start := time.Now()
	err := c.locks.Acquire(actx, k, h)
	c.opt.Metrics.LockWait(time.Since(start))
	cancel()
	if err != nil {
		if errors.Is(err, rowlock.ErrTimeout) {
			c.opt.Metrics.LockTimeout()
			return ctx, nil, ErrTimeout
		}
		return ctx, nil, err
	}
	return ctx, unlock, nil
}

// put writes one item: store mutation, then the update event, then TTL
// registration. Callers hold the row lock unless they are dirty variants.
func (c *cache[K, V]) put(k K, it Item[V]) {
	c.store.Set(k, it.Value)
	if cb := c.opt.Callback; cb != nil {
		cb(Event[K, V]{Kind: EventUpdate, Cache: c.id, Key: k, Value: it.Value})
	}
	c.registerTTL(k, it.TTL)
	c.opt.Metrics.Size(c.store.Len())
}

// del removes one key, emitting the delete event before the entry is gone.
func (c *cache[K, V]) del(k K) {
	if cb := c.opt.Callback; cb != nil {
		var zero V
		cb(Event[K, V]{Kind: EventDelete, Cache: c.id, Key: k, Value: zero})
	}
	c.store.Delete(k)
	c.opt.Metrics.Size(c.store.Len())
}

// registerTTL forwards one write's TTL choice to the sweep loop.
func (c *cache[K, V]) registerTTL(k K, t TTL) {
	if c.owner == nil {
		return
	}
	switch t.mode {
	case ttlNoUpdate:
	case ttlRenew:
		c.owner.setTTL(k, wheel.Renew())
	case ttlFor:
		if n := stepsFor(t.d, c.opt.TTLCheck); n > 0 {
			c.owner.setTTL(k, wheel.Steps(n))
		}
	default:
		if c.defaultSteps > 0 {
			c.owner.setTTL(k, wheel.Steps(c.defaultSteps))
		}
	}
}

// sweep is the owner loop's eviction path for one due key. It takes the
// same row lock as a user delete, so a long isolated section delays the
// sweep rather than racing it.
func (c *cache[K, V]) sweep(k K) {
	h := rowlock.NewHolder()
	if err := c.locks.Acquire(context.Background(), k, h); err != nil {
		return
	}
	defer c.locks.Release(k, h)
	c.del(k)
}
