package cache

import (
	"log"
	"sync"
	"time"

	"github.com/IvanBrykalov/rowcache/wheel"
)

// ttlReg is one queued expiry registration.
type ttlReg[K comparable] struct {
	key K
	act wheel.Action
}

// owner drives the expiry wheel. The wheel is purely sequential, so every
// wheel call happens on the owner's goroutine: registrations from writers
// land in a mailbox and are drained there.
//
// The mailbox is a mutex-guarded slice with a capacity-1 wake channel
// rather than a bounded channel. A writer registering a TTL may be holding
// a row lock the sweeper is waiting on; appending to a slice can never
// block, so that writer always makes progress and releases the lock the
// sweeper needs.
type owner[K comparable] struct {
	w        *wheel.Wheel[K]
	interval time.Duration
	sweep    func(k K)

	mu   sync.Mutex
	mail []ttlReg[K]

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool

	metrics Metrics
	log     *log.Logger
}

func newOwner[K comparable](maxStep uint64, interval time.Duration, sweep func(K), m Metrics, l *log.Logger) *owner[K] {
	return &owner[K]{
		w:        wheel.New[K](maxStep),
		interval: interval,
		sweep:    sweep,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		metrics:  m,
		log:      l,
	}
}

// setTTL queues a registration for the owner goroutine. Never blocks.
func (o *owner[K]) setTTL(k K, a wheel.Action) {
	o.mu.Lock()
	o.mail = append(o.mail, ttlReg[K]{key: k, act: a})
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// drain folds queued registrations into the wheel's pending batch.
// Owner goroutine only.
func (o *owner[K]) drain() {
	o.mu.Lock()
	mail := o.mail
	o.mail = nil
	o.mu.Unlock()
	for _, r := range mail {
		o.w.Set(r.key, r.act)
	}
}

// tick advances the wheel one step and evicts everything that came due.
// Owner goroutine only (tests drive it directly on an unstarted owner).
func (o *owner[K]) tick() {
	o.drain()
	expired := o.w.NextStep()
	if len(expired) == 0 {
		return
	}
	o.metrics.Expired(len(expired))
	for _, k := range expired {
		o.evict(k)
	}
}

// evict removes one expired key. A panicking delete callback must not take
// the sweep loop down, so failures are contained per key.
func (o *owner[K]) evict(k K) {
	defer func() {
		if r := recover(); r != nil {
			if o.log != nil {
				o.log.Printf("cache: sweeping %v panicked: %v", k, r)
			}
		}
	}()
	o.sweep(k)
}

// start launches the loop. Tests skip this and call tick directly.
func (o *owner[K]) start() {
	o.started = true
	go o.run()
}

func (o *owner[K]) run() {
	defer close(o.done)
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-o.wake:
			o.drain()
		case <-t.C:
			o.tick()
		}
	}
}

// close stops the loop and waits for it to exit. Callers serialize through
// the cache's closed flag.
func (o *owner[K]) close() {
	close(o.stop)
	if o.started {
		<-o.done
	}
}
