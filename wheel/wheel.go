// Package wheel implements a discrete-time, bucketed expiry index.
//
// A Wheel tracks, for every live key, the future step at which the key
// becomes due. Keys due at the same step share one bucket, so advancing the
// clock emits exactly the due keys without scanning the whole keyspace.
// Insertion, removal, renewal, and step-advance are all O(1) amortized.
//
// Mutations requested through Set are not applied immediately: they are
// parked in a pending batch and folded in at the start of the next step.
// Multiple Set calls for the same key between two steps therefore collapse
// to a single effective action (last numeric action wins, Renew never
// downgrades one), and the set emitted at step T is exactly the keys whose
// deadline equals T at the moment T begins.
//
// A Wheel is not safe for concurrent use. It is meant to be owned by a
// single goroutine; see the cache package for the loop that drives one.
package wheel

// Action describes a deferred change to a key's expiry schedule.
// The zero Action is Steps(0), which NextStep ignores.
type Action struct {
	steps uint64
	renew bool
}

// Steps schedules expiry n steps after the step at which the action is
// applied. Steps(0) is a no-op: the key's schedule is left untouched.
func Steps(n uint64) Action { return Action{steps: n} }

// Renew re-schedules a key using the interval recorded when it was last
// scheduled. Renewing a key the wheel does not track is accepted silently;
// the key may simply have expired before the renewal arrived.
func Renew() Action { return Action{renew: true} }

// slot records where a live key sits: the absolute step it is due at and
// the interval it was scheduled with (needed to renew).
type slot struct {
	at    uint64
	after uint64
}

// Wheel is the expiry index. Create one with New.
type Wheel[K comparable] struct {
	step uint64 // current step; wraps to 0 after reaching max
	max  uint64 // horizon at which absolute steps are rebased

	buckets map[uint64]map[K]struct{} // absolute due step -> keys
	due     map[K]slot                // key -> where it sits
	pending map[K]Action              // actions parked until the next step
}

// New creates an empty wheel with the given horizon. The wheel rebases all
// absolute steps (normalization) when the step counter reaches maxStep.
// Pass ^uint64(0) for a horizon that is never reached in practice.
func New[K comparable](maxStep uint64) *Wheel[K] {
	return &Wheel[K]{
		max:     maxStep,
		buckets: make(map[uint64]map[K]struct{}),
		due:     make(map[K]slot),
		pending: make(map[K]Action),
	}
}

// Step returns the current step counter.
func (w *Wheel[K]) Step() uint64 { return w.step }

// Len returns the number of keys with a live expiry schedule.
// Keys with actions still parked in the pending batch are not counted.
func (w *Wheel[K]) Len() int { return len(w.due) }

// Set parks an action for k until the next step. Merge policy when k
// already has a pending action: a numeric action always overwrites, while
// Renew keeps whatever is already parked. Between two steps the last
// numeric action therefore wins, and Renew acts as an idempotent
// keep-alive.
func (w *Wheel[K]) Set(k K, a Action) {
	if _, ok := w.pending[k]; ok && a.renew {
		return
	}
	w.pending[k] = a
}

// NextStep advances the clock by one step and returns the keys that became
// due, in unspecified order. In sequence it:
//
//  1. advances the step counter, rebasing all absolute steps and resetting
//     to 0 when the counter already sits at the horizon;
//  2. applies the pending batch;
//  3. empties the bucket at the new step, dropping those keys from the
//     schedule.
//
// A key scheduled with Steps(n) at step s is therefore emitted at step
// s+1+n: one step to fold the pending batch in, n more to come due.
func (w *Wheel[K]) NextStep() []K {
	if w.step == w.max {
		w.normalize()
		w.step = 0
	} else {
		w.step++
	}

	for k, a := range w.pending {
		w.apply(k, a)
	}
	clear(w.pending)

	set, ok := w.buckets[w.step]
	if !ok {
		return nil
	}
	delete(w.buckets, w.step)
	expired := make([]K, 0, len(set))
	for k := range set {
		delete(w.due, k)
		expired = append(expired, k)
	}
	return expired
}

// apply folds one pending action into the schedule. Called with the step
// counter already advanced.
func (w *Wheel[K]) apply(k K, a Action) {
	n := a.steps
	if a.renew {
		s, ok := w.due[k]
		if !ok {
			return // lost the race against expiry
		}
		n = s.after
	}
	if n == 0 {
		return
	}
	if s, ok := w.due[k]; ok {
		w.unlink(k, s.at)
	}
	at := w.step + n
	b := w.buckets[at]
	if b == nil {
		b = make(map[K]struct{})
		w.buckets[at] = b
	}
	b[k] = struct{}{}
	w.due[k] = slot{at: at, after: n}
}

// unlink removes k from the bucket at the given step, dropping the bucket
// once empty so the bucket map stays proportional to distinct deadlines.
func (w *Wheel[K]) unlink(k K, at uint64) {
	b, ok := w.buckets[at]
	if !ok {
		return
	}
	delete(b, k)
	if len(b) == 0 {
		delete(w.buckets, at)
	}
}

// normalize rebases every absolute step so the index space starts over at
// 0. A key due at step t moves to t-step-1; keys already at or before
// step+1 land in bucket 0 and are emitted by the same NextStep call that
// triggered the rebase. Buckets may merge when distinct deadlines clamp to
// the same rebased step.
func (w *Wheel[K]) normalize() {
	rebased := make(map[uint64]map[K]struct{}, len(w.buckets))
	for at, set := range w.buckets {
		na := w.rebase(at)
		if cur, ok := rebased[na]; ok {
			for k := range set {
				cur[k] = struct{}{}
			}
		} else {
			rebased[na] = set
		}
	}
	w.buckets = rebased
	for k, s := range w.due {
		s.at = w.rebase(s.at)
		w.due[k] = s
	}
}

func (w *Wheel[K]) rebase(at uint64) uint64 {
	if at <= w.step {
		return 0
	}
	return at - w.step - 1
}
