package rowlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestLocker_TryAcquireContention(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	a, b := NewHolder(), NewHolder()

	if !l.TryAcquire("k", a) {
		t.Fatal("first TryAcquire must succeed")
	}
	if l.TryAcquire("k", b) {
		t.Fatal("TryAcquire by a second holder must fail while held")
	}
	l.Release("k", a)
	if !l.TryAcquire("k", b) {
		t.Fatal("TryAcquire must succeed after release")
	}
	l.Release("k", b)
}

func TestLocker_ReentrantDepth(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	h := NewHolder()
	ctx := context.Background()

	const depth = 10
	for i := 0; i < depth; i++ {
		if err := l.Acquire(ctx, "k", h); err != nil {
			t.Fatalf("re-acquire %d: %v", i, err)
		}
	}
	// Still exclusively held until the last release.
	if l.TryAcquire("k", NewHolder()) {
		t.Fatal("other holder entered a reentrantly held lock")
	}
	for i := 0; i < depth-1; i++ {
		l.Release("k", h)
	}
	if l.TryAcquire("k", NewHolder()) {
		t.Fatal("lock freed before the last release")
	}
	l.Release("k", h)
	if l.Len() != 0 {
		t.Fatalf("%d records left after full release", l.Len())
	}
}

// Two holders contending on one key must never overlap their critical
// sections; holders on distinct keys must not exclude each other.
func TestLocker_MutualExclusion(t *testing.T) {
	t.Parallel()

	l := New[string](8)
	var inside atomic.Int32
	var g errgroup.Group
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		g.Go(func() error {
			h := NewHolder()
			for j := 0; j < 200; j++ {
				if err := l.Acquire(ctx, "hot", h); err != nil {
					return err
				}
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders inside the critical section", n)
				}
				inside.Add(-1)
				l.Release("hot", h)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 0 {
		t.Fatalf("%d records left", l.Len())
	}
}

func TestLocker_DistinctKeysDoNotContend(t *testing.T) {
	t.Parallel()

	l := New[string](8)
	a, b := NewHolder(), NewHolder()
	ctx := context.Background()

	if err := l.Acquire(ctx, "left", a); err != nil {
		t.Fatal(err)
	}
	// A held "left" must not delay "right".
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, "right", b)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire of a distinct key blocked")
	}
	l.Release("left", a)
	l.Release("right", b)
}

func TestLocker_AcquireTimeout(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	a, b := NewHolder(), NewHolder()

	if err := l.Acquire(context.Background(), "k", a); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "k", b); err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// The timed-out waiter must have withdrawn: a release should drop the
	// record instead of handing ownership to a ghost.
	l.Release("k", a)
	if l.Len() != 0 {
		t.Fatalf("%d records left after timeout and release", l.Len())
	}
}

func TestLocker_CancelReportsCause(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	a, b := NewHolder(), NewHolder()

	if err := l.Acquire(context.Background(), "k", a); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- l.Acquire(ctx, "k", b)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	l.Release("k", a)
}

// Waiters must be granted in arrival order.
func TestLocker_FIFOHandoff(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	first := NewHolder()
	if err := l.Acquire(context.Background(), "k", first); err != nil {
		t.Fatal(err)
	}

	const waiters = 8
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		h := NewHolder()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Acquire(context.Background(), "k", h); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Release("k", h)
		}(i)
		// Give each waiter time to park before the next arrives.
		time.Sleep(20 * time.Millisecond)
	}

	l.Release("k", first)
	wg.Wait()
	for i, got := range order {
		if got != i {
			t.Fatalf("handoff order = %v, want arrival order", order)
		}
	}
}

// A grant racing a timeout must not strand the lock: whichever side wins,
// subsequent holders still get through.
func TestLocker_TimeoutGrantRace(t *testing.T) {
	t.Parallel()

	l := New[string](4)
	ctxBg := context.Background()

	for i := 0; i < 100; i++ {
		a, b := NewHolder(), NewHolder()
		if err := l.Acquire(ctxBg, "k", a); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(ctxBg, time.Millisecond)
		errc := make(chan error, 1)
		go func() {
			errc <- l.Acquire(ctx, "k", b)
		}()
		time.Sleep(time.Millisecond) // land the release near the deadline
		l.Release("k", a)
		if err := <-errc; err == nil {
			l.Release("k", b)
		}
		cancel()

		// Whatever happened above, the lock must be free again.
		h := NewHolder()
		if err := l.Acquire(ctxBg, "k", h); err != nil {
			t.Fatalf("iteration %d left the lock stuck: %v", i, err)
		}
		l.Release("k", h)
	}
	if l.Len() != 0 {
		t.Fatalf("%d records left", l.Len())
	}
}

func TestLocker_ReleaseUnheldPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("Release of an unheld lock must panic")
		}
	}()
	New[string](4).Release("k", NewHolder())
}
