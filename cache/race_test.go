package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent locked/dirty writes, reads, isolated
// sections, and removes on random keys, with the background sweep running.
// Should pass under `-race` without detector reports.
func TestRace_MixedWorkload(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		TTL:        20 * time.Millisecond,
		TTLCheck:   5 * time.Millisecond,
		LockShards: 32,
	})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 10_000
	deadline := time.Now().Add(2 * time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5%: Remove
					_ = c.Remove(ctx, k)
				case 5, 6, 7, 8, 9: // ~5%: isolated read-modify-write
					_ = c.Isolated(ctx, k, func(ctx context.Context) error {
						return c.Update(ctx, k, func(cur []byte, ok bool) ([]byte, error) {
							return append(cur[:len(cur):len(cur)], 'x'), nil
						})
					})
				case 10, 11, 12, 13, 14: // ~5%: dirty write
					c.SetDirty(k, []byte("d"))
				case 15, 16, 17, 18, 19: // ~5%: explicit per-write TTL
					_ = c.SetItem(ctx, k, Item[[]byte]{
						Value: []byte("t"),
						TTL:   TTLFor(time.Duration(5+r.Intn(20)) * time.Millisecond),
					})
				case 20, 21, 22, 23, 24: // ~5%: Set
					_ = c.Set(ctx, k, []byte("x"))
				case 25, 26: // ~2%: Touch
					c.Touch(k)
				default: // ~73%: Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
}

// Many goroutines funnel through TryIsolated on one key; exactly one may
// be inside at a time and the rest bounce with ErrLocked.
func TestRace_TryIsolatedSingleAdmission(t *testing.T) {
	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 50
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	var occupancy, admitted atomic.Int32
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			err := c.TryIsolated(ctx, "gate", func(context.Context) error {
				if n := occupancy.Add(1); n != 1 {
					t.Errorf("occupancy %d inside TryIsolated", n)
				}
				time.Sleep(time.Millisecond)
				occupancy.Add(-1)
				return nil
			})
			if err == nil {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() == 0 {
		t.Fatal("nobody was admitted")
	}
}
