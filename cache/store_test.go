package cache

import (
	"context"
	"fmt"
	"testing"
)

func TestMapStore_Basics(t *testing.T) {
	t.Parallel()

	s := newMapStore[string, int](8)
	if _, ok := s.Get("a"); ok {
		t.Fatal("phantom value in a fresh store")
	}
	s.Set("a", 1)
	s.Set("a", 2) // replace, not double-count
	if v, ok := s.Get("a"); !ok || v != 2 {
		t.Fatalf("Get a = %v, %v", v, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if !s.Delete("a") {
		t.Fatal("Delete must report presence")
	}
	if s.Delete("a") {
		t.Fatal("second Delete must report absence")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestMapStore_LenAcrossShards(t *testing.T) {
	t.Parallel()

	s := newMapStore[string, int](16)
	const n = 1_000
	for i := 0; i < n; i++ {
		s.Set(fmt.Sprintf("k%d", i), i)
	}
	if got := s.Len(); got != n {
		t.Fatalf("Len = %d, want %d", got, n)
	}
}

// A custom Store is accepted verbatim: the facade must route through it.
type trackingStore struct {
	Store[string, int]
	sets int
}

func (s *trackingStore) Set(k string, v int) {
	s.sets++
	s.Store.Set(k, v)
}

func TestCache_CustomStore(t *testing.T) {
	t.Parallel()

	ts := &trackingStore{Store: newMapStore[string, int](4)}
	c := New[string, int](Options[string, int]{Store: ts})
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set(context.Background(), "a", 1); err != nil {
		t.Fatal(err)
	}
	if ts.sets != 1 {
		t.Fatalf("custom store saw %d sets, want 1", ts.sets)
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
}
