package cache

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func BenchmarkCache_Get(b *testing.B) {
	c := New[string, int](Options[string, int]{})
	b.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	const keys = 10_000
	for i := 0; i < keys; i++ {
		_ = c.Set(ctx, "k:"+strconv.Itoa(i), i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get("k:" + strconv.Itoa(i%keys))
			i++
		}
	})
}

func BenchmarkCache_Set(b *testing.B) {
	c := New[string, int](Options[string, int]{})
	b.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = c.Set(ctx, "k:"+strconv.Itoa(i%10_000), i)
			i++
		}
	})
}

func BenchmarkCache_SetDirty(b *testing.B) {
	c := New[string, int](Options[string, int]{})
	b.Cleanup(func() { _ = c.Close() })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.SetDirty("k:"+strconv.Itoa(i%10_000), i)
			i++
		}
	})
}

func BenchmarkCache_SetWithTTL(b *testing.B) {
	c := New[string, int](Options[string, int]{
		TTL:      time.Minute,
		TTLCheck: time.Second,
	})
	b.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = c.Set(ctx, "k:"+strconv.Itoa(i%10_000), i)
			i++
		}
	})
}

func BenchmarkCache_Isolated(b *testing.B) {
	c := New[string, int](Options[string, int]{})
	b.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			k := "k:" + strconv.Itoa(i%1024)
			_ = c.Isolated(ctx, k, func(context.Context) error { return nil })
			i++
		}
	})
}
