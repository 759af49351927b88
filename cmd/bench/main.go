// Command bench runs a synthetic workload against the cache, serves Prometheus metrics, and exposes an optional pprof endpoint.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/rowcache/cache"
	pmet "github.com/IvanBrykalov/rowcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		lockShards = pflag.Int("lock-shards", 256, "row-lock shards")
		ttl        = pflag.Duration("ttl", time.Minute, "default entry TTL (0 = none)")
		ttlCheck   = pflag.Duration("ttl-check", time.Second, "sweep interval (0 = expiry disabled)")

		workers  = pflag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = pflag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = pflag.Int("reads", 80, "read percentage [0..100]")
		isoPct   = pflag.Int("isolated", 5, "isolated read-modify-write percentage [0..100]")

		keys    = pflag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = pflag.Float64("zipf-s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = pflag.Float64("zipf-v", 1.0, "Zipf v")
		seed    = pflag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = pflag.Int("preload", 0, "preload entries (0 = keys/10)")

		pprofAddr   = pflag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = pflag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	pflag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "rowcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	c := cache.New[string, string](cache.Options[string, string]{
		TTL:        *ttl,
		TTLCheck:   *ttlCheck,
		LockShards: *lockShards,
		Metrics:    metrics,
	})
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	// ---- Preload part of the keyspace to get a realistic hit-rate ----
	n := *preload
	if n <= 0 {
		n = *keys / 10
	}
	for i := 0; i < n; i++ {
		_ = c.Set(ctx, "k:"+strconv.Itoa(i), "v")
	}
	log.Printf("preloaded %d entries", n)

	// ---- Workload ----
	var gets, sets, isos atomic.Int64
	deadline := time.Now().Add(*duration)

	var g errgroup.Group
	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(*seed + int64(w)*7919))
			zipf := rand.NewZipf(r, *zipfS, *zipfV, uint64(*keys-1))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.FormatUint(zipf.Uint64(), 10)
				switch p := r.Intn(100); {
				case p < *readPct:
					c.Get(k)
					gets.Add(1)
				case p < *readPct+*isoPct:
					err := c.Isolated(ctx, k, func(ctx context.Context) error {
						return c.Update(ctx, k, func(cur string, ok bool) (string, error) {
							return cur + ".", nil
						})
					})
					if err != nil {
						return fmt.Errorf("isolated %s: %w", k, err)
					}
					isos.Add(1)
				default:
					if err := c.Set(ctx, k, "v"); err != nil {
						return fmt.Errorf("set %s: %w", k, err)
					}
					sets.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	total := gets.Load() + sets.Load() + isos.Load()
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	log.Printf("done: %d ops in %s (%.0f op/s) gets=%d sets=%d isolated=%d len=%d",
		total, *duration, float64(total)/secs, gets.Load(), sets.Load(), isos.Load(), c.Len())
}
