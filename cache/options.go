package cache

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// ttlMode discriminates the TTL variants carried by Item writes.
type ttlMode uint8

const (
	ttlDefault ttlMode = iota
	ttlNoUpdate
	ttlRenew
	ttlFor
)

// TTL selects how a write affects the entry's expiry schedule.
// The zero value is TTLDefault.
type TTL struct {
	mode ttlMode
	d    time.Duration
}

// TTL variants without a duration of their own.
var (
	// TTLDefault applies the cache-wide Options.TTL.
	TTLDefault = TTL{}
	// TTLNoUpdate leaves the entry's existing expiry schedule untouched.
	// A new entry written with TTLNoUpdate never expires.
	TTLNoUpdate = TTL{mode: ttlNoUpdate}
	// TTLRenew extends the entry's life by its previously recorded interval.
	// Renewing an entry with no schedule is a silent no-op.
	TTLRenew = TTL{mode: ttlRenew}
)

// TTLFor expires the entry d after the sweep that registers it.
// A non-positive d registers nothing: a new entry is never scheduled and
// an existing schedule is left as it is.
func TTLFor(d time.Duration) TTL { return TTL{mode: ttlFor, d: d} }

// Item pairs a value with an explicit TTL choice for a single write.
type Item[V any] struct {
	Value V
	TTL   TTL
}

// EventKind discriminates callback events.
type EventKind uint8

const (
	// EventUpdate reports a stored value (Set/Add/Update/GetOrStore path).
	EventUpdate EventKind = iota
	// EventDelete reports a key about to be removed (user delete or sweep).
	EventDelete
)

// Event is delivered synchronously to Options.Callback on the goroutine
// performing the mutation. Delete events carry the zero value.
type Event[K comparable, V any] struct {
	Kind  EventKind
	Cache uuid.UUID
	Key   K
	Value V
}

// Options configures the cache behavior. Zero values are safe;
// sane defaults are applied in New():
//   - AcquireTimeout <= 0 => 5s
//   - LockShards <= 0     => 256
//   - TimeSize == 0       => 64
//   - nil Store           => sharded in-memory map
//   - nil Metrics         => NoopMetrics
type Options[K comparable, V any] struct {
	// TTL is the default time-to-live registered by plain-value writes.
	// 0 means entries never expire unless a write says otherwise.
	TTL time.Duration

	// TTLCheck is the sweep interval. Expired entries are removed in
	// batches every TTLCheck; an entry's worst-case lifetime is therefore
	// its TTL rounded up to whole intervals, plus one interval.
	// TTLCheck <= 0 disables expiry entirely.
	TTLCheck time.Duration

	// TouchOnRead renews an entry's schedule on every successful Get.
	TouchOnRead bool

	// Callback receives update and delete events, synchronously on the
	// mutating goroutine. Keep it lightweight; it runs inside the row lock.
	Callback func(Event[K, V])

	// AcquireTimeout bounds how long locking operations wait for a row
	// lock before returning ErrTimeout. Defaults to 5s.
	AcquireTimeout time.Duration

	// TimeSize is the bit-width of the sweep counter horizon, 1..64.
	// The counter rebases its bookkeeping after 2^TimeSize - 1 sweeps.
	// Defaults to 64, which in practice never rebases.
	TimeSize uint

	// LockShards partitions the row-lock table. Defaults to 256.
	LockShards int

	// Store overrides the backing associative store. Nil selects the
	// built-in sharded map.
	Store Store[K, V]

	// StoreShards is forwarded to the built-in store; 0 = auto.
	// Ignored when Store is set.
	StoreShards int

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// Metrics receives hit/miss/expiry/size signals; nil => NoopMetrics.
	Metrics Metrics

	// Logger, when set, receives errors swallowed by the background sweep.
	Logger *log.Logger
}
