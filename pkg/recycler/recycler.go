// Package recycler implements a thread-local object pool modeled on the
// per-thread Stack / cross-thread WeakOrderQueue design used by high
// throughput allocators: objects are recycled back onto the goroutine that
// created them when possible, and handed off through a lock-free, chunked
// queue when a different goroutine does the recycling.
package recycler

import (
	"reflect"
	"runtime"
	"sync"

	"objpool/pkg/logger"
)

// Config holds every tunable from the configuration table: per-thread
// capacity, the shared-pool sizing factor, the maximum number of distinct
// foreign Stacks a single goroutine may hold a WeakOrderQueue toward, the
// chunk size of each WeakOrderQueue link, and the admission ratios that
// throttle how many recycled objects are actually kept.
type Config struct {
	MaxCapacityPerThread      int
	MaxSharedCapacityFactor   int
	MaxDelayedQueuesPerThread int
	LinkCapacity              int
	Ratio                     int
	DelayedQueueRatio         int

	// AdmissionBurstRPS/AdmissionBurstBurst layer an additional token-bucket
	// guard on top of the ratio filter, capping how fast a single Stack's
	// backing array is allowed to grow under a sudden allocation burst. Zero
	// RPS disables the guard entirely (the default).
	AdmissionBurstRPS   float64
	AdmissionBurstBurst int

	// PoolName opts this Recycler into the Prometheus series described in
	// SPEC_FULL.md §4.5 (recycler_get_total, recycler_recycle_total,
	// recycler_scavenge_transferred_total, recycler_woq_unlinked_total,
	// recycler_shared_capacity_available) and is used as the "pool" label on
	// the shared-capacity gauge. Empty (the default) keeps every Stack
	// spawned by this Recycler off those series entirely.
	PoolName string
}

func defaultConfig() Config {
	return Config{
		MaxCapacityPerThread:      4096,
		MaxSharedCapacityFactor:   2,
		MaxDelayedQueuesPerThread: 2 * runtime.NumCPU(),
		LinkCapacity:              roundUpLinkCapacity(16),
		Ratio:                     8,
		DelayedQueueRatio:         8,
	}
}

// Option configures a Recycler at construction time.
type Option func(*Config)

// WithMaxCapacityPerThread caps how many objects a single goroutine's Stack
// keeps resident. Zero disables pooling entirely: Get always allocates fresh
// and Recycle is a no-op (spec.md §6).
func WithMaxCapacityPerThread(n int) Option {
	return func(c *Config) { c.MaxCapacityPerThread = n }
}

// WithMaxSharedCapacityFactor sets the divisor applied to MaxCapacityPerThread
// to derive the shared capacity budget every WeakOrderQueue targeting a given
// Stack draws Links from. New clamps the effective value to at least 2
// (spec.md §6); values below that would make MaxCapacityPerThread /
// MaxSharedCapacityFactor divide by zero in newStack.
func WithMaxSharedCapacityFactor(n int) Option {
	return func(c *Config) { c.MaxSharedCapacityFactor = n }
}

// WithMaxDelayedQueuesPerThread caps how many distinct foreign Stacks a single
// producer goroutine may hold an open WeakOrderQueue toward at once. Beyond
// this limit, further cross-thread recycles toward new targets are dropped
// (the DUMMY marker, spec.md §3).
func WithMaxDelayedQueuesPerThread(n int) Option {
	return func(c *Config) { c.MaxDelayedQueuesPerThread = n }
}

// WithLinkCapacity sets the chunk size of each WeakOrderQueue Link, rounded up
// to a power of two no smaller than 16.
func WithLinkCapacity(n int) Option {
	return func(c *Config) { c.LinkCapacity = roundUpLinkCapacity(n) }
}

// WithRatio sets the home-stack admission ratio: of the freshly allocated
// objects recycled on a Stack, the first and then 1 in Ratio are retained;
// an object retained once is always retained afterwards. Ratio 0 or 1 keeps
// every object.
func WithRatio(n int) Option {
	return func(c *Config) { c.Ratio = n }
}

// WithDelayedQueueRatio sets the admission ratio applied on the producer side
// of a cross-thread WeakOrderQueue. Defaults to 8, the same as Ratio's
// default; setting WithRatio alone does not change it.
func WithDelayedQueueRatio(n int) Option {
	return func(c *Config) { c.DelayedQueueRatio = n }
}

// WithAdmissionBurst enables the token-bucket burst guard described on
// Config.AdmissionBurstRPS.
func WithAdmissionBurst(rps float64, burst int) Option {
	return func(c *Config) { c.AdmissionBurstRPS, c.AdmissionBurstBurst = rps, burst }
}

// WithPoolName opts this Recycler into the Config.PoolName Prometheus series
// (SPEC_FULL §4.5), labeling them with name.
func WithPoolName(name string) Option {
	return func(c *Config) { c.PoolName = name }
}

// WithPoolingDisabled is equivalent to WithMaxCapacityPerThread(0): every Get
// allocates a fresh value and Recycle is a cheap no-op. Useful for A/B-ing a
// pooled code path against an unpooled one without changing call sites.
func WithPoolingDisabled() Option {
	return WithMaxCapacityPerThread(0)
}

// Recycler is a thread-local object pool for values of type T. The zero value
// is not usable; construct one with New.
type Recycler[T any] struct {
	cfg      Config
	newObj   func(*Handle[T]) T
	disabled bool

	stacks sync.Map // goroutineID(int64) -> *Stack[T]
}

// New builds a Recycler whose newObj callback constructs a fresh T each time
// the pool has nothing to hand out. newObj receives the Handle the value will
// be recycled through; callers typically stash it on the value itself.
func New[T any](newObj func(*Handle[T]) T, opts ...Option) *Recycler[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxSharedCapacityFactor < 2 {
		cfg.MaxSharedCapacityFactor = 2
	}
	return &Recycler[T]{
		cfg:      cfg,
		newObj:   newObj,
		disabled: cfg.MaxCapacityPerThread == 0,
	}
}

// Get returns a recycled value if one is available on the calling goroutine's
// Stack (scavenging cross-thread contributions first), or a freshly
// constructed one otherwise (spec.md §4.1, §4.4).
func (r *Recycler[T]) Get() T {
	if r.disabled {
		h := newNoopHandle(r)
		return r.newObj(h)
	}

	gid := currentGoroutineID()
	s := r.stackFor(gid)

	if h, ok := s.pop(); ok {
		return h.value
	}

	recordGet(r.cfg.PoolName, "alloc")
	h := &Handle[T]{owner: r, homeStack: s}
	v := r.newObj(h)
	h.value = v
	return v
}

// Recycle is the deprecated form of Handle.Recycle, kept for callers that
// hold only a Recycler reference (spec.md §4.1). It returns false when h was
// not issued by r, or when Handle.Recycle reports an error.
func (r *Recycler[T]) Recycle(obj T, h *Handle[T]) bool {
	if h == nil || h.owner != r {
		return false
	}
	return h.Recycle(obj) == nil
}

// push hands h back to its home Stack, routing through the home or foreign
// path depending on the calling goroutine (spec.md §4.1 recycle).
func (r *Recycler[T]) push(h *Handle[T]) error {
	target := h.homeStack
	if target == nil {
		// Already in flight inside a WeakOrderQueue, or never had a home
		// (a noop handle) — either way, recycling it again is invalid.
		return ErrDoubleRecycle
	}
	return target.push(h)
}

func (r *Recycler[T]) stackFor(gid int64) *Stack[T] {
	if v, ok := r.stacks.Load(gid); ok {
		return v.(*Stack[T])
	}
	s := newStack[T](&r.cfg, gid)
	actual, loaded := r.stacks.LoadOrStore(gid, s)
	if loaded {
		return actual.(*Stack[T])
	}
	logger.Debug("recycler_stack_created", "goroutine_id", gid)
	return s
}

// delayedKey identifies one goroutine's delayed-recycled map for one element
// type T, letting a single package-level registry back currentDelayed for
// every Recycler[T] instantiation without per-Recycler bookkeeping.
type delayedKey struct {
	goroutineID int64
	typ         reflect.Type
}

var delayedRegistry sync.Map // delayedKey -> *perGoroutineDelayed[T]

// currentDelayed returns the calling goroutine's delayed-recycled map for
// element type T (spec.md §4.1), creating it on first use.
func currentDelayed[T any]() *perGoroutineDelayed[T] {
	key := delayedKey{goroutineID: currentGoroutineID(), typ: reflect.TypeOf((*T)(nil))}
	if v, ok := delayedRegistry.Load(key); ok {
		return v.(*perGoroutineDelayed[T])
	}
	v, _ := delayedRegistry.LoadOrStore(key, newPerGoroutineDelayed[T]())
	return v.(*perGoroutineDelayed[T])
}

// sameObject reports whether a and b are the same underlying value. Most
// pooled types are pointers or other directly comparable kinds, so the fast
// path is a plain interface comparison; non-comparable kinds (slices, maps,
// funcs) fall back to comparing their data pointers via reflection.
func sameObject[T any](a, b T) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.ValueOf(any(a)).Pointer() == reflect.ValueOf(any(b)).Pointer()
		}
	}()
	return any(a) == any(b)
}
