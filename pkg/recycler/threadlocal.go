package recycler

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Go has no per-goroutine storage and no stable, public goroutine identity.
// This file realizes the two "thread-local" / "weak thread reference"
// concepts spec.md §9 asks for, using only the standard library:
//
//  1. "current thread" identity, used to decide the home-vs-foreign path in
//     Stack.push and to key the per-goroutine Recycler->Stack and
//     delayed-recycled maps. Realized as an int64 parsed out of
//     runtime.Stack's "goroutine N [status]:" header — the same format the
//     runtime itself prints (see runtime/traceback.go: print("goroutine ",
//     gp.goid, " [", status...)). IDs are reused by the runtime after a
//     goroutine exits, so this is an approximation, not a true identity;
//     that is acceptable here because the only two things that depend on it
//     (home/foreign routing and TLS map keys) are already documented as
//     best-effort once a goroutine has terminated (spec.md Non-goals).
//
//  2. "weak reference to a producer thread", used so a dead producer's
//     WeakOrderQueue does not pin shared capacity forever. Go's weak
//     package (weak.Pointer[T], added in the 1.24 toolchain this module
//     targets) gives true weak references to heap objects, but there is no
//     object representing "a goroutine" to point at. We manufacture one: a
//     tiny *producerSentinel kept alive, for as long as the producer is
//     believed to still be running, by a process-wide registry keyed by
//     goroutine ID. A WeakOrderQueue holds only a weak.Pointer to the
//     sentinel. A cheap, rate-limited reaper periodically intersects the
//     registry's goroutine IDs against the runtime's actual live set
//     (parsed from a full runtime.Stack dump) and drops the registry's
//     strong reference for any ID no longer running, letting that
//     producer's sentinel become collectible and its WOQs' weak pointers
//     go nil. This is deliberately best-effort (ID reuse can delay or, in
//     rare cases, mask detection) — exactly the "no guaranteed deterministic
//     reclamation timing for dead-thread queues" Non-goal spec.md calls out.
var goroutinePrefix = []byte("goroutine ")

// currentGoroutineID parses the calling goroutine's numeric ID out of its own
// stack trace header. It is called on the Get/Recycle hot path, so it uses a
// small stack-local buffer and stops at the first space after the number.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if sp := bytes.IndexByte(b, ' '); sp >= 0 {
		b = b[:sp]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// Should not happen with a well-formed runtime.Stack header; fall
		// back to a value that simply never matches a real goroutine ID so
		// every call takes the conservative "foreign thread" path.
		return -1
	}
	return id
}

// producerSentinel's only purpose is to be an object a weak.Pointer can
// point at on behalf of a goroutine.
type producerSentinel struct{ _ byte }

var (
	producerLiveness sync.Map // goroutineID(int64) -> *producerSentinel
	lastReapUnixNano  atomic.Int64
)

const reapInterval = 2 * time.Second

// sentinelFor returns the current goroutine's producer sentinel, creating
// one on first use. The registry entry is what keeps the sentinel (and thus
// every WeakOrderQueue.producer weak.Pointer built from it) alive.
func sentinelFor(goroutineID int64) *producerSentinel {
	if v, ok := producerLiveness.Load(goroutineID); ok {
		return v.(*producerSentinel)
	}
	v, _ := producerLiveness.LoadOrStore(goroutineID, &producerSentinel{})
	return v.(*producerSentinel)
}

// reapDeadProducers drops the registry's strong reference for any goroutine
// ID no longer present in a full stack dump, allowing GC to eventually
// collect that sentinel. Rate-limited: a full stack dump is not cheap, so it
// runs at most once per reapInterval regardless of how often it's called.
func reapDeadProducers() {
	now := time.Now().UnixNano()
	last := lastReapUnixNano.Load()
	if now-last < int64(reapInterval) {
		return
	}
	if !lastReapUnixNano.CompareAndSwap(last, now) {
		return // another goroutine just did this
	}

	live := liveGoroutineIDs()
	producerLiveness.Range(func(key, _ any) bool {
		id := key.(int64)
		if !live[id] {
			producerLiveness.Delete(id)
		}
		return true
	})
}

// liveGoroutineIDs parses every "goroutine N [" header out of a full stack
// dump (runtime.Stack(buf, all=true)), matching the per-goroutine header
// format used throughout the runtime package (runtime/traceback.go).
func liveGoroutineIDs() map[int64]bool {
	size := 64 * 1024
	var buf []byte
	for {
		buf = make([]byte, size)
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		size *= 2
		if size > 64*1024*1024 {
			buf = buf[:n]
			break
		}
	}

	ids := make(map[int64]bool)
	for _, line := range bytes.Split(buf, []byte("\n")) {
		if !bytes.HasPrefix(line, goroutinePrefix) {
			continue
		}
		rest := line[len(goroutinePrefix):]
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			continue
		}
		id, err := strconv.ParseInt(string(rest[:sp]), 10, 64)
		if err != nil {
			continue
		}
		ids[id] = true
	}
	return ids
}

// perGoroutineDelayed is one goroutine's "delayed-recycled map": the set of
// WeakOrderQueues this goroutine (as a producer) has established toward
// foreign target Stacks (spec.md §4.1). Keyed by a weak pointer to the
// target Stack so a Stack that becomes otherwise unreachable doesn't stay
// pinned by every foreign producer's cache of it (spec.md §9 "weak keys").
// Accessed only by its owning goroutine, so no internal locking is needed.
type perGoroutineDelayed[T any] struct {
	m map[weak.Pointer[Stack[T]]]delayedEntry[T]
}

// delayedEntry is either a real WeakOrderQueue toward the keyed Stack, or
// the DUMMY marker meaning this goroutine has exceeded its per-thread WOQ
// quota toward that Stack and every handle destined for it must be dropped
// (spec.md §3 "DUMMY", §4.2 push_later).
type delayedEntry[T any] struct {
	woq   *WeakOrderQueue[T]
	dummy bool
}

func newPerGoroutineDelayed[T any]() *perGoroutineDelayed[T] {
	return &perGoroutineDelayed[T]{m: make(map[weak.Pointer[Stack[T]]]delayedEntry[T])}
}

// get returns this goroutine's delayed-recycled entry for dst, if any.
// weak.Pointer values built from the same object compare equal, so dst's
// own weak pointer is a valid direct map key.
func (d *perGoroutineDelayed[T]) get(dst *Stack[T]) (delayedEntry[T], bool) {
	entry, ok := d.m[weak.Make(dst)]
	return entry, ok
}

func (d *perGoroutineDelayed[T]) set(dst *Stack[T], woq *WeakOrderQueue[T]) {
	d.m[weak.Make(dst)] = delayedEntry[T]{woq: woq}
}

func (d *perGoroutineDelayed[T]) setDummy(dst *Stack[T]) {
	d.m[weak.Make(dst)] = delayedEntry[T]{dummy: true}
}

// prune drops entries whose target Stack has already been collected
// (spec.md §9 "weak keys"). Stack.pushLater calls it when the map has reached
// its quota, not on every lookup.
func (d *perGoroutineDelayed[T]) prune() {
	for wp := range d.m {
		if wp.Value() == nil {
			delete(d.m, wp)
		}
	}
}

func (d *perGoroutineDelayed[T]) len() int {
	return len(d.m)
}
