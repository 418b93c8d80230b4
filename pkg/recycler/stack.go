package recycler

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Stack is the per-goroutine LIFO buffer of recycled handles, plus the
// intrusive list of WeakOrderQueues that target it (spec.md §4.2). Only its
// owning goroutine ever calls pop, pushNow, or scavenge; any goroutine may
// call push, which routes to pushNow or pushLater depending on whether the
// caller is the owner.
//
// Unlike a Java Thread, a Go goroutine is not itself a heap object the
// runtime can weakly reference, so "weak reference to home thread" (spec.md
// §3) is realized here as a plain immutable goroutine-ID comparison rather
// than a GC-tracked weak pointer: nothing needs to observe "the home thread
// died" for Stack's own correctness, since Stack only ever runs on that
// thread's call stack in the first place.
type Stack[T any] struct {
	ownGoroutineID int64

	elements []*Handle[T]
	size     int32

	maxCapacity       int32
	interval          int32 // home-stack ratio filter threshold
	delayedQueueRatio int32 // inherited by every WOQ targeting this stack
	maxDelayedQueues  int32
	linkCapacity      int32

	availableSharedCapacity atomic.Int64

	headMu sync.Mutex // serializes set_head against concurrent WOQ creation
	head   atomic.Pointer[WeakOrderQueue[T]]

	// cursor/prev are scavenge-only, touched solely by the owning goroutine.
	cursor *WeakOrderQueue[T]
	prev   *WeakOrderQueue[T]

	handleRecycleCount int32 // consumer-local ratio counter

	growthLimiter *rate.Limiter // admission-burst guard, nil disables it (SPEC_FULL §4.2)

	poolName string // labels the opt-in Prometheus series (SPEC_FULL §4.5); "" disables them
}

func newStack[T any](cfg *Config, goroutineID int64) *Stack[T] {
	s := &Stack[T]{
		ownGoroutineID:    goroutineID,
		elements:          make([]*Handle[T], 0, minInitialCapacity(cfg.MaxCapacityPerThread)),
		maxCapacity:       int32(cfg.MaxCapacityPerThread),
		interval:          int32(cfg.Ratio),
		delayedQueueRatio: int32(cfg.DelayedQueueRatio),
		maxDelayedQueues:  int32(cfg.MaxDelayedQueuesPerThread),
		linkCapacity:      int32(cfg.LinkCapacity),
		poolName:          cfg.PoolName,
	}
	shared := cfg.MaxCapacityPerThread / cfg.MaxSharedCapacityFactor
	if shared < cfg.LinkCapacity {
		shared = cfg.LinkCapacity
	}
	s.availableSharedCapacity.Store(int64(shared))
	if cfg.AdmissionBurstRPS > 0 {
		s.growthLimiter = rate.NewLimiter(rate.Limit(cfg.AdmissionBurstRPS), cfg.AdmissionBurstBurst)
	}
	s.reportSharedCapacity()
	return s
}

// reportSharedCapacity publishes this Stack's current shared-capacity budget
// to the recycler_shared_capacity_available gauge (SPEC_FULL §4.5). A no-op
// when no pool name was configured.
func (s *Stack[T]) reportSharedCapacity() {
	setSharedCapacityGauge(s.poolName, s.availableSharedCapacity.Load())
}

func minInitialCapacity(maxCapacity int) int {
	if maxCapacity <= 0 || maxCapacity > 256 {
		return 256
	}
	return maxCapacity
}

// pop removes and returns the most recently pushed handle, scavenging from
// this stack's WOQ chain first if the local array is empty (spec.md §4.2).
func (s *Stack[T]) pop() (*Handle[T], bool) {
	source := "stack_pop"
	if s.size == 0 {
		if !s.scavenge() {
			return nil, false
		}
		if s.size == 0 {
			return nil, false
		}
		source = "scavenge"
	}

	s.size--
	h := s.elements[s.size]
	s.elements[s.size] = nil

	if h.lastRecycledID.Load() != h.recycleID {
		panic(ErrDoubleRecycle)
	}
	h.lastRecycledID.Store(0)
	h.recycleID = 0
	recordGet(s.poolName, source)
	return h, true
}

// push routes to the home-thread or foreign-thread path (spec.md §4.2).
func (s *Stack[T]) push(h *Handle[T]) error {
	if currentGoroutineID() == s.ownGoroutineID {
		return s.pushNow(h)
	}
	s.pushLater(h)
	return nil
}

// pushNow resident-izes h directly onto the array (home thread only).
func (s *Stack[T]) pushNow(h *Handle[T]) error {
	if h.recycleID != 0 || !h.lastRecycledID.CompareAndSwap(0, s.ownGoroutineID) {
		return ErrDoubleRecycle
	}
	h.recycleID = s.ownGoroutineID

	if s.size >= s.maxCapacity {
		recordRecycle(s.poolName, "dropped_capacity")
		return nil
	}
	if dropHandle(h, &s.handleRecycleCount, s.interval) {
		recordRecycle(s.poolName, "dropped_ratio")
		return nil
	}

	if int(s.size) >= len(s.elements) {
		if s.growthLimiter != nil && !s.growthLimiter.Allow() {
			// admission-burst guard: drop rather than grow right now
			recordRecycle(s.poolName, "dropped_capacity")
			return nil
		}
		s.increaseCapacity(int(s.size) + 1)
	}
	s.elements[s.size] = h
	s.size++
	recordRecycle(s.poolName, "push_now")
	return nil
}

// pushLater hands h to the current (foreign) goroutine's WOQ toward s,
// creating one lazily if needed (spec.md §4.2 push_later).
func (s *Stack[T]) pushLater(h *Handle[T]) {
	if s.maxDelayedQueues == 0 {
		recordRecycle(s.poolName, "dropped_capacity")
		return
	}

	tls := currentDelayed[T]()
	entry, ok := tls.get(s)
	switch {
	case !ok:
		if tls.len() >= int(s.maxDelayedQueues) {
			tls.prune()
		}
		if tls.len() >= int(s.maxDelayedQueues) {
			tls.setDummy(s)
			recordRecycle(s.poolName, "dropped_capacity")
			return
		}
		woq := newWeakOrderQueue(s, currentGoroutineID())
		if woq == nil {
			recordRecycle(s.poolName, "dropped_capacity")
			return // shared capacity exhausted
		}
		s.setHead(woq)
		tls.set(s, woq)
		woq.add(h)
	case entry.dummy:
		recordRecycle(s.poolName, "dropped_capacity")
		return
	default:
		entry.woq.add(h)
	}
	// woq.add itself records the push_later/dropped_ratio/dropped_race/
	// dropped_capacity outcome; report the shared-capacity gauge in case that
	// call allocated or this branch created a new WeakOrderQueue.
	s.reportSharedCapacity()
}

// setHead publishes a newly created WOQ at the front of s's WOQ list. The
// mutex serializes concurrent publishers; the atomic.Pointer store gives the
// scavenger a sequentially consistent (at least as strong as acquire/release)
// view, so it never observes a partially constructed WOQ (spec.md §4.2).
func (s *Stack[T]) setHead(woq *WeakOrderQueue[T]) {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	woq.next = s.head.Load()
	s.head.Store(woq)
}

// scavenge walks the WOQ chain looking for a WOQ that can transfer at least
// one handle onto s, reclaiming drained dead-producer queues along the way
// (spec.md §4.2 scavenge/scavenge_some).
func (s *Stack[T]) scavenge() bool {
	cur := s.cursor
	var prev *WeakOrderQueue[T]
	if cur == nil {
		// Wrapped around (or this is the first scavenge ever): cur is reset
		// to the literal list head, whose predecessor is always nil. Reusing
		// the previous pass's s.prev here would let the splice-out branch
		// below rewrite the head's own prev.next instead of s.head, which
		// races with a concurrent set_head and can cycle the list.
		cur = s.head.Load()
	} else {
		prev = s.prev
	}

	transferred := false
	for cur != nil {
		if n := cur.transfer(s); n > 0 {
			transferred = true
			recordScavengeTransferred(s.poolName, n)
			break
		}

		dead := cur.producer.Value() == nil
		if dead {
			reapDeadProducers()
			dead = cur.producer.Value() == nil
		}
		if dead {
			for cur.hasFinalData() {
				recordScavengeTransferred(s.poolName, cur.transfer(s))
			}
		}

		if dead && prev != nil {
			// Splicing out cur is safe even when prev is itself a dead,
			// not-yet-unlinked queue: prev.next is touched only by this
			// single consumer goroutine. Only the literal list head
			// (prev == nil here) may never be rewritten this way — that
			// would race with a concurrent set_head (spec.md §4.2).
			next := cur.next
			prev.next = next
			cur.reclaimAllSpaceAndUnlink()
			recordWOQUnlinked(s.poolName)
			cur = next
			continue
		}

		prev = cur
		cur = cur.next
	}

	s.cursor, s.prev = cur, prev
	s.reportSharedCapacity()
	return transferred
}

// increaseCapacity doubles the backing array until it covers at least
// expected elements, capped at maxCapacity (spec.md §4.2).
func (s *Stack[T]) increaseCapacity(expected int) {
	if expected > int(s.maxCapacity) {
		expected = int(s.maxCapacity)
	}
	newCap := len(s.elements)
	if newCap == 0 {
		newCap = minLinkCapacity
	}
	for newCap < expected {
		newCap *= 2
	}
	if newCap > int(s.maxCapacity) {
		newCap = int(s.maxCapacity)
	}
	grown := make([]*Handle[T], newCap)
	copy(grown, s.elements[:s.size])
	s.elements = grown
}
