package recycler

import (
	"sync/atomic"
	"weak"

	"objpool/pkg/logger"
)

// WeakOrderQueue is a single-producer/single-consumer queue of handles
// destined for one foreign Stack (spec.md §4.3). The producer is the
// goroutine that calls add (via Handle.Recycle on a non-home goroutine); the
// consumer is always the target Stack's home goroutine, via transfer.
type WeakOrderQueue[T any] struct {
	id int64

	producer weak.Pointer[producerSentinel]

	head *linkHead[T]
	// headLink/tail are the consumer- and producer-visible ends of the link
	// chain respectively. headLink is advanced only by the consumer
	// (transfer); tail only by the producer (add).
	headLink *link[T]
	tail     *link[T]

	next *WeakOrderQueue[T] // next WOQ in the target Stack's list

	handleRecycleCount int32 // producer-local ratio counter
	interval           int32 // ratio threshold inherited from target stack

	poolName string // copied from the target Stack at creation (SPEC_FULL §4.5)
}

// newWeakOrderQueue allocates a WOQ toward dst for the calling (producer)
// goroutine, claiming one Link's worth of shared capacity up front. Returns
// nil if the shared capacity budget cannot cover even the first Link.
func newWeakOrderQueue[T any](dst *Stack[T], goroutineID int64) *WeakOrderQueue[T] {
	head := &linkHead[T]{sharedCapacity: &dst.availableSharedCapacity, linkCapacity: dst.linkCapacity}
	first := head.newLink()
	if first == nil {
		return nil
	}
	sentinel := sentinelFor(goroutineID)
	return &WeakOrderQueue[T]{
		id:       nextGlobalID(),
		producer: weak.Make(sentinel),
		head:     head,
		headLink: first,
		tail:     first,
		interval: dst.delayedQueueRatio,
		poolName: dst.poolName,
	}
}

// dropHandleRatio applies the same admission filter (dropHandle) that
// Stack.pushNow applies, using this WOQ's own producer-local counter and
// interval (spec.md §4.3 step 2).
func (q *WeakOrderQueue[T]) dropHandleRatio(h *Handle[T]) bool {
	return dropHandle(h, &q.handleRecycleCount, q.interval)
}

// add enqueues h on the producer side (spec.md §4.3 add).
func (q *WeakOrderQueue[T]) add(h *Handle[T]) {
	if !h.lastRecycledID.CompareAndSwap(0, q.id) {
		// A racing recycler already claimed this handle.
		logger.Debug("woq_add_cas_lost", "woq_id", q.id)
		recordRecycle(q.poolName, "dropped_race")
		return
	}

	if q.dropHandleRatio(h) {
		recordRecycle(q.poolName, "dropped_ratio")
		return
	}

	writeIndex := q.tail.writeIndex.Load()
	if writeIndex == q.tail.capacity() {
		next := q.head.newLink()
		if next == nil {
			// Shared capacity exhausted: drop the handle (spec.md
			// CapacityExhausted, not an error).
			recordRecycle(q.poolName, "dropped_capacity")
			return
		}
		q.tail.next = next
		q.tail = next
		writeIndex = 0
	}

	q.tail.elements[writeIndex] = h
	// home_stack must be nulled before the release-publish of writeIndex so
	// the consumer never observes an in-flight handle with a stale home
	// stack (spec.md §5).
	h.homeStack = nil
	q.tail.writeIndex.Store(writeIndex + 1)
	recordRecycle(q.poolName, "push_later")
}

// hasFinalData reports whether the tail Link still has unread data, used
// only to decide whether to drain a dead producer's queue before unlinking
// it (spec.md §4.3 hasFinalData).
func (q *WeakOrderQueue[T]) hasFinalData() bool {
	return q.tail.readIndex != q.tail.writeIndex.Load()
}

// transfer moves as many handles as fit from this WOQ's head Link into dst,
// consumer-thread only (spec.md §4.3 transfer). Returns the number of
// handles actually added to dst (0 means nothing was transferred).
func (q *WeakOrderQueue[T]) transfer(dst *Stack[T]) int {
	cur := q.headLink
	if cur == nil {
		return 0
	}

	if cur.drained() {
		if cur.next == nil {
			return 0
		}
		q.relink(cur)
		cur = q.headLink
	}

	srcStart := cur.readIndex
	srcEnd := cur.writeIndex.Load()
	if srcStart == srcEnd {
		return 0
	}

	available := srcEnd - srcStart
	need := dst.size + available
	if need > dst.maxCapacity {
		room := dst.maxCapacity - dst.size
		if room < 0 {
			room = 0
		}
		available = room
		srcEnd = srcStart + available
		need = dst.size + available
	}
	if need > int32(len(dst.elements)) {
		dst.increaseCapacity(int(need))
	}

	added := int32(0)
	for i := srcStart; i < srcEnd; i++ {
		h := cur.elements[i]
		cur.elements[i] = nil
		if h == nil {
			continue
		}

		last := h.lastRecycledID.Load()
		if h.recycleID == 0 {
			h.recycleID = last
		} else if h.recycleID != last {
			panic(ErrDoubleRecycle)
		}

		if dropHandle(h, &dst.handleRecycleCount, dst.interval) {
			continue
		}

		h.homeStack = dst
		dst.elements[dst.size] = h
		dst.size++
		added++
	}

	cur.readIndex = srcEnd
	if cur.drained() && cur.next != nil {
		q.relink(cur)
	}

	return int(added)
}

// relink advances the consumer-visible head of the chain from a drained
// Link to its successor, reclaiming the drained Link's shared-capacity
// share in the process.
func (q *WeakOrderQueue[T]) relink(drained *link[T]) {
	q.headLink = drained.next
	drained.next = nil
	q.head.reclaim(1)
}

// reclaimAllSpaceAndUnlink walks the remaining link chain, breaking next
// pointers to aid collection and returning all of its capacity to the
// shared budget in one add (spec.md §4.3).
func (q *WeakOrderQueue[T]) reclaimAllSpaceAndUnlink() {
	var links int64
	cur := q.headLink
	for cur != nil {
		next := cur.next
		cur.next = nil
		links++
		cur = next
	}
	q.headLink = nil
	q.tail = nil
	q.head.reclaim(links)
}

// dropHandle is the ratio filter shared by Stack.pushNow, WeakOrderQueue.transfer
// and WeakOrderQueue.dropHandleRatio (spec.md §4.2): of the fresh (never yet
// admitted) handles seen through one counter, the first is admitted and then
// one in every interval; an interval of 0 or 1 admits every handle. A handle
// that has been admitted once is always admitted afterwards.
func dropHandle[T any](h *Handle[T], counter *int32, interval int32) bool {
	if h.hasBeenRecycled {
		return false
	}
	drop := *counter != 0
	*counter++
	if *counter >= interval {
		*counter = 0
	}
	if drop {
		return true
	}
	h.hasBeenRecycled = true
	return false
}

var globalIDCounter atomic.Int64

func init() {
	// Start deep in negative space so it takes far longer than any
	// program's lifetime to reach 0, which is reserved for "unclaimed"
	// (spec.md §4.4).
	globalIDCounter.Store(minInt64 + 1)
}

const minInt64 = -1 << 63

func nextGlobalID() int64 {
	return globalIDCounter.Add(1)
}
