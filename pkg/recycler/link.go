package recycler

import "sync/atomic"

// minLinkCapacity is the smallest allowed Link size; link capacities are
// always rounded up to a power of two no smaller than this (spec.md §3).
const minLinkCapacity = 16

// link is one fixed-size chunk of a WeakOrderQueue's buffer. Producer writes
// to elements[i] happen-before the consumer's read of that slot because the
// producer publishes writeIndex with a release store and the consumer reads
// it with an acquire load (spec.md §5).
type link[T any] struct {
	elements []*Handle[T]

	// writeIndex is producer-owned; published with release semantics so the
	// consumer never observes a partially-written slot.
	writeIndex atomic.Int32

	// readIndex is consumer-owned only; never touched by the producer.
	readIndex int32

	next *link[T]
}

func newLink[T any](capacity int) *link[T] {
	return &link[T]{elements: make([]*Handle[T], capacity)}
}

func (l *link[T]) capacity() int32 { return int32(len(l.elements)) }

// drained reports whether the consumer has read every slot the producer has
// published so far, from the consumer's point of view.
func (l *link[T]) drained() bool {
	return l.readIndex == l.writeIndex.Load()
}

// linkHead owns the current head Link of a WeakOrderQueue's chain together
// with the shared capacity budget all WOQs targeting one Stack draw from. It
// intentionally holds no reference to its owning WOQ or the target Stack: it
// participates in the ownership discipline only through the shared atomic
// counter (spec.md §3 "LinkChain head (Head)"), which is what lets a WOQ and
// its target Stack become unreachable independently of each other.
type linkHead[T any] struct {
	sharedCapacity *atomic.Int64
	linkCapacity   int32
}

// newLink attempts to allocate a new Link, claiming linkCapacity units from
// the shared budget via a CAS loop; the caller links it into the chain.
// Returns nil if the shared budget cannot cover one more Link.
func (h *linkHead[T]) newLink() *link[T] {
	for {
		avail := h.sharedCapacity.Load()
		if avail < int64(h.linkCapacity) {
			return nil
		}
		if h.sharedCapacity.CompareAndSwap(avail, avail-int64(h.linkCapacity)) {
			return newLink[T](int(h.linkCapacity))
		}
	}
}

// reclaim returns n*linkCapacity units to the shared budget (a Link was
// drained and unlinked, or a whole dead WOQ chain was reclaimed at once).
func (h *linkHead[T]) reclaim(links int64) {
	if links == 0 {
		return
	}
	h.sharedCapacity.Add(links * int64(h.linkCapacity))
}

// roundUpLinkCapacity rounds c up to a power of two no smaller than
// minLinkCapacity, matching spec.md §3's "power of two, minimum 16".
func roundUpLinkCapacity(c int) int {
	if c < minLinkCapacity {
		return minLinkCapacity
	}
	n := 1
	for n < c {
		n <<= 1
	}
	return n
}
