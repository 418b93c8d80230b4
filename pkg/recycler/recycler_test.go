package recycler

import (
	"sync"
	"testing"
	"time"
)

type widget struct {
	handle *Handle[*widget]
	id     int
}

func newWidgetRecycler() *Recycler[*widget] {
	return New(func(h *Handle[*widget]) *widget {
		return &widget{handle: h}
	})
}

func TestGetReturnsFreshObjectWhenPoolEmpty(t *testing.T) {
	r := newWidgetRecycler()
	w := r.Get()
	if w == nil || w.handle == nil {
		t.Fatalf("expected a fresh widget with a bound handle")
	}
}

func TestSameThreadRecycleIsReused(t *testing.T) {
	// Ratio 0 disables the admission filter so every recycle is kept; the
	// default ratio keeps only one in eight freshly allocated handles
	// (spec.md §4.2 drop_handle), which TestRatioDropsMostRecycles exercises
	// separately.
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} }, WithRatio(0))
	w := r.Get()
	w.id = 42
	if err := w.handle.Recycle(w); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	w2 := r.Get()
	if w2 != w {
		t.Fatalf("expected the same object back from the home thread, got a different pointer")
	}
}

func TestDoubleRecycleIsRejected(t *testing.T) {
	r := newWidgetRecycler()
	w := r.Get()
	if err := w.handle.Recycle(w); err != nil {
		t.Fatalf("first Recycle: %v", err)
	}
	if err := w.handle.Recycle(w); err == nil {
		t.Fatalf("expected second Recycle on the same handle to fail")
	}
}

func TestMismatchedObjectIsRejected(t *testing.T) {
	r := newWidgetRecycler()
	w := r.Get()
	other := &widget{}
	if err := w.handle.Recycle(other); err != ErrMismatchedObject {
		t.Fatalf("expected ErrMismatchedObject, got %v", err)
	}
}

func TestCrossThreadRecycleIsScavenged(t *testing.T) {
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} },
		WithRatio(0), WithDelayedQueueRatio(0))
	w := r.Get()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.handle.Recycle(w); err != nil {
			t.Errorf("foreign Recycle: %v", err)
		}
	}()
	<-done

	// The foreign goroutine only enqueued w on a WeakOrderQueue; the home
	// goroutine must scavenge it on the next Get.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w2 := r.Get(); w2 == w {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cross-thread recycled object was never scavenged back")
}

func TestRatioDropsMostRecycles(t *testing.T) {
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} }, WithRatio(4))

	kept := 0
	// Take 40 distinct fresh widgets out before recycling any, so each
	// recycle goes through the filter as a fresh handle.
	ws := make([]*widget, 40)
	for i := range ws {
		ws[i] = r.Get()
	}
	for _, w := range ws {
		if err := w.handle.Recycle(w); err != nil {
			t.Fatalf("Recycle: %v", err)
		}
	}
	// Drain whatever made it onto the stack; with ratio 4 roughly 1 in 4
	// survives, so far fewer than 40 should be poppable.
	for {
		s := r.stackFor(currentGoroutineID())
		if _, ok := s.pop(); !ok {
			break
		}
		kept++
	}
	if kept == 0 || kept >= 40 {
		t.Fatalf("expected the ratio filter to retain some but not all recycles, got %d/40", kept)
	}
}

func TestPoolingDisabledAlwaysAllocates(t *testing.T) {
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} }, WithPoolingDisabled())

	w1 := r.Get()
	if err := w1.handle.Recycle(w1); err != nil {
		t.Fatalf("Recycle on disabled pool should be a no-op, got %v", err)
	}
	w2 := r.Get()
	if w2 == w1 {
		t.Fatalf("pooling disabled, expected Get to never return a recycled object")
	}
}

func TestSharedCapacityClampsWOQCreation(t *testing.T) {
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} },
		WithMaxSharedCapacityFactor(1<<20), // shrink the shared budget to ~linkCapacity
		WithMaxDelayedQueuesPerThread(8),
	)
	w := r.Get()
	s := r.stackFor(currentGoroutineID())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = newWeakOrderQueue[*widget](s, currentGoroutineID())
		}()
	}
	wg.Wait()

	if s.availableSharedCapacity.Load() < 0 {
		t.Fatalf("shared capacity budget went negative: %d", s.availableSharedCapacity.Load())
	}
	_ = w
}

func TestDeadProducerQueueIsDrained(t *testing.T) {
	r := New(func(h *Handle[*widget]) *widget { return &widget{handle: h} },
		WithRatio(0), WithDelayedQueueRatio(0))
	w := r.Get()
	s := r.stackFor(currentGoroutineID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.handle.Recycle(w)
	}()
	<-done
	// Give the producer goroutine a chance to fully exit before we force a
	// liveness reap.
	time.Sleep(20 * time.Millisecond)

	lastReapUnixNano.Store(0) // force reapDeadProducers to actually run
	woq := s.head.Load()
	if woq == nil {
		t.Fatalf("expected the foreign goroutine to have registered a WeakOrderQueue")
	}

	found := false
	for i := 0; i < 50 && !found; i++ {
		s.scavenge()
		if _, ok := s.pop(); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the dead producer's queued handle to eventually be scavenged")
	}
}

// TestScavengeDeadHeadAfterWrapAroundDoesNotCycle reproduces the scenario
// where a full scavenge pass wraps all the way around a WOQ list (cursor
// resets to nil, prev left pointing at the last WOQ), and the literal list
// head is then found dead. A scavenge that reused the stale prev here would
// splice the dead head out by rewriting prev.next instead of s.head,
// corrupting the list into a self-referencing cycle and looping forever on
// every subsequent scavenge/pop. Neither TestDeadProducerQueueIsDrained (a
// single foreign producer, so prev is always nil) nor
// TestSharedCapacityClampsWOQCreation exercises this: both leave the WOQ
// list a single element or never reach a dead head with a non-nil prev.
func TestScavengeDeadHeadAfterWrapAroundDoesNotCycle(t *testing.T) {
	cfg := defaultConfig()
	s := newStack[*widget](&cfg, currentGoroutineID())

	// Two WOQs with no producer (a zero-value weak.Pointer reports Value()
	// == nil, exactly like a reaped producer) and an empty, fully-drained
	// tail Link each (so hasFinalData sees a real Link instead of
	// dereferencing a nil one; transfer returns 0 at once because headLink
	// is nil), wired head -> a -> b -> nil.
	a := &WeakOrderQueue[*widget]{id: -100, tail: newLink[*widget](16)}
	b := &WeakOrderQueue[*widget]{id: -101, tail: newLink[*widget](16)}
	a.next = b
	s.head.Store(a)

	// Simulate the state left behind by a previous scavenge pass that
	// wrapped all the way around to the end of the list: cursor rolled back
	// to nil, but prev is stale, still pointing at the list's last WOQ.
	s.cursor = nil
	s.prev = b

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.scavenge()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scavenge looped forever: a dead list head was spliced out using a stale prev, cycling the WOQ list")
	}
}
