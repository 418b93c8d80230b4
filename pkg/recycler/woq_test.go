package recycler

import "testing"

func TestWeakOrderQueueAddTransfer(t *testing.T) {
	cfg := defaultConfig()
	cfg.DelayedQueueRatio = 0 // admit the single handle immediately
	dst := newStack[*widget](&cfg, currentGoroutineID())

	woq := newWeakOrderQueue[*widget](dst, currentGoroutineID())
	if woq == nil {
		t.Fatalf("expected newWeakOrderQueue to succeed with a fresh shared budget")
	}
	dst.setHead(woq)

	h := &Handle[*widget]{}
	h.value = &widget{handle: h}
	woq.add(h)

	if woq.transfer(dst) == 0 {
		t.Fatalf("expected transfer to move the single queued handle onto dst")
	}
	if dst.size != 1 {
		t.Fatalf("expected dst.size == 1 after transfer, got %d", dst.size)
	}
}

func TestWeakOrderQueueDropRatio(t *testing.T) {
	cfg := defaultConfig()
	cfg.DelayedQueueRatio = 4
	dst := newStack[*widget](&cfg, currentGoroutineID())

	woq := newWeakOrderQueue[*widget](dst, currentGoroutineID())
	if woq == nil {
		t.Fatalf("expected newWeakOrderQueue to succeed")
	}
	dst.setHead(woq)

	for i := 0; i < 20; i++ {
		h := &Handle[*widget]{}
		h.value = &widget{handle: h}
		woq.add(h)
	}

	transferredTotal := 0
	for woq.transfer(dst) > 0 {
		transferredTotal = int(dst.size)
	}
	if transferredTotal == 0 || transferredTotal >= 20 {
		t.Fatalf("expected the ratio filter to admit some but not all 20 handles, got %d", transferredTotal)
	}
}
