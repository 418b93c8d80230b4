package recycler

import (
	"sync/atomic"
	"testing"
)

func TestRoundUpLinkCapacity(t *testing.T) {
	cases := map[int]int{0: 16, 1: 16, 16: 16, 17: 32, 31: 32, 32: 32, 100: 128}
	for in, want := range cases {
		if got := roundUpLinkCapacity(in); got != want {
			t.Errorf("roundUpLinkCapacity(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLinkHeadBudgetExhaustion(t *testing.T) {
	var budget atomic.Int64
	budget.Store(16)
	head := &linkHead[*widget]{sharedCapacity: &budget, linkCapacity: 16}

	l1 := head.newLink()
	if l1 == nil {
		t.Fatalf("expected first link to be allocated from a budget of 16")
	}
	if l2 := head.newLink(); l2 != nil {
		t.Fatalf("expected budget exhaustion to refuse a second link")
	}

	head.reclaim(1)
	if l3 := head.newLink(); l3 == nil {
		t.Fatalf("expected reclaim to restore the budget for a third link")
	}
}
