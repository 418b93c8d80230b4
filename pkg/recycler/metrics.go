package recycler

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labeled Prometheus series matching SPEC_FULL.md §4.5. A Recycler built
// without WithPoolName(...) (the default) never touches these: the plain
// atomics below still record every event for GlobalStats, but no Prometheus
// label series is incremented, so an unnamed pool adds no lock to the hot
// path beyond the atomic increments it would have paid anyway (spec.md §5
// "no operation blocks").
var (
	getTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recycler",
		Name:      "get_total",
		Help:      "Get calls by how they were satisfied: stack_pop, scavenge, or alloc.",
	}, []string{"source"})
	recycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recycler",
		Name:      "recycle_total",
		Help:      "Recycle calls by outcome: push_now, push_later, dropped_capacity, dropped_ratio, dropped_race.",
	}, []string{"path"})
	scavengeTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recycler",
		Name:      "scavenge_transferred_total",
		Help:      "Handles moved from a WeakOrderQueue onto a Stack by scavenge.",
	})
	woqUnlinkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recycler",
		Name:      "woq_unlinked_total",
		Help:      "Drained WeakOrderQueues whose producer was found dead and unlinked by the scavenger.",
	})
	sharedCapacityAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "recycler",
		Name:      "shared_capacity_available",
		Help:      "Remaining shared Link budget for WeakOrderQueues targeting one Stack.",
	}, []string{"pool"})
)

// Process-wide counters mirroring the Prometheus series above, cheap to read
// back out for a plain JSON status endpoint that doesn't want to depend on
// the Prometheus client's internal gathering path. Unlike the Prometheus
// series, these are always updated regardless of whether a pool name was
// configured.
var (
	hitCount      atomic.Uint64
	missCount     atomic.Uint64
	recycledCount atomic.Uint64
	unlinkedCount atomic.Uint64
)

// recordGet records a Get outcome. source is one of "stack_pop", "scavenge",
// or "alloc" (spec.md §4.1 Get, SPEC_FULL §4.5).
func recordGet(poolName, source string) {
	switch source {
	case "stack_pop", "scavenge":
		hitCount.Add(1)
	case "alloc":
		missCount.Add(1)
	}
	if poolName != "" {
		getTotal.WithLabelValues(source).Inc()
	}
}

// recordRecycle records a recycle outcome. path is one of "push_now",
// "push_later", "dropped_capacity", "dropped_ratio", or "dropped_race"
// (SPEC_FULL §4.5). The admission-burst guard's drop (stack.go pushNow) is
// folded into "dropped_capacity": it is a capacity-growth-rate rejection, not
// a distinct outcome the spec's five-value taxonomy has room for.
func recordRecycle(poolName, path string) {
	switch path {
	case "push_now", "push_later":
		recycledCount.Add(1)
	}
	if poolName != "" {
		recycleTotal.WithLabelValues(path).Inc()
	}
}

// recordScavengeTransferred records n handles moved off a WeakOrderQueue by
// scavenge. A no-op for n <= 0 so callers can pass transfer's return count
// directly without an extra guard.
func recordScavengeTransferred(poolName string, n int) {
	if n <= 0 {
		return
	}
	if poolName != "" {
		scavengeTransferredTotal.Add(float64(n))
	}
}

// recordWOQUnlinked records one dead-producer WeakOrderQueue reclaimed by the
// scavenger.
func recordWOQUnlinked(poolName string) {
	unlinkedCount.Add(1)
	if poolName != "" {
		woqUnlinkedTotal.Inc()
	}
}

// setSharedCapacityGauge publishes a Stack's current available shared
// capacity under its pool name. A no-op when no pool name was configured.
func setSharedCapacityGauge(poolName string, value int64) {
	if poolName == "" {
		return
	}
	sharedCapacityAvailable.WithLabelValues(poolName).Set(float64(value))
}

// Stats is a point-in-time, process-wide snapshot of pool activity across
// every Recycler instance in the process (the atomic counters carry no
// per-instance labels, unlike the opt-in Prometheus series above).
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Recycled    uint64 `json:"recycled"`
	WOQUnlinked uint64 `json:"woq_unlinked"`
}

// GlobalStats returns the current process-wide Stats snapshot.
func GlobalStats() Stats {
	return Stats{
		Hits:        hitCount.Load(),
		Misses:      missCount.Load(),
		Recycled:    recycledCount.Load(),
		WOQUnlinked: unlinkedCount.Load(),
	}
}
