package proxycore

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlowID is a process-unique monotonic identifier assigned to each flow
// the dispatcher accepts.
type FlowID uint64

var nextFlowID atomic.Uint64

func newFlowID() FlowID {
	return FlowID(nextFlowID.Add(1))
}

// FlowSnapshot is a point-in-time view of a tracked flow, safe to hand to
// an external statistics surface without holding the tracker's lock.
type FlowSnapshot struct {
	ID         FlowID
	Target     Address
	InboundTag string
	Outbound   string
	Network    Network
	Started    time.Time
	Uploaded   int64
	Downloaded int64
}

type trackedFlow struct {
	snapshot FlowSnapshot
	stats    *RelayStats
}

// latencyBuckets are the fixed-width millisecond boundaries of the
// dispatch-latency histogram (time from accept to outbound dial success).
var latencyBuckets = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// ConnectionTracker is the in-memory registry of live flows plus a latency
// histogram and success/failure counters, consulted by the external
// statistics surface. Grounded on the RouterMetrics/CacheMetrics style of
// striped expvar counters used elsewhere in this codebase, generalized
// into a concurrent-map flow registry since those counters have no notion
// of a long-lived "flow" (DNS resolution is request/response, not a
// stream).
type ConnectionTracker struct {
	mu    sync.RWMutex
	flows map[FlowID]*trackedFlow

	histogram []atomic.Int64 // parallel to latencyBuckets, plus one overflow bucket
	success   atomic.Int64
	failure   atomic.Int64

	totalUploaded   atomic.Int64
	totalDownloaded atomic.Int64
}

// NewConnectionTracker returns an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		flows:     make(map[FlowID]*trackedFlow),
		histogram: make([]atomic.Int64, len(latencyBuckets)+1),
	}
}

// Register inserts a new flow and returns its id and a shared RelayStats
// handle the relay should be given so byte counts flow straight into the
// snapshot without a second copy.
func (t *ConnectionTracker) Register(target Address, inboundTag, outbound string, network Network) (FlowID, *RelayStats) {
	id := newFlowID()
	stats := &RelayStats{}
	t.mu.Lock()
	t.flows[id] = &trackedFlow{
		snapshot: FlowSnapshot{
			ID:         id,
			Target:     target,
			InboundTag: inboundTag,
			Outbound:   outbound,
			Network:    network,
			Started:    time.Now(),
		},
		stats: stats,
	}
	t.mu.Unlock()
	return id, stats
}

// Unregister removes a flow, recording its dial latency and outcome. The
// flow's accumulated byte counts are folded into the tracker's running
// totals before the flow is dropped, so Totals keeps counting bytes a
// completed flow already relayed.
func (t *ConnectionTracker) Unregister(id FlowID, dialLatency time.Duration, ok bool) {
	t.mu.Lock()
	f, found := t.flows[id]
	delete(t.flows, id)
	t.mu.Unlock()

	if found {
		t.totalUploaded.Add(f.stats.Uploaded())
		t.totalDownloaded.Add(f.stats.Downloaded())
	}

	if ok {
		t.success.Add(1)
	} else {
		t.failure.Add(1)
	}
	t.observeLatency(dialLatency)
}

func (t *ConnectionTracker) observeLatency(d time.Duration) {
	ms := d.Milliseconds()
	for i, bound := range latencyBuckets {
		if ms <= bound {
			t.histogram[i].Add(1)
			return
		}
	}
	t.histogram[len(latencyBuckets)].Add(1)
}

// ActiveFlowCount returns the number of currently registered flows.
func (t *ConnectionTracker) ActiveFlowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.flows)
}

// Snapshot returns a copy of every live flow's current state.
func (t *ConnectionTracker) Snapshot() []FlowSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FlowSnapshot, 0, len(t.flows))
	for _, f := range t.flows {
		snap := f.snapshot
		snap.Uploaded = f.stats.Uploaded()
		snap.Downloaded = f.stats.Downloaded()
		out = append(out, snap)
	}
	return out
}

// Totals returns process-wide upload/download across every flow ever
// tracked: live flows' current byte counts plus the persisted totals of
// flows that have since been unregistered.
func (t *ConnectionTracker) Totals() (uploaded, downloaded int64) {
	t.mu.RLock()
	for _, f := range t.flows {
		uploaded += f.stats.Uploaded()
		downloaded += f.stats.Downloaded()
	}
	t.mu.RUnlock()
	uploaded += t.totalUploaded.Load()
	downloaded += t.totalDownloaded.Load()
	return
}

// LatencyPercentile returns an approximate p-th percentile dial latency in
// milliseconds (p in (0,100]), derived from the fixed-width histogram.
func (t *ConnectionTracker) LatencyPercentile(p float64) int64 {
	var total int64
	counts := make([]int64, len(t.histogram))
	for i := range t.histogram {
		counts[i] = t.histogram[i].Load()
		total += counts[i]
	}
	if total == 0 {
		return 0
	}
	target := int64(p / 100 * float64(total))
	var cumulative int64
	for i, c := range counts {
		cumulative += c
		if cumulative >= target {
			if i < len(latencyBuckets) {
				return latencyBuckets[i]
			}
			return latencyBuckets[len(latencyBuckets)-1]
		}
	}
	return latencyBuckets[len(latencyBuckets)-1]
}

// SuccessFailure returns the cumulative counts of flows unregistered as
// succeeded and as failed (a failed dial, or a relay that ended in error).
func (t *ConnectionTracker) SuccessFailure() (success, failure int64) {
	return t.success.Load(), t.failure.Load()
}
