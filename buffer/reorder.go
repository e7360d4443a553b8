// Package buffer implements C1 (ReorderingBuffer) and C2 (LatencyMonitor).
//
// The reordering buffer exists to close the Ghost-Trade race: a naive
// "drain everything each tick" schedule processes a trade and its matching
// depth update in separate batches whenever the update lags the trade across
// a tick boundary, and the iceberg analyzer — which correlates the two by a
// Δt window — loses the refill. Holding events for `delay_ms` guarantees
// co-processing whenever both arrive within that window of each other.
package buffer

import (
	"container/heap"
	"sync"
)

// Priority orders same-timestamp events: trades logically precede the book
// state they produced, so they always sort first.
type Priority int

const (
	PriorityTrade Priority = 0
	PriorityDepth Priority = 1
)

// Item is anything the engine's consumer loop dispatches, tagged with the
// ordering key the buffer sorts on.
type Item struct {
	EventTimeMs int64
	Priority    Priority
	Seq         uint64
	Value       any
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].EventTimeMs != h[j].EventTimeMs {
		return h[i].EventTimeMs < h[j].EventTimeMs
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(Item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// ReorderingBuffer is a min-heap keyed by (event_time_ms, priority, seq).
// It never errors: empty input yields empty output, and Push/PopReady are
// the only two operations the consumer loop needs.
type ReorderingBuffer struct {
	mu      sync.Mutex
	h       itemHeap
	nextSeq uint64
}

// New creates an empty buffer.
func New() *ReorderingBuffer {
	b := &ReorderingBuffer{}
	heap.Init(&b.h)
	return b
}

// Push enqueues value with the given event time and priority, assigning the
// next monotonic sequence number for same-key tie-breaking.
func (b *ReorderingBuffer) Push(eventTimeMs int64, p Priority, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.h, Item{
		EventTimeMs: eventTimeMs,
		Priority:    p,
		Seq:         b.nextSeq,
		Value:       value,
	})
	b.nextSeq++
}

// PopReady removes and returns, in (event_time, priority, seq) order, every
// item whose event time is at or before nowMs-delayMs.
func (b *ReorderingBuffer) PopReady(nowMs int64, delayMs int64) []Item {
	cutoff := nowMs - delayMs
	b.mu.Lock()
	defer b.mu.Unlock()

	var ready []Item
	for b.h.Len() > 0 && b.h[0].EventTimeMs <= cutoff {
		it := heap.Pop(&b.h).(Item)
		ready = append(ready, it)
	}
	return ready
}

// Len reports the number of buffered items not yet popped, ready or not.
func (b *ReorderingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.h.Len()
}
