package orderbook

import (
	"time"

	"icebergflow-engine/market"
	"icebergflow-engine/price"
)

// PendingCheck is a trade awaiting a matching depth update at the same
// price, per spec.md §4.7's dual-event correlation: "on each trade, enqueue
// a PendingCheck... on each depth update, for every pending check at that
// price whose Δt is non-negative, the analyzer is invoked". It lives on
// LocalOrderBook (part of the C3 data model) but is read and drained only
// by the iceberg analyzer, which is the only caller that understands its
// contents.
type PendingCheck struct {
	Trade           market.TradeEvent
	VisibleBefore   price.Qty
	TradeTime       time.Time
	Price           price.Price
	Side            market.Side
	VPINScore       *float64
	VPINReliable    bool
	DivergenceType  market.DivergenceType
	DivergenceConf  float64
}

const pendingCheckMaxAgeMs = 100

// EnqueuePendingCheck appends a new pending check and garbage-collects
// entries older than 100ms relative to nowMs.
func (b *LocalOrderBook) EnqueuePendingCheck(c PendingCheck, nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingChecks = append(b.pendingChecks, c)
	b.gcPendingChecksLocked(nowMs)
}

func (b *LocalOrderBook) gcPendingChecksLocked(nowMs int64) {
	cutoff := nowMs - pendingCheckMaxAgeMs
	kept := b.pendingChecks[:0]
	for _, c := range b.pendingChecks {
		if c.TradeTime.UnixMilli() >= cutoff {
			kept = append(kept, c)
		}
	}
	b.pendingChecks = kept
}

// DrainMatchingChecks removes and returns every pending check at p, after
// GC'ing stale entries. A check whose trade time is after updateTime (the
// depth update arrived before the trade it is meant to confirm) is still
// drained here but rejected by the caller as NEGATIVE_DELTA_T — the
// ReorderingBuffer's delay window makes this rare but not impossible, so it
// is surfaced for observability rather than left silently stuck in the
// queue forever.
func (b *LocalOrderBook) DrainMatchingChecks(p price.Price, updateTime time.Time, nowMs int64) []PendingCheck {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gcPendingChecksLocked(nowMs)

	var matched []PendingCheck
	remaining := b.pendingChecks[:0]
	for _, c := range b.pendingChecks {
		if c.Price.Equal(p) {
			matched = append(matched, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	b.pendingChecks = remaining
	return matched
}
