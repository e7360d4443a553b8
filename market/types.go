// Package market holds the wire-level and domain data types shared by every
// analyzer: order-book diffs, trades, the derivatives hints consumed as
// read-only context, and the downstream detection events of spec.md §6.
package market

import (
	"time"

	"icebergflow-engine/price"
)

// PriceLevel is a single (price, qty) pair as it arrives in a depth diff.
// A Qty of zero deletes the level.
type PriceLevel struct {
	Price price.Price
	Qty   price.Qty
}

// OrderBookUpdate is an incremental depth diff (spec §3).
type OrderBookUpdate struct {
	Symbol        string
	FirstUpdateID uint64
	FinalUpdateID uint64
	EventTimeMs   int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// Snapshot is a full REST order-book snapshot used on (re)sync.
type Snapshot struct {
	Symbol        string
	LastUpdateID  uint64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// TradeEvent is an aggregate-trade tick (spec §3). IsBuyerMaker=false means
// the taker bought (aggressive buy).
type TradeEvent struct {
	Symbol       string
	Price        price.Price
	Quantity     price.Qty
	IsBuyerMaker bool
	EventTimeMs  int64
	TradeID      *uint64
}

// VolumeUSD is a derived float, used only at the cohort/VPIN boundary.
func (t TradeEvent) VolumeUSD() float64 {
	return t.Price.Mul(t.Quantity).InexactFloat64()
}

// IsAggressiveBuy reports whether the taker was the buyer.
func (t TradeEvent) IsAggressiveBuy() bool { return !t.IsBuyerMaker }

// SignedVolumeUSD is positive for aggressive buys, negative for aggressive
// sells — the unit CVD/whale-CVD accumulators consume.
func (t TradeEvent) SignedVolumeUSD() float64 {
	v := t.VolumeUSD()
	if !t.IsAggressiveBuy() {
		return -v
	}
	return v
}

// EventTime returns EventTimeMs as a time.Time for convenience.
func (t TradeEvent) EventTime() time.Time {
	return time.UnixMilli(t.EventTimeMs)
}

func (u OrderBookUpdate) EventTime() time.Time {
	return time.UnixMilli(u.EventTimeMs)
}

// GammaProfile is consumed only — populated by an external options-Greeks
// pre-computation collaborator and cached with a TTL by the derivatives
// package.
type GammaProfile struct {
	Symbol              string
	TotalGEX            float64
	TotalGEXNormalized  *float64
	CallWall            price.Price
	PutWall             price.Price
	ExpiryTimestamp     *time.Time
}

// HoursToExpiry returns the hours remaining until ExpiryTimestamp, or a large
// sentinel if unknown (so GEX decay treats it as "not decaying").
func (g GammaProfile) HoursToExpiry(now time.Time) float64 {
	if g.ExpiryTimestamp == nil {
		return 999
	}
	h := g.ExpiryTimestamp.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Side distinguishes bid/ask without relying on a bare bool at call sites.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) IsAsk() bool { return s == SideAsk }

func (s Side) String() string {
	if s == SideAsk {
		return "ASK"
	}
	return "BID"
}
