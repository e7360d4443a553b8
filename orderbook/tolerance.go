package orderbook

import (
	"math"

	"icebergflow-engine/config"
)

// Tolerance centralizes the numeric tolerances that spec.md §9 flags as
// "spread across code" in the source: spread-scaled proximity, the
// regime-widened OFI depth, and the regime-adapted refill window and
// iceberg ratio. It is built from the current top of book by its caller
// (iceberg.OnDepthUpdate builds one per matched pending check).
type Tolerance struct {
	SpreadAbs   float64 // best ask - best bid, in the quote's float domain
	MidPrice    float64
	cfg         config.AssetConfig
}

// NewTolerance builds a Tolerance snapshot from the book's current top of
// book and the symbol's AssetConfig.
func NewTolerance(cfg config.AssetConfig, bestBid, bestAsk float64) Tolerance {
	return Tolerance{
		SpreadAbs: bestAsk - bestBid,
		MidPrice:  (bestAsk + bestBid) / 2,
		cfg:       cfg,
	}
}

// CloseToLevelThreshold is the spoofing analyzer's "close" distance: the
// larger of 2x the recent spread or the configured breach tolerance, in
// price units — never a hardcoded percent (spec §4.9).
func (t Tolerance) CloseToLevelThreshold() float64 {
	byBreachPct := t.cfg.BreachTolerancePct * t.MidPrice
	bySpread := 2 * t.SpreadAbs
	if bySpread > byBreachPct {
		return bySpread
	}
	return byBreachPct
}

// OFIDepth returns the configured OFI top-N, widened under high realized
// spread volatility the way the source's dynamic-OFI-depth behavior does
// (SPEC_FULL §12): a spread z-score above 2 doubles the depth; otherwise the
// base depth is returned.
func (t Tolerance) OFIDepth(spreadZScore float64) int {
	depth := t.cfg.OFIDepth
	if spreadZScore > 2 {
		depth *= 2
	}
	return depth
}

// NativeRefillMaxMs stretches the native-refill window under volatility per
// spec §4.7's regime adaptation: base * exp(z/2), capped at 12ms.
func (t Tolerance) NativeRefillMaxMs(spreadZScore float64) int64 {
	if spreadZScore <= 0 {
		return t.cfg.NativeRefillMaxMs
	}
	stretched := float64(t.cfg.NativeRefillMaxMs) * math.Exp(spreadZScore/2)
	if stretched > 12 {
		stretched = 12
	}
	return int64(stretched)
}

// MinIcebergRatio softens linearly toward a floor of 0.10 under volatility.
func (t Tolerance) MinIcebergRatio(spreadZScore float64) float64 {
	if spreadZScore <= 0 {
		return t.cfg.MinIcebergRatio
	}
	floor := 0.10
	softened := t.cfg.MinIcebergRatio - 0.05*spreadZScore
	if softened < floor {
		return floor
	}
	return softened
}
