// Package accumulation implements C8: multi-timeframe CVD/price divergence
// read through to a Wyckoff classification (SPRING/UPTHRUST/ACCUMULATION/
// DISTRIBUTION), plus price-zone clustering of active iceberg levels, per
// spec.md §4.8.
package accumulation

import (
	"math"
	"sort"

	"icebergflow-engine/market"
	"icebergflow-engine/memory"
	"icebergflow-engine/orderbook"
	"icebergflow-engine/price"
)

// PriceZone groups nearby same-side iceberg levels (spec §4.8).
type PriceZone struct {
	CenterPrice  price.Price
	TotalVolume  price.Qty
	IcebergCount int
	IsAsk        bool
}

// IsStrong reports whether the zone has enough levels to be treated as
// support/resistance in its own right.
func (z PriceZone) IsStrong() bool { return z.IcebergCount >= 3 }

// ClusterIcebergsToZones groups active icebergs on the same side whose
// prices fall within tolerancePct of one another into zones.
func ClusterIcebergsToZones(levels []*orderbook.IcebergLevel, tolerancePct float64) []PriceZone {
	bySide := map[bool][]*orderbook.IcebergLevel{}
	for _, l := range levels {
		bySide[l.IsAsk] = append(bySide[l.IsAsk], l)
	}

	var zones []PriceZone
	for isAsk, ls := range bySide {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Price.LessThan(ls[j].Price) })
		var cur []*orderbook.IcebergLevel
		flush := func() {
			if len(cur) == 0 {
				return
			}
			total := price.ZeroQty
			sumPrice := 0.0
			for _, l := range cur {
				total = total.Add(l.TotalHiddenVolume)
				sumPrice += l.Price.Float64()
			}
			center := price.PriceFromFloat(sumPrice / float64(len(cur)))
			zones = append(zones, PriceZone{CenterPrice: center, TotalVolume: total, IcebergCount: len(cur), IsAsk: isAsk})
			cur = nil
		}
		for _, l := range ls {
			if len(cur) == 0 {
				cur = append(cur, l)
				continue
			}
			last := cur[len(cur)-1]
			if math.Abs(l.Price.DistancePct(last.Price)) <= tolerancePct {
				cur = append(cur, l)
			} else {
				flush()
				cur = append(cur, l)
			}
		}
		flush()
	}
	return zones
}

// Result is the outcome of Detect for a single timeframe.
type Result struct {
	Timeframe          memory.Timeframe
	Type               market.DivergenceType
	Pattern            market.WyckoffPattern
	Confidence         float64
	AbsorptionDetected bool
	OBIConfirms        bool
	NearStrongZone     bool
}

// ZoneTolerancePct is the default price-proximity tolerance for clustering
// active icebergs into zones (0.2%).
const ZoneTolerancePct = 0.002

// Detect reads the divergence for tf from mem, and if positive, classifies
// a Wyckoff pattern using the book's active icebergs, current weighted OBI,
// and the relative-depth-ratio absorption predicate of spec §4.8.
func Detect(mem *memory.HistoricalMemory, tf memory.Timeframe, book *orderbook.LocalOrderBook, obiDepth int) (Result, bool) {
	divType, divConf := mem.DetectCVDDivergence(tf)
	if divType == market.DivergenceNone {
		return Result{}, false
	}

	mid, haveMid := book.Mid()
	icebergs := book.ActiveIcebergs()
	zones := ClusterIcebergsToZones(icebergs, ZoneTolerancePct)
	obi := book.GetWeightedOBI(obiDepth, true)

	wantAsk := divType == market.DivergenceBearish
	absorption, strongLevel := strongAbsorption(icebergs, book, wantAsk)
	nearStrongZone := haveMid && nearZone(mid, zones, wantAsk)

	var pattern market.WyckoffPattern
	switch {
	case divType == market.DivergenceBullish && absorption && obi > 0:
		pattern = market.WyckoffSpring
	case divType == market.DivergenceBullish:
		pattern = market.WyckoffAccumulation
	case divType == market.DivergenceBearish && absorption && obi < 0:
		pattern = market.WyckoffUpthrust
	default:
		pattern = market.WyckoffDistribution
	}

	confidence := divConf
	if nearStrongZone {
		confidence = clamp01(confidence*1.15 + 0.05)
	}
	_ = strongLevel

	return Result{
		Timeframe:          tf,
		Type:               divType,
		Pattern:            pattern,
		Confidence:         confidence,
		AbsorptionDetected: absorption,
		OBIConfirms:        (divType == market.DivergenceBullish && obi > 0) || (divType == market.DivergenceBearish && obi < 0),
		NearStrongZone:     nearStrongZone,
	}, true
}

// strongAbsorption requires at least one iceberg on the matching side whose
// total hidden volume is >= 1.5x the local top-of-book visible depth.
func strongAbsorption(levels []*orderbook.IcebergLevel, book *orderbook.LocalOrderBook, isAsk bool) (bool, *orderbook.IcebergLevel) {
	for _, l := range levels {
		if l.IsAsk != isAsk {
			continue
		}
		visible := book.QtyAt(l.Price, isAsk)
		if visible.IsZero() {
			continue
		}
		if l.TotalHiddenVolume.Float64() >= 1.5*visible.Float64() {
			return true, l
		}
	}
	return false, nil
}

func nearZone(mid price.Price, zones []PriceZone, isAsk bool) bool {
	for _, z := range zones {
		if z.IsAsk != isAsk || !z.IsStrong() {
			continue
		}
		if math.Abs(mid.DistancePct(z.CenterPrice)) < 0.005 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
