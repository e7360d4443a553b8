// Package whale implements C6: trade-size cohorting (whale/dolphin/minnow),
// per-cohort running CVD, and algo-pattern classification (TWAP/VWAP/ICEBERG/
// SWEEP) per spec.md §4.6.
package whale

import (
	"math"
	"sort"
	"time"

	"icebergflow-engine/config"
	"icebergflow-engine/market"
)

// Cohort names the participant size class spec.md §4.6 assigns a trade to.
type Cohort string

const (
	CohortWhale   Cohort = "WHALE"
	CohortDolphin Cohort = "DOLPHIN"
	CohortMinnow  Cohort = "MINNOW"
)

const (
	tradeHistoryWindow   = 500             // trades retained for percentile thresholds
	minSamplesForDynamic = 100             // spec §4.6 step 2: below this, use static floors
	ringWindow           = 60 * time.Second // algo-pattern classification window

	algoMinTrades         = 200  // spec §4.6: classification fires only at >= 200 minnow trades
	algoDirectionalMin    = 0.85 // minimum dominant-direction ratio to consider an algo at all
	algoGenericMin        = 0.90 // fallback GENERIC_ALGO directional-ratio floor
	sizeUniformityMin     = 0.90 // ICEBERG: fraction of trades at the dominant size
	sweepMeanIntervalMs   = 50.0 // SWEEP: mean inter-trade interval below this
	twapIntervalCVMax     = 0.10 // TWAP: interval coefficient of variation below this
	vwapIntervalCVMax     = 0.50 // VWAP: interval coefficient of variation below this
)

// sizedTrade is a trade-size history sample used for percentile thresholds.
type sizedTrade struct {
	t         time.Time
	volumeUSD float64
}

// Analyzer tracks per-symbol whale cohorting, per-cohort CVD, and algo-
// pattern state. The algo ring receives minnow trades only (spec §4.6 step
// 5): whales and dolphins don't participate in the order-splitting patterns
// this detector looks for.
type Analyzer struct {
	cfg config.AssetConfig

	history []sizedTrade // bounded ring, oldest first

	cvd map[Cohort]float64

	ring []ringEntry // minnow trades within the algo-pattern window
}

type ringEntry struct {
	t         time.Time
	volumeUSD float64
	price     float64
	direction market.AlgoDirection
}

// New constructs an Analyzer for the given AssetConfig.
func New(cfg config.AssetConfig) *Analyzer {
	return &Analyzer{cfg: cfg, cvd: make(map[Cohort]float64, 3)}
}

// Classify assigns a cohort to a trade's USD notional using dynamic
// percentile thresholds (P95 for whale, P20 for minnow) over the trailing
// history, floored by the symbol's MinWhaleFloorUSD/MinMinnowFloorUSD so a
// thin, quiet market doesn't classify tiny trades as whales; below 100
// samples the static thresholds are used instead (spec §4.6).
func (a *Analyzer) Classify(volumeUSD float64) Cohort {
	whaleThresh, minnowThresh := a.thresholds()
	switch {
	case volumeUSD > whaleThresh:
		return CohortWhale
	case volumeUSD <= minnowThresh:
		return CohortMinnow
	default:
		return CohortDolphin
	}
}

func (a *Analyzer) thresholds() (whale, minnow float64) {
	whale = a.cfg.StaticWhaleThresholdUSD
	minnow = a.cfg.StaticMinnowThresholdUSD
	if len(a.history) < minSamplesForDynamic {
		return whale, minnow
	}
	sizes := make([]float64, len(a.history))
	for i, h := range a.history {
		sizes[i] = h.volumeUSD
	}
	sort.Float64s(sizes)
	whale = percentile(sizes, 0.95)
	minnow = percentile(sizes, 0.20)

	if whale < a.cfg.MinWhaleFloorUSD {
		whale = a.cfg.MinWhaleFloorUSD
	}
	if minnow < a.cfg.MinMinnowFloorUSD {
		minnow = a.cfg.MinMinnowFloorUSD
	}
	// Sanity clamp (spec §4.6 step 2 / original's `whale_threshold =
	// minnow_threshold * 10.0`): a pathological percentile split — e.g. a
	// market dominated by one trade size — can otherwise leave whale <=
	// minnow.
	if whale <= minnow {
		whale = minnow * 10.0
	}
	return whale, minnow
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RecordTrade classifies trade, folds it into the trade-size history and the
// cohort's running CVD, and — for minnow trades only — appends it to the
// algo-pattern ring. Returns the assigned cohort and the trade's signed CVD
// contribution.
func (a *Analyzer) RecordTrade(trade market.TradeEvent, now time.Time) (Cohort, float64) {
	volumeUSD := trade.VolumeUSD()
	cohort := a.Classify(volumeUSD)

	a.history = append(a.history, sizedTrade{t: now, volumeUSD: volumeUSD})
	if len(a.history) > tradeHistoryWindow {
		a.history = a.history[len(a.history)-tradeHistoryWindow:]
	}

	signed := trade.SignedVolumeUSD()
	a.cvd[cohort] += signed

	if cohort == CohortMinnow {
		dir := market.AlgoDirectionBuy
		if !trade.IsAggressiveBuy() {
			dir = market.AlgoDirectionSell
		}
		a.ring = append(a.ring, ringEntry{t: now, volumeUSD: volumeUSD, price: trade.Price.Float64(), direction: dir})
		a.evictRing(now)
	}

	return cohort, signed
}

func (a *Analyzer) evictRing(now time.Time) {
	cutoff := now.Add(-ringWindow)
	idx := 0
	for idx < len(a.ring) && a.ring[idx].t.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		a.ring = append(a.ring[:0], a.ring[idx:]...)
	}
}

// CVD returns the running cumulative volume delta accumulated by cohort.
func (a *Analyzer) CVD(cohort Cohort) float64 { return a.cvd[cohort] }

// ClassifyAlgoPattern inspects the trailing minnow-trade window and
// classifies TWAP/VWAP/ICEBERG/SWEEP per spec §4.6's decision tree
// (mirroring the original `_classify_algo_type`): the pattern only fires
// once the window holds >= 200 trades with a dominant-direction ratio
// >= 0.85. Inside that gate, checks run size-uniformity first (ICEBERG),
// then mean inter-trade interval (SWEEP) — deliberately ahead of the
// interval coefficient-of-variation checks (TWAP/VWAP), since a fast,
// regularly-spaced sweep would otherwise be misread as a low-CV TWAP. On a
// successful classification the ring is cleared so the same pattern isn't
// re-alerted every subsequent trade.
func (a *Analyzer) ClassifyAlgoPattern(now time.Time) (market.AlgoKind, market.AlgoDirection, float64) {
	a.evictRing(now)
	if len(a.ring) < algoMinTrades {
		return market.AlgoGeneric, market.AlgoDirectionBuy, 0
	}

	buyCount, sellCount := 0, 0
	for _, e := range a.ring {
		if e.direction == market.AlgoDirectionBuy {
			buyCount++
		} else {
			sellCount++
		}
	}
	total := float64(len(a.ring))
	dir := market.AlgoDirectionBuy
	directionalRatio := float64(buyCount) / total
	if sellCount > buyCount {
		dir = market.AlgoDirectionSell
		directionalRatio = float64(sellCount) / total
	}

	if directionalRatio < algoDirectionalMin {
		return market.AlgoGeneric, dir, 0
	}

	sizeUniformity := dominantSizeUniformity(a.ring)
	meanIntervalMs, intervalCV := intervalStats(a.ring)

	switch {
	case sizeUniformity > sizeUniformityMin:
		conf := (sizeUniformity + directionalRatio) / 2
		a.ring = a.ring[:0]
		return market.AlgoIceberg, dir, conf
	case meanIntervalMs > 0 && meanIntervalMs < sweepMeanIntervalMs:
		speedScore := 1 - meanIntervalMs/sweepMeanIntervalMs
		conf := (speedScore + directionalRatio) / 2
		a.ring = a.ring[:0]
		return market.AlgoSweep, dir, conf
	case meanIntervalMs > 0 && intervalCV < twapIntervalCVMax:
		stability := 1 - intervalCV
		conf := (stability + directionalRatio) / 2
		a.ring = a.ring[:0]
		return market.AlgoTWAP, dir, conf
	case meanIntervalMs > 0 && intervalCV < vwapIntervalCVMax:
		adaptation := 1 - (intervalCV-twapIntervalCVMax)/(vwapIntervalCVMax-twapIntervalCVMax)
		conf := (adaptation + directionalRatio) / 2
		a.ring = a.ring[:0]
		return market.AlgoVWAP, dir, conf
	case directionalRatio > algoGenericMin:
		a.ring = a.ring[:0]
		return market.AlgoGeneric, dir, directionalRatio
	default:
		return market.AlgoGeneric, dir, 0
	}
}

// dominantSizeUniformity is the fraction of trades in the ring sharing the
// single most common size (rounded to 2 decimals to absorb float noise),
// per spec §4.6's ICEBERG predicate.
func dominantSizeUniformity(ring []ringEntry) float64 {
	if len(ring) == 0 {
		return 0
	}
	counts := make(map[float64]int, len(ring))
	best := 0
	for _, e := range ring {
		rounded := math.Round(e.volumeUSD*100) / 100
		counts[rounded]++
		if counts[rounded] > best {
			best = counts[rounded]
		}
	}
	return float64(best) / float64(len(ring))
}

// intervalStats returns the mean and coefficient of variation (σ/μ) of the
// consecutive-trade inter-arrival times in ring, in milliseconds. Computing
// intervals on the fly from ring timestamps (rather than a parallel deque,
// as the original kept) sidesteps the original's "evict N trades, evict
// min(N, intervals_len) intervals" lock-step bookkeeping entirely: there's
// only one slice to evict from.
func intervalStats(ring []ringEntry) (mean, cv float64) {
	n := len(ring) - 1
	if n < 1 {
		return 0, 0
	}
	intervals := make([]float64, n)
	sum := 0.0
	for i := 1; i < len(ring); i++ {
		iv := float64(ring[i].t.Sub(ring[i-1].t).Milliseconds())
		intervals[i-1] = iv
		sum += iv
	}
	mean = sum / float64(n)
	if mean == 0 {
		return 0, 0
	}
	variance := 0.0
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}
	variance /= float64(n)
	cv = math.Sqrt(variance) / mean
	return mean, cv
}
