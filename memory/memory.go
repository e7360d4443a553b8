// Package memory implements C4 (HistoricalMemory): multi-timeframe whale/
// minnow CVD ring buffers used to detect price/flow divergence over
// 1h/4h/1d/1w windows, per spec.md §4.4.
package memory

import (
	"time"

	"icebergflow-engine/market"
)

// Timeframe names the four rolling windows spec.md §4.4 tracks.
type Timeframe string

const (
	Timeframe1h Timeframe = "1h"
	Timeframe4h Timeframe = "4h"
	Timeframe1d Timeframe = "1d"
	Timeframe1w Timeframe = "1w"
)

var allTimeframes = []Timeframe{Timeframe1h, Timeframe4h, Timeframe1d, Timeframe1w}

// bucketDuration is the truncation width spec §4.4 uses to decide whether a
// new point starts a new bucket in tf's buffer ("appends to 4h/1d/1w when
// the truncated-bucket timestamp differs from the last stored"). 1h has no
// bucketing: every call appends (or overwrites nothing — it's the finest
// grain the engine records at).
func bucketDuration(tf Timeframe) time.Duration {
	switch tf {
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe1w:
		return 7 * 24 * time.Hour
	}
	return 0
}

// maxLen is the buffer's point cap, per spec §4.4: "buffers' maxlens are
// 60, 168, 30, 52 respectively" for 1h/4h/1d/1w.
func maxLen(tf Timeframe) int {
	switch tf {
	case Timeframe1h:
		return 60
	case Timeframe4h:
		return 168
	case Timeframe1d:
		return 30
	case Timeframe1w:
		return 52
	}
	return 60
}

// auxBufferMaxLen bounds the two 1h-only passive/aggressive auxiliary
// buffers at the same cap as the main 1h buffer.
const auxBufferMaxLen = 60

// sample is one bucketed (whale_cvd, minnow_cvd, price) observation.
type sample struct {
	t         time.Time
	price     float64
	whaleCVD  float64
	minnowCVD float64
}

// ring is a single timeframe's bounded history.
type ring struct {
	tf      Timeframe
	samples []sample
}

func (r *ring) append(t time.Time, price, whaleCVD, minnowCVD float64) {
	bucket := bucketDuration(r.tf)
	if bucket > 0 && len(r.samples) > 0 {
		last := r.samples[len(r.samples)-1]
		if t.Truncate(bucket).Equal(last.t.Truncate(bucket)) {
			r.samples[len(r.samples)-1] = sample{t: t, price: price, whaleCVD: whaleCVD, minnowCVD: minnowCVD}
			return
		}
	}
	r.samples = append(r.samples, sample{t: t, price: price, whaleCVD: whaleCVD, minnowCVD: minnowCVD})
	if max := maxLen(r.tf); len(r.samples) > max {
		r.samples = r.samples[len(r.samples)-max:]
	}
}

// auxSample is one point in a passive/aggressive 1h auxiliary buffer.
type auxSample struct {
	t     time.Time
	price float64
	cvd   float64
}

func appendAux(buf *[]auxSample, t time.Time, price, cvd float64) {
	*buf = append(*buf, auxSample{t: t, price: price, cvd: cvd})
	if len(*buf) > auxBufferMaxLen {
		*buf = (*buf)[len(*buf)-auxBufferMaxLen:]
	}
}

// HistoricalMemory tracks whale/minnow CVD across four timeframes for one
// symbol (spec §4.4), plus two 1h-only auxiliary buffers that route the same
// whale-CVD point by whether the trade was passive (resting liquidity
// absorbing flow) or aggressive (taker crossing the spread) — see
// RecordTrade.
type HistoricalMemory struct {
	Symbol string
	rings  map[Timeframe]*ring

	passiveAccumulation1h []auxSample
	aggressiveEntry1h     []auxSample
}

// New constructs empty rings for every timeframe.
func New(symbol string) *HistoricalMemory {
	m := &HistoricalMemory{Symbol: symbol, rings: make(map[Timeframe]*ring)}
	for _, tf := range allTimeframes {
		m.rings[tf] = &ring{tf: tf}
	}
	return m
}

// RecordTrade implements spec §4.4's `update_history(ts, whale_cvd,
// minnow_cvd, price, is_passive)`: whaleCVD and minnowCVD are the running
// cumulative per-cohort totals (whale.Analyzer.CVD) as of this trade,
// recorded into every timeframe buffer and, for the 1h-only auxiliary split,
// routed to the passive or aggressive buffer by isPassive (true when the
// trade rested rather than crossed the spread).
func (m *HistoricalMemory) RecordTrade(now time.Time, price, whaleCVD, minnowCVD float64, isPassive bool) {
	for _, tf := range allTimeframes {
		m.rings[tf].append(now, price, whaleCVD, minnowCVD)
	}
	if isPassive {
		appendAux(&m.passiveAccumulation1h, now, price, whaleCVD)
	} else {
		appendAux(&m.aggressiveEntry1h, now, price, whaleCVD)
	}
}

// LatestCVD returns the most recent whale/minnow CVD pair recorded for tf.
func (m *HistoricalMemory) LatestCVD(tf Timeframe) (whaleCVD, minnowCVD float64, ok bool) {
	r := m.rings[tf]
	if len(r.samples) == 0 {
		return 0, 0, false
	}
	last := r.samples[len(r.samples)-1]
	return last.whaleCVD, last.minnowCVD, true
}

// PassiveAccumulationCount and AggressiveEntryCount expose the 1h auxiliary
// buffers' current sizes, for tests and diagnostics.
func (m *HistoricalMemory) PassiveAccumulationCount() int { return len(m.passiveAccumulation1h) }
func (m *HistoricalMemory) AggressiveEntryCount() int     { return len(m.aggressiveEntry1h) }

// DetectCVDDivergence compares the price trend and the whale-CVD trend over
// tf's window by the first and last samples only: price ending below its
// start while whale CVD ends above its start is bullish; price ending at or
// above its start while whale CVD ends at or below its start is bearish —
// smart money accumulating or distributing against the tape (spec §4.4 /
// §4.8). Intermediate lows and highs are not compared, and confidence comes
// from the net price move and the net CVD move over the CVD range, not from
// how monotonic the two series are.
func (m *HistoricalMemory) DetectCVDDivergence(tf Timeframe) (market.DivergenceType, float64) {
	r := m.rings[tf]
	if len(r.samples) < 3 {
		return market.DivergenceNone, 0
	}

	first := r.samples[0]
	last := r.samples[len(r.samples)-1]
	minPrice, maxPrice := first.price, first.price
	minCVD, maxCVD := first.whaleCVD, first.whaleCVD
	for _, s := range r.samples {
		if s.price < minPrice {
			minPrice = s.price
		}
		if s.price > maxPrice {
			maxPrice = s.price
		}
		if s.whaleCVD < minCVD {
			minCVD = s.whaleCVD
		}
		if s.whaleCVD > maxCVD {
			maxCVD = s.whaleCVD
		}
	}

	priceRange := maxPrice - minPrice
	cvdRange := maxCVD - minCVD
	if priceRange == 0 || cvdRange == 0 {
		return market.DivergenceNone, 0
	}

	priceDown := last.price < first.price
	cvdUp := last.whaleCVD > first.whaleCVD

	priceMovePct := (last.price - first.price) / first.price
	cvdMovePct := (last.whaleCVD - first.whaleCVD) / cvdRange

	switch {
	case priceDown && cvdUp:
		conf := clamp01(-priceMovePct*5 + cvdMovePct*0.5)
		return market.DivergenceBullish, conf
	case !priceDown && !cvdUp:
		conf := clamp01(priceMovePct*5 - cvdMovePct*0.5)
		return market.DivergenceBearish, conf
	default:
		return market.DivergenceNone, 0
	}
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

// SampleCount exposes how many points tf's buffer currently holds, for
// tests and diagnostics.
func (m *HistoricalMemory) SampleCount(tf Timeframe) int {
	return len(m.rings[tf].samples)
}
