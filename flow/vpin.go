// Package flow implements C5, the flow-toxicity analyzer: volume-bucketed
// VPIN (volume-synchronized probability of informed trading) with a
// "Frozen VPIN" staleness guard per spec.md §4.5.
package flow

import (
	"time"

	"icebergflow-engine/marketerrors"
	"icebergflow-engine/price"
)

// volumeBucket accumulates buy/sell volume until it fills to the
// configured bucket size, at which point it is sealed and a new bucket
// starts — the classic Easley/O'Hara VPIN construction.
type volumeBucket struct {
	buyVol  price.Qty
	sellVol price.Qty
	filled  price.Qty
	sealedAt time.Time
}

func (b *volumeBucket) imbalance() float64 {
	total := b.buyVol.Float64() + b.sellVol.Float64()
	if total == 0 {
		return 0
	}
	diff := b.buyVol.Float64() - b.sellVol.Float64()
	if diff < 0 {
		diff = -diff
	}
	return diff / total
}

// Analyzer computes VPIN over a rolling window of sealed buckets for one
// symbol.
type Analyzer struct {
	bucketSize   price.Qty
	windowSize   int
	staleAfter   time.Duration

	current *volumeBucket
	sealed  []*volumeBucket
}

const (
	defaultWindowBuckets = 50 // n in VPIN = Σ|buy-sell| / (n*bucket_size); averaging window cap
	minReliableBuckets   = 10 // spec §4.5: is_vpin_reliable requires at least this many sealed buckets
	defaultStaleAfter    = 5 * time.Minute

	// deadFlatSpreadPct is the minimum best-bid/ask spread, as a percentage
	// of mid, below which VPIN is unreliable: a spread this tight reads as
	// market-maker flat-market noise rather than informed-trading imbalance
	// (spec §4.5 / §7's UNRELIABLE_VPIN).
	deadFlatSpreadPct = 0.01
)

// New constructs an Analyzer with the symbol's configured VPIN bucket size.
func New(bucketSize price.Qty) *Analyzer {
	return &Analyzer{
		bucketSize: bucketSize,
		windowSize: defaultWindowBuckets,
		staleAfter: defaultStaleAfter,
		current:    &volumeBucket{},
	}
}

// OnTrade folds a trade's quantity into the current bucket, splitting
// across bucket boundaries when the trade's size exceeds the remaining
// capacity of the current bucket (spec §4.5's "split on overflow").
func (a *Analyzer) OnTrade(qty price.Qty, isAggressiveBuy bool, now time.Time) {
	remaining := qty
	for {
		capacity := a.bucketSize.Sub(a.current.filled)
		if capacity.LessOrEqual(price.ZeroQty) {
			a.sealCurrent(now)
			capacity = a.bucketSize
		}
		take := remaining
		if take.GreaterThan(capacity) {
			take = capacity
		}
		if isAggressiveBuy {
			a.current.buyVol = a.current.buyVol.Add(take)
		} else {
			a.current.sellVol = a.current.sellVol.Add(take)
		}
		a.current.filled = a.current.filled.Add(take)
		remaining = remaining.Sub(take)

		if a.current.filled.GreaterOrEqual(a.bucketSize) {
			a.sealCurrent(now)
		}
		if remaining.LessOrEqual(price.ZeroQty) {
			return
		}
	}
}

func (a *Analyzer) sealCurrent(now time.Time) {
	a.current.sealedAt = now
	a.sealed = append(a.sealed, a.current)
	if len(a.sealed) > a.windowSize {
		a.sealed = a.sealed[len(a.sealed)-a.windowSize:]
	}
	a.current = &volumeBucket{}
}

// VPIN returns the mean |buy-sell|/total imbalance over the sealed window
// (up to windowSize buckets), and whether the reading is reliable.
// spreadPct is the current best-bid/ask spread as a percentage of mid — pass
// 0 (or a value >= deadFlatSpreadPct) when no quote is available, since a
// missing spread shouldn't itself mark VPIN unreliable.
//
// A reading is unreliable (spec §4.5's Frozen-VPIN guard) when: fewer than
// minReliableBuckets buckets have sealed yet (independent of and smaller
// than the windowSize averaging cap); the market is dead-flat (spreadPct
// below deadFlatSpreadPct, which reads as market-maker noise rather than
// informed-trading imbalance); or the most recently sealed bucket is older
// than staleAfter (volume has stopped flowing and the score is stale, not
// zero).
func (a *Analyzer) VPIN(now time.Time, spreadPct float64) (score float64, reliable bool) {
	if len(a.sealed) == 0 {
		return 0, false
	}
	score = a.meanImbalance()
	if len(a.sealed) < minReliableBuckets {
		return score, false
	}
	if spreadPct > 0 && spreadPct < deadFlatSpreadPct {
		return score, false
	}
	last := a.sealed[len(a.sealed)-1]
	if now.Sub(last.sealedAt) > a.staleAfter {
		return score, false
	}
	return score, true
}

func (a *Analyzer) meanImbalance() float64 {
	sum := 0.0
	for _, b := range a.sealed {
		sum += b.imbalance()
	}
	return sum / float64(len(a.sealed))
}

// RequireReliable wraps VPIN to surface marketerrors.ErrUnreliableVPIN the
// way other C3-adjacent analyzers surface their recoverable error kinds.
func (a *Analyzer) RequireReliable(now time.Time, spreadPct float64) (float64, error) {
	score, reliable := a.VPIN(now, spreadPct)
	if !reliable {
		return score, marketerrors.ErrUnreliableVPIN
	}
	return score, nil
}

// SealedBucketCount exposes the window depth for tests/diagnostics.
func (a *Analyzer) SealedBucketCount() int { return len(a.sealed) }
