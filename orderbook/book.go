// Package orderbook implements C3 (LocalOrderBook): a gap-free per-symbol
// bid/ask state with mid/spread, OFI/OBI snapshots, and the iceberg
// registry. It is the single piece of shared mutable state in the engine,
// and spec.md §5 has it mutated exclusively from the consumer task. A mutex
// is used here because the engine's derivatives loop also writes the gamma
// profile and basis/skew hints onto the book from its own goroutine.
package orderbook

import (
	"math"
	"sync"
	"time"

	"icebergflow-engine/config"
	"icebergflow-engine/market"
	"icebergflow-engine/marketerrors"
	"icebergflow-engine/price"
)

// LocalOrderBook holds one symbol's reconstructed book plus the state that
// spec.md §3 groups with it: the OFI snapshots, the iceberg registry, and
// the pending-refill-check queue. HistoricalMemory, VPIN buckets, and whale
// cohort state are owned by their own analyzer packages (§9's one-way
// dependency graph: analyzers point at the book, never the reverse) but
// GammaProfile and the cached Wyckoff divergence stay here because C7 reads
// them directly as the book's own hints (§4.7, §4.8).
type LocalOrderBook struct {
	mu sync.Mutex

	Symbol       string
	cfg          config.AssetConfig
	bids         *bookSide
	asks         *bookSide
	lastUpdateID uint64

	previousBidSnapshot []market.PriceLevel
	previousAskSnapshot []market.PriceLevel

	activeIcebergs map[string]*IcebergLevel
	pendingChecks  []PendingCheck

	gammaProfile *market.GammaProfile // single-writer (derivatives refresher), read by consumer
	basisAPR     *float64
	optionsSkew  *float64

	wyckoffMu       sync.RWMutex
	latestWyckoff   *WyckoffSnapshot

	skippedEvents uint64
}

// WyckoffSnapshot is the cached divergence/pattern result AccumulationDetector
// (C8) publishes and IcebergAnalyzer (C7) reads as confidence-adjustment
// context.
type WyckoffSnapshot struct {
	Timeframe      string
	Type           market.DivergenceType
	Pattern        market.WyckoffPattern
	Confidence     float64
	ComputedAt     time.Time
}

func icebergKey(p price.Price, isAsk bool) string {
	if isAsk {
		return "A:" + p.String()
	}
	return "B:" + p.String()
}

// New constructs an empty book for symbol under cfg.
func New(symbol string, cfg config.AssetConfig) *LocalOrderBook {
	return &LocalOrderBook{
		Symbol:         symbol,
		cfg:            cfg,
		bids:           newBookSide(true),
		asks:           newBookSide(false),
		activeIcebergs: make(map[string]*IcebergLevel),
	}
}

// ApplySnapshot replaces bids/asks wholesale and resets the OFI snapshots
// and pending-refill queue — critical to prevent fictitious OFI/ghost
// refills after a reconnect (spec §4.3).
func (b *LocalOrderBook) ApplySnapshot(bids, asks []market.PriceLevel, lastUpdateID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Replace(bids)
	b.asks.Replace(asks)
	b.previousBidSnapshot = nil
	b.previousAskSnapshot = nil
	b.pendingChecks = nil
	b.lastUpdateID = lastUpdateID
}

// ApplyUpdate applies an incremental depth diff. Returns marketerrors.ErrStaleUpdate
// if the diff is older than last_update_id (skip, no-op), marketerrors.ErrGapDetected
// if a diff was skipped, or marketerrors.ErrInvariantViolation if the book would
// no longer satisfy best_bid < best_ask.
func (b *LocalOrderBook) ApplyUpdate(u market.OrderBookUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u.FinalUpdateID <= b.lastUpdateID {
		return marketerrors.ErrStaleUpdate
	}
	if u.FirstUpdateID > b.lastUpdateID+1 {
		return marketerrors.ErrGapDetected
	}

	// Save the top-N snapshot BEFORE mutating — peekitem, no sort, since the
	// sides are already kept ordered.
	b.previousBidSnapshot = b.bids.Top(b.cfg.OFIDepth)
	b.previousAskSnapshot = b.asks.Top(b.cfg.OFIDepth)

	for _, lvl := range u.Bids {
		if lvl.Qty.IsZero() {
			b.bids.Delete(lvl.Price)
		} else {
			b.bids.Set(lvl.Price, lvl.Qty)
		}
	}
	for _, lvl := range u.Asks {
		if lvl.Qty.IsZero() {
			b.asks.Delete(lvl.Price)
		} else {
			b.asks.Set(lvl.Price, lvl.Qty)
		}
	}
	b.lastUpdateID = u.FinalUpdateID

	if bid, ok := b.bids.Best(); ok {
		if ask, ok2 := b.asks.Best(); ok2 && !bid.Price.LessThan(ask.Price) {
			return marketerrors.ErrInvariantViolation
		}
	}
	return nil
}

// ReconcileWithSnapshot marks every active iceberg CANCELLED whose side
// either lacks its price in the snapshot or carries quantity below the dust
// threshold. The visible book itself is not mutated here — callers apply
// the snapshot separately via ApplySnapshot.
func (b *LocalOrderBook) ReconcileWithSnapshot(bids, asks []market.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bidQty := levelMap(bids)
	askQty := levelMap(asks)

	for _, lvl := range b.activeIcebergs {
		if lvl.Status != IcebergActive {
			continue
		}
		var qty price.Qty
		var present bool
		if lvl.IsAsk {
			qty, present = askQty[lvl.Price.String()]
		} else {
			qty, present = bidQty[lvl.Price.String()]
		}
		if !present || qty.LessThan(b.cfg.DustThreshold) {
			lvl.Status = IcebergCancelled
			lvl.LastUpdateTime = time.Now()
		}
	}
}

func levelMap(levels []market.PriceLevel) map[string]price.Qty {
	m := make(map[string]price.Qty, len(levels))
	for _, l := range levels {
		m[l.Price.String()] = l.Qty
	}
	return m
}

// BestBidAsk returns the current top of book.
func (b *LocalOrderBook) BestBidAsk() (bid, ask price.Price, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bl, okB := b.bids.Best()
	al, okA := b.asks.Best()
	if !okB || !okA {
		return price.ZeroPrice, price.ZeroPrice, false
	}
	return bl.Price, al.Price, true
}

// Mid returns the current mid price.
func (b *LocalOrderBook) Mid() (price.Price, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return price.ZeroPrice, false
	}
	return price.Mid(bid, ask), true
}

// SpreadAbs returns best-ask minus best-bid as a float.
func (b *LocalOrderBook) SpreadAbs() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return ask.Float64() - bid.Float64(), true
}

// QtyAt returns the visible quantity at p on the given side (used by the
// iceberg analyzer to compute v_before).
func (b *LocalOrderBook) QtyAt(p price.Price, isAsk bool) price.Qty {
	b.mu.Lock()
	defer b.mu.Unlock()
	if isAsk {
		return b.asks.Qty(p)
	}
	return b.bids.Qty(p)
}

// CalculateOFI computes order-flow imbalance over the top `depth` levels
// relative to the saved pre-update snapshot. weighted=true applies the
// exp(-λ·distance_pct*100) weighting of spec §4.3 and is the default for
// signal generation; weighted=false is the raw diagnostic sum.
func (b *LocalOrderBook) CalculateOFI(depth int, weighted bool) float64 {
	b.mu.Lock()
	prevBid := b.previousBidSnapshot
	prevAsk := b.previousAskSnapshot
	curBid := b.bids.Top(depth)
	curAsk := b.asks.Top(depth)
	lambda := b.cfg.LambdaDecay
	b.mu.Unlock()

	mid, ok := b.Mid()
	if !ok {
		mid = price.ZeroPrice
	}

	bidDeltaAt := deltaByPrice(prevBid, curBid)
	askDeltaAt := deltaByPrice(prevAsk, curAsk)

	total := 0.0
	for p, delta := range bidDeltaAt {
		w := 1.0
		if weighted {
			w = math.Exp(-lambda * math.Abs(p.DistancePct(mid)) * 100)
		}
		total += w * delta
	}
	for p, delta := range askDeltaAt {
		w := 1.0
		if weighted {
			w = math.Exp(-lambda * math.Abs(p.DistancePct(mid)) * 100)
		}
		total -= w * delta
	}
	return total
}

func deltaByPrice(prev, cur []market.PriceLevel) map[price.Price]float64 {
	out := make(map[price.Price]float64, len(prev)+len(cur))
	for _, l := range prev {
		out[l.Price] -= l.Qty.Float64()
	}
	for _, l := range cur {
		out[l.Price] += l.Qty.Float64()
	}
	return out
}

// GetWeightedOBI returns order-book imbalance in [-1, 1]:
// (Σw·bid - Σw·ask) / (Σw·bid + Σw·ask), w_i = exp(-λ·distance_pct_i*100).
func (b *LocalOrderBook) GetWeightedOBI(depth int, useExponential bool) float64 {
	b.mu.Lock()
	bidLevels := b.bids.Top(depth)
	askLevels := b.asks.Top(depth)
	lambda := b.cfg.LambdaDecay
	b.mu.Unlock()

	mid, ok := b.Mid()
	if !ok {
		return 0
	}

	sumBid, sumAsk := 0.0, 0.0
	for _, l := range bidLevels {
		w := 1.0
		if useExponential {
			w = math.Exp(-lambda * math.Abs(l.Price.DistancePct(mid)) * 100)
		}
		sumBid += w * l.Qty.Float64()
	}
	for _, l := range askLevels {
		w := 1.0
		if useExponential {
			w = math.Exp(-lambda * math.Abs(l.Price.DistancePct(mid)) * 100)
		}
		sumAsk += w * l.Qty.Float64()
	}
	if sumBid+sumAsk == 0 {
		return 0
	}
	return (sumBid - sumAsk) / (sumBid + sumAsk)
}

// RegisterIceberg inserts or updates the level at p: a brand-new level is
// created with the given confidence, an existing one accumulates hidden
// volume through recordRefill.
func (b *LocalOrderBook) RegisterIceberg(p price.Price, hiddenVol price.Qty, isAsk bool, confidence float64, now time.Time) *IcebergLevel {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := icebergKey(p, isAsk)
	if lvl, ok := b.activeIcebergs[key]; ok && lvl.Status == IcebergActive {
		lvl.recordRefill(hiddenVol, confidence, now)
		return lvl
	}
	lvl := newIcebergLevel(p, isAsk, hiddenVol, confidence, now)
	b.activeIcebergs[key] = lvl
	return lvl
}

// CheckBreaches transitions to BREACHED, and returns, every active level
// that the current price has crossed.
func (b *LocalOrderBook) CheckBreaches(currentPrice price.Price) []*IcebergLevel {
	b.mu.Lock()
	defer b.mu.Unlock()

	var breached []*IcebergLevel
	for _, lvl := range b.activeIcebergs {
		if lvl.Status != IcebergActive {
			continue
		}
		crossed := false
		if lvl.IsAsk && lvl.Price.LessOrEqual(currentPrice) {
			crossed = true
		}
		if !lvl.IsAsk && lvl.Price.GreaterOrEqual(currentPrice) {
			crossed = true
		}
		if crossed {
			lvl.Status = IcebergBreached
			lvl.LastUpdateTime = time.Now()
			breached = append(breached, lvl)
		}
	}
	return breached
}

// CleanupOldIcebergs applies exponential time decay to confidence
// (decayed = confidence * exp(-ln2 * Δt / halfLifeS)) and evicts any level
// whose decayed confidence drops below minConfidence. Returns the count of
// levels removed.
func (b *LocalOrderBook) CleanupOldIcebergs(now time.Time, halfLifeS, minConfidence float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, lvl := range b.activeIcebergs {
		if lvl.Status != IcebergActive {
			delete(b.activeIcebergs, key)
			removed++
			continue
		}
		dt := now.Sub(lvl.LastUpdateTime).Seconds()
		decayed := lvl.ConfidenceScore * math.Exp(-math.Ln2*dt/halfLifeS)
		if decayed < minConfidence {
			delete(b.activeIcebergs, key)
			removed++
		}
	}
	return removed
}

// ClearZombieIcebergs drops every active iceberg — called on warm-up entry
// after a resync, since levels from the previous session cannot be trusted.
func (b *LocalOrderBook) ClearZombieIcebergs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeIcebergs = make(map[string]*IcebergLevel)
}

// ActiveIcebergs returns a snapshot slice of every currently active level.
func (b *LocalOrderBook) ActiveIcebergs() []*IcebergLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*IcebergLevel, 0, len(b.activeIcebergs))
	for _, lvl := range b.activeIcebergs {
		if lvl.Status == IcebergActive {
			out = append(out, lvl)
		}
	}
	return out
}

// Iceberg returns the level at (p, isAsk), if registered.
func (b *LocalOrderBook) Iceberg(p price.Price, isAsk bool) (*IcebergLevel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lvl, ok := b.activeIcebergs[icebergKey(p, isAsk)]
	return lvl, ok
}

// SetGammaProfile is called by the derivatives refresher (single writer).
func (b *LocalOrderBook) SetGammaProfile(g *market.GammaProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gammaProfile = g
}

// GammaProfile is read by the consumer task (single reader of the pointer).
func (b *LocalOrderBook) GammaProfile() *market.GammaProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gammaProfile
}

// SetDerivatives caches the scalar basis-APR/options-skew metrics the
// derivatives refresher produces alongside the GammaProfile (single writer).
func (b *LocalOrderBook) SetDerivatives(basisAPR, optionsSkew *float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.basisAPR = basisAPR
	b.optionsSkew = optionsSkew
}

// Derivatives is read by the consumer task (single reader).
func (b *LocalOrderBook) Derivatives() (basisAPR, optionsSkew *float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.basisAPR, b.optionsSkew
}

// SetLatestWyckoff publishes AccumulationDetector's cached divergence
// snapshot, guarded by an explicit mutex per spec §5 (reserved for
// multi-reader access beyond the consumer task).
func (b *LocalOrderBook) SetLatestWyckoff(s *WyckoffSnapshot) {
	b.wyckoffMu.Lock()
	defer b.wyckoffMu.Unlock()
	b.latestWyckoff = s
}

func (b *LocalOrderBook) LatestWyckoff() *WyckoffSnapshot {
	b.wyckoffMu.RLock()
	defer b.wyckoffMu.RUnlock()
	return b.latestWyckoff
}

// LastUpdateID returns the current monotonic cursor.
func (b *LocalOrderBook) LastUpdateID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdateID
}

// Config returns the book's AssetConfig.
func (b *LocalOrderBook) Config() config.AssetConfig { return b.cfg }

// IncrSkippedEvents bumps the structured skip counter (spec §7).
func (b *LocalOrderBook) IncrSkippedEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skippedEvents++
}

func (b *LocalOrderBook) SkippedEvents() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skippedEvents
}
