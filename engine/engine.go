// Package engine implements C10, the TradingEngine state machine and its
// consumer loop: the only mutator of LocalOrderBook and its analyzers, per
// spec.md §5's one-way dependency graph and single-writer discipline.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"icebergflow-engine/accumulation"
	"icebergflow-engine/buffer"
	"icebergflow-engine/config"
	"icebergflow-engine/flow"
	"icebergflow-engine/iceberg"
	"icebergflow-engine/market"
	"icebergflow-engine/marketerrors"
	"icebergflow-engine/memory"
	"icebergflow-engine/metrics"
	"icebergflow-engine/orderbook"
	"icebergflow-engine/spoofing"
	"icebergflow-engine/whale"
)

// Sink receives every downstream event the engine emits once RUNNING.
// Warm-up suppresses all calls into it (spec §4.10).
type Sink interface {
	OnIcebergDetected(market.IcebergDetectedEvent)
	OnIcebergBreached(market.IcebergBreachedEvent)
	OnWhaleTrade(market.WhaleTradeEvent)
	OnAlgoDetected(market.AlgoDetectedEvent)
	OnAccumulation(market.AccumulationEvent)
	OnFeatureSnapshot(market.FeatureSnapshotEvent)
	OnMarketMetrics(market.MarketMetricsEvent)
}

// SnapshotFetcher fetches a fresh REST snapshot for (re)sync — the
// ingestion adapter's concern, injected at construction per spec §9's
// one-way dependency graph (the engine is the only owner of its
// collaborators).
type SnapshotFetcher func(ctx context.Context) (market.Snapshot, error)

// DerivativesReader is the read side of the derivatives cache: the engine
// polls it on its own interval and pushes what it finds onto the book,
// keeping the cache itself ignorant of who consumes it.
type DerivativesReader interface {
	GammaProfile(ctx context.Context, symbol string) (*market.GammaProfile, error)
	BasisAPR(ctx context.Context, symbol string) (float64, bool)
	OptionsSkew(ctx context.Context, symbol string) (float64, bool)
}

// featureSnapshotWriteThrottle bounds how often a feature snapshot is
// captured and handed to the sink: a call inside the window captures
// nothing, and no snapshot is kept in memory between calls.
const featureSnapshotWriteThrottle = 100 * time.Millisecond

// marketMetricsEveryNTrades mirrors the original's `trade_count % 10 == 0`
// cadence for the market-metrics row, rather than a wall-clock ticker.
const marketMetricsEveryNTrades = 10

// Engine is one symbol's complete analytics pipeline.
type Engine struct {
	Symbol string
	cfg    config.AssetConfig

	book      *orderbook.LocalOrderBook
	reorder   *buffer.ReorderingBuffer
	latency   *buffer.LatencyMonitor
	flowAnz   *flow.Analyzer
	whaleAnz  *whale.Analyzer
	mem       *memory.HistoricalMemory
	icebergAnz *iceberg.Analyzer
	spoofAnz  *spoofing.Analyzer

	depthQueue chan market.OrderBookUpdate
	tradeQueue chan market.TradeEvent

	fetchSnapshot SnapshotFetcher
	sink          Sink
	derivs        DerivativesReader

	state       stateBox
	warmupUntil time.Time
	Stats       Stats

	cleanupIntervalSec     int
	derivativesIntervalSec int

	tradeCount            uint64
	lastFeatureSnapshotAt time.Time
}

// New constructs an Engine for symbol. depthQueueSize/tradeQueueSize bound
// the two MPSC producer queues (spec §5); cleanupIntervalSec and
// derivativesIntervalSec come from the process-wide Config. derivs may be
// nil, in which case the engine never polls for GammaProfile/basis/skew.
func New(cfg config.AssetConfig, depthQueueSize, tradeQueueSize, cleanupIntervalSec, derivativesIntervalSec int, fetchSnapshot SnapshotFetcher, sink Sink, derivs DerivativesReader) *Engine {
	e := &Engine{
		Symbol:                 cfg.Symbol,
		cfg:                    cfg,
		book:                   orderbook.New(cfg.Symbol, cfg),
		reorder:                buffer.New(),
		latency:                buffer.NewLatencyMonitor(),
		flowAnz:                flow.New(cfg.VPINBucketSize),
		whaleAnz:               whale.New(cfg),
		mem:                    memory.New(cfg.Symbol),
		icebergAnz:             iceberg.New(cfg),
		spoofAnz:               spoofing.New(cfg),
		depthQueue:             make(chan market.OrderBookUpdate, depthQueueSize),
		tradeQueue:             make(chan market.TradeEvent, tradeQueueSize),
		fetchSnapshot:          fetchSnapshot,
		sink:                   sink,
		derivs:                 derivs,
		cleanupIntervalSec:     cleanupIntervalSec,
		derivativesIntervalSec: derivativesIntervalSec,
	}
	e.state.Store(StateInitializing)
	return e
}

// State returns the engine's current phase.
func (e *Engine) State() State { return e.state.Load() }

// PushDepth is the depth producer task's entry point: a bounded MPSC queue
// send that drops the oldest queued item (not the newest) under back-
// pressure, per spec §9's redesign note.
func (e *Engine) PushDepth(u market.OrderBookUpdate) {
	select {
	case e.depthQueue <- u:
	default:
		select {
		case <-e.depthQueue:
			e.Stats.DepthDropped.Add(1)
		default:
		}
		select {
		case e.depthQueue <- u:
		default:
		}
	}
}

// PushTrade is the trade producer task's entry point, same drop-oldest
// discipline as PushDepth.
func (e *Engine) PushTrade(t market.TradeEvent) {
	select {
	case e.tradeQueue <- t:
	default:
		select {
		case <-e.tradeQueue:
			e.Stats.TradeDropped.Add(1)
		default:
		}
		select {
		case e.tradeQueue <- t:
		default:
		}
	}
}

// Run performs the startup sequence (spec §4.10) and then the consumer
// loop, periodic iceberg cleanup, and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.resync(ctx); err != nil {
		return err
	}
	e.enterWarmup()

	go e.runCleanupLoop(ctx)
	if e.derivs != nil {
		go e.runDerivativesLoop(ctx)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.drainAndDispatch(ctx)
		}
	}
}

// resync runs the snapshot+reconcile+warm-up sequence shared by startup and
// GAP_DETECTED recovery.
func (e *Engine) resync(ctx context.Context) error {
	snap, err := e.fetchSnapshot(ctx)
	if err != nil {
		return err
	}
	e.book.ApplySnapshot(snap.Bids, snap.Asks, snap.LastUpdateID)
	e.book.ReconcileWithSnapshot(snap.Bids, snap.Asks)
	e.book.ClearZombieIcebergs()
	e.drainStaleQueued(snap.LastUpdateID)
	e.Stats.Resyncs.Add(1)
	return nil
}

// drainStaleQueued drops any already-queued depth updates whose
// final_update_id is at or below the fresh snapshot's id.
func (e *Engine) drainStaleQueued(snapshotID uint64) {
	for {
		select {
		case u := <-e.depthQueue:
			if u.FinalUpdateID > snapshotID {
				e.reorder.Push(u.EventTimeMs, buffer.PriorityDepth, u)
			}
		default:
			return
		}
	}
}

func (e *Engine) enterWarmup() {
	e.state.Store(StateWarmingUp)
	e.warmupUntil = time.Now().Add(time.Duration(e.cfg.WarmupPeriodMs) * time.Millisecond)
	log.Printf("🟡 %s entering WARMING_UP for %dms", e.Symbol, e.cfg.WarmupPeriodMs)
}

func (e *Engine) maybeGraduate() {
	if e.state.Load() == StateWarmingUp && time.Now().After(e.warmupUntil) {
		e.state.Store(StateRunning)
		log.Printf("🟢 %s entering RUNNING", e.Symbol)
	}
}

// drainAndDispatch pulls everything currently queued into the reordering
// buffer, pops whatever is now ready under the adaptive delay, and
// dispatches each item in (event_time, priority) order.
func (e *Engine) drainAndDispatch(ctx context.Context) {
	e.maybeGraduate()

	nowMs := time.Now().UnixMilli()

drainLoop:
	for {
		select {
		case t := <-e.tradeQueue:
			e.latency.Observe(nowMs, t.EventTimeMs)
			e.reorder.Push(t.EventTimeMs, buffer.PriorityTrade, t)
		case u := <-e.depthQueue:
			e.latency.Observe(nowMs, u.EventTimeMs)
			e.reorder.Push(u.EventTimeMs, buffer.PriorityDepth, u)
		default:
			break drainLoop
		}
	}

	delay := e.latency.AdaptiveDelayMs()
	for _, item := range e.reorder.PopReady(nowMs, delay) {
		switch v := item.Value.(type) {
		case market.TradeEvent:
			e.handleTrade(ctx, v)
		case market.OrderBookUpdate:
			e.handleDepth(ctx, v)
		}
	}
}

func (e *Engine) handleDepth(ctx context.Context, u market.OrderBookUpdate) {
	err := e.book.ApplyUpdate(u)
	switch {
	case err == nil:
		// fallthrough to post-update work below
	case errors.Is(err, marketerrors.ErrStaleUpdate):
		e.Stats.StaleUpdate.Add(1)
		e.book.IncrSkippedEvents()
		return
	case errors.Is(err, marketerrors.ErrGapDetected), errors.Is(err, marketerrors.ErrInvariantViolation):
		if errors.Is(err, marketerrors.ErrInvariantViolation) {
			e.Stats.InvariantViolation.Add(1)
		} else {
			e.Stats.GapDetected.Add(1)
		}
		e.book.IncrSkippedEvents()
		if rerr := e.resync(ctx); rerr != nil {
			log.Printf("⚠️  %s resync after gap failed: %v", e.Symbol, rerr)
			return
		}
		e.enterWarmup()
		return
	default:
		log.Printf("⚠️  %s apply_update error: %v", e.Symbol, err)
		return
	}

	spreadZScore := 0.0 // regime detection is out of scope for this pass; reserved hook
	touched := make([]market.PriceLevel, 0, len(u.Bids)+len(u.Asks))
	touched = append(touched, u.Bids...)
	touched = append(touched, u.Asks...)
	for _, lvl := range touched {
		detections, negativeDeltaT := e.icebergAnz.OnDepthUpdate(e.book, lvl.Price, u.EventTime(), time.Now().UnixMilli(), spreadZScore)
		if negativeDeltaT > 0 {
			e.Stats.NegativeDeltaT.Add(uint64(negativeDeltaT))
		}
		for _, d := range detections {
			e.Stats.DetectionsEmitted.Add(1)
			if e.state.Load() != StateRunning {
				continue
			}
			ev := market.IcebergDetectedEvent{
				ID:                   market.NewEventID(),
				Symbol:               e.Symbol,
				Price:                d.Price,
				DetectedHiddenVolume: d.HiddenVolume,
				VisibleVolumeBefore:  d.VisibleVolumeBefore,
				Confidence:           d.Confidence,
				TotalHiddenVolume:    d.TotalHiddenVolume,
				RefillCount:          d.RefillCount,
				EventTime:            u.EventTime(),
			}
			metrics.DetectionsTotal.WithLabelValues(e.Symbol, "iceberg_detected").Inc()
			e.sink.OnIcebergDetected(ev)
			e.maybeEmitFeatureSnapshot(u.EventTime())
		}
	}

	if mid, ok := e.book.Mid(); ok {
		for _, lvl := range e.book.CheckBreaches(mid) {
			if e.state.Load() != StateRunning {
				continue
			}
			ev := market.IcebergBreachedEvent{
				ID:                    market.NewEventID(),
				Symbol:                e.Symbol,
				Price:                 lvl.Price,
				LastTotalHiddenVolume: lvl.TotalHiddenVolume,
				IsGammaWall:           lvl.IsGammaWall,
				TradeFootprint:        lvl.TradeFootprint,
				RefillCount:           lvl.RefillCount,
				SurvivalSeconds:       lvl.SurvivalSeconds(),
				EventTime:             u.EventTime(),
			}
			metrics.DetectionsTotal.WithLabelValues(e.Symbol, "iceberg_breached").Inc()
			e.sink.OnIcebergBreached(ev)
		}
	}
}

func (e *Engine) handleTrade(ctx context.Context, t market.TradeEvent) {
	now := t.EventTime()
	isAggressiveBuy := t.IsAggressiveBuy()
	e.flowAnz.OnTrade(t.Quantity, isAggressiveBuy, now)
	vpinScore, vpinErr := e.flowAnz.RequireReliable(now, e.spreadPct())
	vpinReliable := vpinErr == nil
	if !vpinReliable {
		e.Stats.UnreliableVPIN.Add(1)
	}

	cohort, _ := e.whaleAnz.RecordTrade(t, now)
	e.mem.RecordTrade(now, t.Price.Float64(), e.whaleAnz.CVD(whale.CohortWhale), e.whaleAnz.CVD(whale.CohortMinnow), !isAggressiveBuy)
	e.maybeEmitMarketMetrics(now)

	divType, divConf := e.mem.DetectCVDDivergence(memory.Timeframe1h)

	var vpinPtr *float64
	if vpinReliable {
		v := vpinScore
		vpinPtr = &v
	}
	e.icebergAnz.OnTrade(e.book, t, vpinPtr, vpinReliable, divType, divConf, now.UnixMilli())

	if cohort == whale.CohortWhale && e.state.Load() == StateRunning {
		side := market.WhaleSideBuy
		if !isAggressiveBuy {
			side = market.WhaleSideSell
		}
		ev := market.WhaleTradeEvent{
			ID:        market.NewEventID(),
			Symbol:    e.Symbol,
			Price:     t.Price,
			VolumeUSD: t.VolumeUSD(),
			Side:      side,
			EventTime: now,
		}
		metrics.DetectionsTotal.WithLabelValues(e.Symbol, "whale_trade").Inc()
		e.sink.OnWhaleTrade(ev)
	}

	if cohort == whale.CohortMinnow {
		kind, dir, conf := e.whaleAnz.ClassifyAlgoPattern(now)
		if kind != market.AlgoGeneric && conf > 0.5 && e.state.Load() == StateRunning {
			ev := market.AlgoDetectedEvent{
				ID:         market.NewEventID(),
				Symbol:     e.Symbol,
				Direction:  dir,
				Kind:       kind,
				Confidence: conf,
				EventTime:  now,
			}
			metrics.DetectionsTotal.WithLabelValues(e.Symbol, "algo_detected").Inc()
			e.sink.OnAlgoDetected(ev)
		}
	}

	if res, ok := accumulation.Detect(e.mem, memory.Timeframe1h, e.book, e.cfg.OFIDepth); ok {
		e.book.SetLatestWyckoff(&orderbook.WyckoffSnapshot{
			Timeframe:  string(memory.Timeframe1h),
			Type:       res.Type,
			Pattern:    res.Pattern,
			Confidence: res.Confidence,
			ComputedAt: now,
		})
		if e.state.Load() == StateRunning {
			ev := market.AccumulationEvent{
				ID:                 market.NewEventID(),
				Symbol:             e.Symbol,
				Timeframe:          string(memory.Timeframe1h),
				Type:               res.Type,
				Pattern:            res.Pattern,
				Confidence:         res.Confidence,
				AbsorptionDetected: res.AbsorptionDetected,
				OBIConfirms:        res.OBIConfirms,
				NearStrongZone:     res.NearStrongZone,
				EventTime:          now,
			}
			metrics.DetectionsTotal.WithLabelValues(e.Symbol, "accumulation").Inc()
			e.sink.OnAccumulation(ev)
		}
	}
}

func (e *Engine) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.cleanupIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := e.book.CleanupOldIcebergs(time.Now(), 300, 0.1)
			if removed > 0 {
				log.Printf("🧹 %s cleaned up %d stale iceberg levels", e.Symbol, removed)
			}
		}
	}
}

// runDerivativesLoop is the consumer side of the derivatives cache: it polls
// on derivativesIntervalSec and pushes whatever it finds onto the book,
// which stays the single writer/single reader boundary GammaProfile already
// uses. A cache miss is treated as "derivatives absent" (spec §7), not an
// error worth logging on every tick.
func (e *Engine) runDerivativesLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.derivativesIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gamma, err := e.derivs.GammaProfile(ctx, e.Symbol); err == nil {
				e.book.SetGammaProfile(gamma)
			}
			var basisPtr, skewPtr *float64
			if b, ok := e.derivs.BasisAPR(ctx, e.Symbol); ok {
				basisPtr = &b
			}
			if s, ok := e.derivs.OptionsSkew(ctx, e.Symbol); ok {
				skewPtr = &s
			}
			e.book.SetDerivatives(basisPtr, skewPtr)
		}
	}
}

// Book exposes the underlying LocalOrderBook for feature-snapshot capture.
func (e *Engine) Book() *orderbook.LocalOrderBook { return e.book }

// maybeEmitFeatureSnapshot builds the feature vector and hands it to the
// sink only while RUNNING and once the 100ms throttle has elapsed; otherwise
// it returns without building one. The built vector is not stored on the
// engine.
func (e *Engine) maybeEmitFeatureSnapshot(now time.Time) {
	if e.state.Load() != StateRunning {
		return
	}
	if now.Sub(e.lastFeatureSnapshotAt) < featureSnapshotWriteThrottle {
		return
	}
	e.lastFeatureSnapshotAt = now
	e.sink.OnFeatureSnapshot(e.captureFeatureSnapshot(now))
}

// captureFeatureSnapshot reads every analyzer's current state into the
// ≥25-field vector spec §6 persists alongside a lifecycle event.
func (e *Engine) captureFeatureSnapshot(now time.Time) market.FeatureSnapshotEvent {
	mid, _ := e.book.Mid()
	obi := e.book.GetWeightedOBI(e.cfg.OFIDepth, true)
	ofi := e.book.CalculateOFI(e.cfg.OFIDepth, true)
	vpinScore, vpinReliable := e.flowAnz.VPIN(now, e.spreadPct())

	whale1h, minnow1h, _ := e.mem.LatestCVD(memory.Timeframe1h)
	whale4h, _, _ := e.mem.LatestCVD(memory.Timeframe4h)
	whale1d, _, _ := e.mem.LatestCVD(memory.Timeframe1d)
	whale1w, _, _ := e.mem.LatestCVD(memory.Timeframe1w)

	ev := market.FeatureSnapshotEvent{
		Symbol:            e.Symbol,
		Time:              now,
		Price:             mid.Float64(),
		SpreadBps:         e.spreadPct() * 100,
		BookOFI:           ofi,
		BookOBI:           obi,
		VPINScore:         vpinScore,
		VPINReliable:      vpinReliable,
		SpoofingScore:     0, // spoofing.Analyzer scores a cancelled level, not the book as a whole
		SpreadZScore:      0, // regime detection is out of scope for this pass; reserved hook
		OFIDepthEffective: e.cfg.OFIDepth,
		WhaleCVD1h:        whale1h,
		WhaleCVD4h:        whale4h,
		WhaleCVD1d:        whale1d,
		WhaleCVD1w:        whale1w,
		DolphinCVD1h:      e.whaleAnz.CVD(whale.CohortDolphin),
		MinnowCVD1h:       minnow1h,
		ActiveIcebergCount: len(e.book.ActiveIcebergs()),
	}

	if gp := e.book.GammaProfile(); gp != nil {
		ev.TotalGEX = gp.TotalGEX
		ev.TotalGEXNormalized = gp.TotalGEXNormalized
	}
	ev.BasisAPR, ev.OptionsSkew = e.book.Derivatives()

	if w := e.book.LatestWyckoff(); w != nil {
		t := string(w.Type)
		p := string(w.Pattern)
		c := w.Confidence
		ev.WyckoffType = &t
		ev.WyckoffPattern = &p
		ev.WyckoffConfidence = &c
	}

	zones := accumulation.ClusterIcebergsToZones(e.book.ActiveIcebergs(), accumulation.ZoneTolerancePct)
	for _, z := range zones {
		if z.IsStrong() {
			ev.StrongZoneCount++
		}
	}

	return ev
}

// maybeEmitMarketMetrics fires every marketMetricsEveryNTrades trades,
// mirroring the original's `trade_count % 10 == 0` gate rather than a
// wall-clock ticker.
func (e *Engine) maybeEmitMarketMetrics(now time.Time) {
	e.tradeCount++
	if e.state.Load() != StateRunning {
		return
	}
	if e.tradeCount%marketMetricsEveryNTrades != 0 {
		return
	}
	e.sink.OnMarketMetrics(e.captureMarketMetrics(now))
}

// captureMarketMetrics builds the wire-contract-exact market_metrics row.
// Despite the "Delta" field names (spec §6), the original logs each
// cohort's running CVD total directly rather than differencing two writes
// — see DESIGN.md for the grounding.
func (e *Engine) captureMarketMetrics(now time.Time) market.MarketMetricsEvent {
	mid, _ := e.book.Mid()
	obi := e.book.GetWeightedOBI(e.cfg.OFIDepth, true)
	ofi := e.book.CalculateOFI(e.cfg.OFIDepth, true)

	wallWhaleVol, wallDolphinVol := e.wallVolumesByCohort()

	ev := market.MarketMetricsEvent{
		Time:                now,
		Symbol:              e.Symbol,
		Price:               mid.Float64(),
		SpreadBps:           e.spreadPct() * 100,
		BookOFI:             ofi,
		BookOBI:             obi,
		FlowWhaleCVDDelta:   e.whaleAnz.CVD(whale.CohortWhale),
		FlowDolphinCVDDelta: e.whaleAnz.CVD(whale.CohortDolphin),
		FlowMinnowCVDDelta:  e.whaleAnz.CVD(whale.CohortMinnow),
		WallWhaleVol:        wallWhaleVol,
		WallDolphinVol:      wallDolphinVol,
	}
	ev.BasisAPR, ev.OptionsSkew = e.book.Derivatives()
	return ev
}

// wallVolumesByCohort sums the hidden volume of every active iceberg level
// by size cohort, tagging IsDolphin on each level as a side effect — the
// original aggregates the same way over book.active_icebergs, keyed by the
// level's own is_dolphin flag.
func (e *Engine) wallVolumesByCohort() (wallWhaleVol, wallDolphinVol float64) {
	for _, lvl := range e.book.ActiveIcebergs() {
		if lvl.Status != orderbook.IcebergActive {
			continue
		}
		notionalUSD := lvl.TotalHiddenVolume.Float64() * lvl.Price.Float64()
		switch e.whaleAnz.Classify(notionalUSD) {
		case whale.CohortWhale:
			lvl.IsDolphin = false
			wallWhaleVol += lvl.TotalHiddenVolume.Float64()
		case whale.CohortDolphin:
			lvl.IsDolphin = true
			wallDolphinVol += lvl.TotalHiddenVolume.Float64()
		}
	}
	return wallWhaleVol, wallDolphinVol
}

// spreadPct returns the current best-bid/ask spread as a percentage of mid,
// for the VPIN dead-flat-market reliability check (spec §4.5). Returns 0
// when no two-sided quote exists yet, which VPIN treats as "no opinion"
// rather than dead-flat.
func (e *Engine) spreadPct() float64 {
	mid, ok := e.book.Mid()
	if !ok || mid.Float64() == 0 {
		return 0
	}
	spread, ok := e.book.SpreadAbs()
	if !ok {
		return 0
	}
	return spread / mid.Float64() * 100
}
