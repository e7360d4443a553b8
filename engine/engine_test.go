package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icebergflow-engine/config"
	"icebergflow-engine/market"
	"icebergflow-engine/price"
)

type stubSink struct {
	detected         []market.IcebergDetectedEvent
	breached         []market.IcebergBreachedEvent
	whaleTrades      []market.WhaleTradeEvent
	algos            []market.AlgoDetectedEvent
	accumulation     []market.AccumulationEvent
	featureSnapshots []market.FeatureSnapshotEvent
	marketMetrics    []market.MarketMetricsEvent
}

func (s *stubSink) OnIcebergDetected(ev market.IcebergDetectedEvent) { s.detected = append(s.detected, ev) }
func (s *stubSink) OnIcebergBreached(ev market.IcebergBreachedEvent) { s.breached = append(s.breached, ev) }
func (s *stubSink) OnWhaleTrade(ev market.WhaleTradeEvent)           { s.whaleTrades = append(s.whaleTrades, ev) }
func (s *stubSink) OnAlgoDetected(ev market.AlgoDetectedEvent)       { s.algos = append(s.algos, ev) }
func (s *stubSink) OnAccumulation(ev market.AccumulationEvent)       { s.accumulation = append(s.accumulation, ev) }
func (s *stubSink) OnFeatureSnapshot(ev market.FeatureSnapshotEvent) { s.featureSnapshots = append(s.featureSnapshots, ev) }
func (s *stubSink) OnMarketMetrics(ev market.MarketMetricsEvent)     { s.marketMetrics = append(s.marketMetrics, ev) }

func testCfg() config.AssetConfig {
	return config.AssetConfig{
		Symbol:                    "BTCUSDT",
		DustThreshold:             price.QtyFromFloat(0.0001),
		MinHiddenVolume:           price.QtyFromFloat(0.05),
		MinIcebergRatio:           0.30,
		OFIDepth:                  10,
		VPINBucketSize:            price.QtyFromFloat(10),
		NativeRefillMaxMs:         5,
		SyntheticRefillMaxMs:      50,
		SyntheticCutoffMs:         30,
		SyntheticProbabilityDecay: 0.15,
		WarmupPeriodMs:            20,
		StaticWhaleThresholdUSD:   250_000,
		StaticMinnowThresholdUSD:  5_000,
		MinWhaleFloorUSD:          100_000,
		MinMinnowFloorUSD:         2_000,
	}
}

func emptySnapshotFetcher(ctx context.Context) (market.Snapshot, error) {
	return market.Snapshot{Symbol: "BTCUSDT", LastUpdateID: 0}, nil
}

func TestNew_StartsInitializing(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	assert.Equal(t, StateInitializing, e.State())
}

func TestResyncThenWarmup_TransitionsState(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))
	e.enterWarmup()
	assert.Equal(t, StateWarmingUp, e.State())
}

func TestMaybeGraduate_MovesToRunningAfterWarmupElapses(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))
	e.enterWarmup()
	e.warmupUntil = time.Now().Add(-time.Millisecond) // force elapsed
	e.maybeGraduate()
	assert.Equal(t, StateRunning, e.State())
}

func TestMaybeGraduate_StaysWarmingUpBeforeElapsed(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))
	e.enterWarmup()
	e.warmupUntil = time.Now().Add(time.Hour)
	e.maybeGraduate()
	assert.Equal(t, StateWarmingUp, e.State())
}

// TestResync_ClearsZombieIcebergs reproduces spec.md §8's scenario: an
// iceberg registered before a resync must not survive it, since a resync
// replaces the book state with a fresh snapshot whose levels cannot be
// correlated with pre-resync hidden-volume history.
func TestResync_ClearsZombieIcebergs(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	e.book.RegisterIceberg(price.PriceFromFloat(100), price.QtyFromFloat(1), false, 0.9, time.Now())
	require.Len(t, e.book.ActiveIcebergs(), 1)

	require.NoError(t, e.resync(context.Background()))
	assert.Empty(t, e.book.ActiveIcebergs())
}

func TestPushDepth_DropsOldestUnderBackpressure(t *testing.T) {
	e := New(testCfg(), 2, 2, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	e.PushDepth(market.OrderBookUpdate{FinalUpdateID: 1})
	e.PushDepth(market.OrderBookUpdate{FinalUpdateID: 2})
	e.PushDepth(market.OrderBookUpdate{FinalUpdateID: 3}) // queue full, drops oldest (1)

	first := <-e.depthQueue
	assert.Equal(t, uint64(2), first.FinalUpdateID)
	second := <-e.depthQueue
	assert.Equal(t, uint64(3), second.FinalUpdateID)
	assert.Equal(t, uint64(1), e.Stats.DepthDropped.Load())
}

func TestPushTrade_DropsOldestUnderBackpressure(t *testing.T) {
	e := New(testCfg(), 2, 2, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	e.PushTrade(market.TradeEvent{EventTimeMs: 1})
	e.PushTrade(market.TradeEvent{EventTimeMs: 2})
	e.PushTrade(market.TradeEvent{EventTimeMs: 3})

	first := <-e.tradeQueue
	assert.Equal(t, int64(2), first.EventTimeMs)
	assert.Equal(t, uint64(1), e.Stats.TradeDropped.Load())
}

func TestHandleDepth_StaleUpdateIsSkippedAndCounted(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))
	e.book.ApplySnapshot(nil, nil, 100)

	e.handleDepth(context.Background(), market.OrderBookUpdate{FirstUpdateID: 90, FinalUpdateID: 95})
	assert.Equal(t, uint64(1), e.Stats.StaleUpdate.Load())
}

func TestHandleDepth_GapTriggersResyncAndWarmup(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))
	e.book.ApplySnapshot(nil, nil, 100)
	e.state.Store(StateRunning)

	e.handleDepth(context.Background(), market.OrderBookUpdate{FirstUpdateID: 150, FinalUpdateID: 160})
	assert.Equal(t, uint64(1), e.Stats.GapDetected.Load())
	assert.Equal(t, StateWarmingUp, e.State())
}

func TestHandleTrade_SuppressesSinkCallsDuringWarmup(t *testing.T) {
	sink := &stubSink{}
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, sink, nil)
	require.NoError(t, e.resync(context.Background()))
	e.enterWarmup() // still WARMING_UP, not RUNNING

	trade := market.TradeEvent{
		Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(3000),
		IsBuyerMaker: false, EventTimeMs: time.Now().UnixMilli(),
	}
	e.handleTrade(context.Background(), trade)
	assert.Empty(t, sink.whaleTrades, "warm-up must suppress downstream emission even for a whale-sized trade")
}

func TestHandleTrade_EmitsWhaleTradeWhenRunning(t *testing.T) {
	sink := &stubSink{}
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, sink, nil)
	require.NoError(t, e.resync(context.Background()))
	e.state.Store(StateRunning)

	trade := market.TradeEvent{
		Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(3000),
		IsBuyerMaker: false, EventTimeMs: time.Now().UnixMilli(),
	}
	e.handleTrade(context.Background(), trade)
	require.Len(t, sink.whaleTrades, 1)
	assert.Equal(t, market.WhaleSideBuy, sink.whaleTrades[0].Side)
}

func TestMaybeEmitMarketMetrics_FiresEveryTenthTradeWhenRunning(t *testing.T) {
	sink := &stubSink{}
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, sink, nil)
	require.NoError(t, e.resync(context.Background()))
	e.state.Store(StateRunning)

	trade := market.TradeEvent{
		Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(10),
		IsBuyerMaker: false, EventTimeMs: time.Now().UnixMilli(),
	}
	for i := 0; i < 9; i++ {
		e.handleTrade(context.Background(), trade)
	}
	assert.Empty(t, sink.marketMetrics, "must not fire before the 10th trade")

	e.handleTrade(context.Background(), trade)
	require.Len(t, sink.marketMetrics, 1)
	assert.Equal(t, "BTCUSDT", sink.marketMetrics[0].Symbol)
}

func TestMaybeEmitMarketMetrics_SuppressedDuringWarmup(t *testing.T) {
	sink := &stubSink{}
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, sink, nil)
	require.NoError(t, e.resync(context.Background()))
	e.enterWarmup()

	trade := market.TradeEvent{
		Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(10),
		IsBuyerMaker: false, EventTimeMs: time.Now().UnixMilli(),
	}
	for i := 0; i < 10; i++ {
		e.handleTrade(context.Background(), trade)
	}
	assert.Empty(t, sink.marketMetrics)
}

func TestMaybeEmitFeatureSnapshot_ThrottledTo100ms(t *testing.T) {
	sink := &stubSink{}
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, sink, nil)
	require.NoError(t, e.resync(context.Background()))
	e.state.Store(StateRunning)

	base := time.Now()
	e.maybeEmitFeatureSnapshot(base)
	e.maybeEmitFeatureSnapshot(base.Add(10 * time.Millisecond))
	require.Len(t, sink.featureSnapshots, 1, "second call within the throttle window must be suppressed")

	e.maybeEmitFeatureSnapshot(base.Add(200 * time.Millisecond))
	assert.Len(t, sink.featureSnapshots, 2)
}

func TestWallVolumesByCohort_SplitsActiveIcebergsBySize(t *testing.T) {
	e := New(testCfg(), 16, 16, 60, 300, emptySnapshotFetcher, &stubSink{}, nil)
	require.NoError(t, e.resync(context.Background()))

	// whale: notional 100 * 10_000 = 1_000_000 > static whale floor (250_000)
	e.book.RegisterIceberg(price.PriceFromFloat(10_000), price.QtyFromFloat(100), false, 0.9, time.Now())
	// dolphin: notional 1 * 10_000 = 10_000, between minnow (5_000) and whale floors
	e.book.RegisterIceberg(price.PriceFromFloat(10_000), price.QtyFromFloat(1), true, 0.9, time.Now())

	whaleVol, dolphinVol := e.wallVolumesByCohort()
	assert.Equal(t, 100.0, whaleVol)
	assert.Equal(t, 1.0, dolphinVol)
}
