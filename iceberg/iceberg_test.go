package iceberg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icebergflow-engine/config"
	"icebergflow-engine/market"
	"icebergflow-engine/orderbook"
	"icebergflow-engine/price"
)

func testCfg() config.AssetConfig {
	return config.AssetConfig{
		Symbol:                    "BTCUSDT",
		MinHiddenVolume:           price.QtyFromFloat(0.05),
		MinIcebergRatio:           0.30,
		OFIDepth:                  10,
		NativeRefillMaxMs:         5,
		SyntheticRefillMaxMs:      50,
		SyntheticCutoffMs:         30,
		SyntheticProbabilityDecay: 0.15,
		GammaWallTolerancePct:     0.0015,
	}
}

func newBookAt(cfg config.AssetConfig, bid, ask, qty float64) *orderbook.LocalOrderBook {
	b := orderbook.New(cfg.Symbol, cfg)
	b.ApplySnapshot(
		[]market.PriceLevel{{Price: price.PriceFromFloat(bid), Qty: price.QtyFromFloat(qty)}},
		[]market.PriceLevel{{Price: price.PriceFromFloat(ask), Qty: price.QtyFromFloat(qty)}},
		1,
	)
	return b
}

func sellTrade(p, qty float64, t time.Time) market.TradeEvent {
	return market.TradeEvent{
		Price: price.PriceFromFloat(p), Quantity: price.QtyFromFloat(qty),
		IsBuyerMaker: true, // the taker sold, hitting the bid
		EventTimeMs:  t.UnixMilli(),
	}
}

// TestOnDepthUpdate_NativeRefillDetected reproduces spec.md §8's scenario:
// a large sell eats the bid, and within the native-refill window the level
// recovers to (at least) its pre-trade size by a hidden amount clearing both
// the absolute and ratio floors — confidence 1.0 before any adjustment.
func TestOnDepthUpdate_NativeRefillDetected(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	tradeTime := time.UnixMilli(1_000_000)
	// Trade quantity (1.5) exceeds the pre-trade visible size (1.0): the
	// matching engine walked past the displayed clip into a hidden reserve
	// within the same trade report, revealing hidden = 1.5 - 1.0 = 0.5.
	trade := sellTrade(100, 1.5, tradeTime)
	a.OnTrade(b, trade, nil, false, market.DivergenceNone, 0, tradeTime.UnixMilli())

	// Depth update a few ms later shows the bid fully restored (the hidden
	// reserve refilled it).
	require.NoError(t, b.ApplyUpdate(market.OrderBookUpdate{
		FirstUpdateID: 2, FinalUpdateID: 2,
		Bids: []market.PriceLevel{{Price: price.PriceFromFloat(100), Qty: price.QtyFromFloat(1.0)}},
	}))
	updateTime := tradeTime.Add(2 * time.Millisecond)
	dets, _ := a.OnDepthUpdate(b, price.PriceFromFloat(100), updateTime, updateTime.UnixMilli(), 0)

	require.Len(t, dets, 1)
	assert.Equal(t, 1.0, dets[0].Confidence)
	assert.False(t, dets[0].IsAsk)
}

// TestOnDepthUpdate_SyntheticBorderlineDetected covers a refill that lands
// just past the native window but within synthetic_refill_max_ms, with a
// high enough hidden ratio that the sigmoid probability still clears 0.2.
func TestOnDepthUpdate_SyntheticBorderlineDetected(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	tradeTime := time.UnixMilli(1_000_000)
	trade := sellTrade(100, 1.5, tradeTime)
	a.OnTrade(b, trade, nil, false, market.DivergenceNone, 0, tradeTime.UnixMilli())

	require.NoError(t, b.ApplyUpdate(market.OrderBookUpdate{
		FirstUpdateID: 2, FinalUpdateID: 2,
		Bids: []market.PriceLevel{{Price: price.PriceFromFloat(100), Qty: price.QtyFromFloat(1.0)}},
	}))
	updateTime := tradeTime.Add(20 * time.Millisecond) // past native(5ms), within synthetic(50ms), near cutoff(30ms)
	dets, _ := a.OnDepthUpdate(b, price.PriceFromFloat(100), updateTime, updateTime.UnixMilli(), 0)

	require.Len(t, dets, 1)
	assert.Greater(t, dets[0].Confidence, 0.0)
	assert.Less(t, dets[0].Confidence, 1.0)
}

// TestOnDepthUpdate_TooSlowRejected covers a recovery arriving after
// synthetic_refill_max_ms: a genuine third-party order, not a hidden refill.
func TestOnDepthUpdate_TooSlowRejected(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	tradeTime := time.UnixMilli(1_000_000)
	trade := sellTrade(100, 0.5, tradeTime)
	a.OnTrade(b, trade, nil, false, market.DivergenceNone, 0, tradeTime.UnixMilli())

	b.ApplySnapshot(
		[]market.PriceLevel{{Price: price.PriceFromFloat(100), Qty: price.QtyFromFloat(1.0)}},
		[]market.PriceLevel{{Price: price.PriceFromFloat(101), Qty: price.QtyFromFloat(1.0)}},
		2,
	)
	updateTime := tradeTime.Add(500 * time.Millisecond)
	dets, negativeDeltaT := a.OnDepthUpdate(b, price.PriceFromFloat(100), updateTime, updateTime.UnixMilli(), 0)

	assert.Empty(t, dets)
	assert.Zero(t, negativeDeltaT, "too-slow is its own rejection reason, not NEGATIVE_DELTA_T")
}

// TestOnDepthUpdate_NegativeDeltaTIsCountedNotSilentlyDropped covers spec
// §7's NEGATIVE_DELTA_T condition: a depth update observed before the trade
// it is meant to correlate with (e.g. a later-event-time trade was
// dispatched ahead of an earlier-event-time depth update despite the
// ReorderingBuffer's delay window).
func TestOnDepthUpdate_NegativeDeltaTIsCountedNotSilentlyDropped(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	updateTime := time.UnixMilli(1_000_000)
	tradeTime := updateTime.Add(5 * time.Millisecond) // trade's event time is AFTER the update's
	trade := sellTrade(100, 0.5, tradeTime)
	a.OnTrade(b, trade, nil, false, market.DivergenceNone, 0, tradeTime.UnixMilli())

	dets, negativeDeltaT := a.OnDepthUpdate(b, price.PriceFromFloat(100), updateTime, updateTime.UnixMilli(), 0)

	assert.Empty(t, dets)
	assert.Equal(t, 1, negativeDeltaT)
}

func TestOnDepthUpdate_DepletionIsNotARefill(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	tradeTime := time.UnixMilli(1_000_000)
	trade := sellTrade(100, 0.5, tradeTime)
	a.OnTrade(b, trade, nil, false, market.DivergenceNone, 0, tradeTime.UnixMilli())

	// Depth shows the level further depleted, not restored.
	require.NoError(t, b.ApplyUpdate(market.OrderBookUpdate{
		FirstUpdateID: 2, FinalUpdateID: 2,
		Bids: []market.PriceLevel{{Price: price.PriceFromFloat(100), Qty: price.QtyFromFloat(0.2)}},
	}))
	updateTime := tradeTime.Add(2 * time.Millisecond)
	dets, _ := a.OnDepthUpdate(b, price.PriceFromFloat(100), updateTime, updateTime.UnixMilli(), 0)
	assert.Empty(t, dets)
}

func TestAdjustConfidence_VPINTailDampensConfidence(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	vpin := 1.0 // maximally toxic flow
	c := orderbook.PendingCheck{VPINReliable: true, VPINScore: &vpin, DivergenceConf: 0}
	adjusted, _, _ := a.adjustConfidence(b, price.PriceFromFloat(100), false, 1.0, c, time.Now())
	assert.Less(t, adjusted, 1.0)
	assert.InDelta(t, 0.55, adjusted, 1e-9)
}

func TestAdjustConfidence_AlignedDivergenceBoosts(t *testing.T) {
	cfg := testCfg()
	a := New(cfg)
	b := newBookAt(cfg, 100, 101, 1.0)

	c := orderbook.PendingCheck{DivergenceType: market.DivergenceBullish, DivergenceConf: 1.0}
	adjusted, _, isMajor := a.adjustConfidence(b, price.PriceFromFloat(100), false, 1.0, c, time.Now())
	assert.Greater(t, adjusted, 1.0)
	assert.True(t, isMajor)
}
