package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"icebergflow-engine/price"
)

func TestTradeEvent_VolumeUSD(t *testing.T) {
	tr := TradeEvent{Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(2)}
	assert.Equal(t, 200.0, tr.VolumeUSD())
}

func TestTradeEvent_IsAggressiveBuy(t *testing.T) {
	assert.True(t, TradeEvent{IsBuyerMaker: false}.IsAggressiveBuy())
	assert.False(t, TradeEvent{IsBuyerMaker: true}.IsAggressiveBuy())
}

func TestTradeEvent_SignedVolumeUSD(t *testing.T) {
	buy := TradeEvent{Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(2), IsBuyerMaker: false}
	sell := TradeEvent{Price: price.PriceFromFloat(100), Quantity: price.QtyFromFloat(2), IsBuyerMaker: true}
	assert.Equal(t, 200.0, buy.SignedVolumeUSD())
	assert.Equal(t, -200.0, sell.SignedVolumeUSD())
}

func TestTradeEvent_EventTime(t *testing.T) {
	tr := TradeEvent{EventTimeMs: 1_700_000_000_000}
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), tr.EventTime())
}

func TestGammaProfile_HoursToExpiry_NilIsSentinel(t *testing.T) {
	g := GammaProfile{}
	assert.Equal(t, 999.0, g.HoursToExpiry(time.Now()))
}

func TestGammaProfile_HoursToExpiry_PastExpiryIsZero(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	g := GammaProfile{ExpiryTimestamp: &past}
	assert.Equal(t, 0.0, g.HoursToExpiry(time.Now()))
}

func TestGammaProfile_HoursToExpiry_FutureExpiryIsPositive(t *testing.T) {
	future := time.Now().Add(2 * time.Hour)
	g := GammaProfile{ExpiryTimestamp: &future}
	assert.InDelta(t, 2.0, g.HoursToExpiry(time.Now()), 0.01)
}

func TestSide_IsAskAndString(t *testing.T) {
	assert.True(t, SideAsk.IsAsk())
	assert.False(t, SideBid.IsAsk())
	assert.Equal(t, "ASK", SideAsk.String())
	assert.Equal(t, "BID", SideBid.String())
}
