package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icebergflow-engine/marketerrors"
	"icebergflow-engine/price"
)

func TestVPIN_UnreliableBeforeMinBuckets(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	a.OnTrade(price.QtyFromFloat(10), true, now) // seals exactly one bucket

	_, reliable := a.VPIN(now, 1.0)
	assert.False(t, reliable)
}

func TestVPIN_ReliableOnceMinBucketsSealed_BeforeWindowFull(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	for i := 0; i < minReliableBuckets; i++ {
		a.OnTrade(price.QtyFromFloat(10), i%2 == 0, now)
	}
	require.Less(t, a.SealedBucketCount(), defaultWindowBuckets)

	score, reliable := a.VPIN(now, 1.0)
	require.True(t, reliable)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestVPIN_ReliableOnceWindowFullAndFresh(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	for i := 0; i < defaultWindowBuckets; i++ {
		a.OnTrade(price.QtyFromFloat(10), i%2 == 0, now)
	}
	score, reliable := a.VPIN(now, 1.0)
	require.True(t, reliable)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestVPIN_FrozenWhenLastBucketStale(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	sealTime := time.Now()
	for i := 0; i < defaultWindowBuckets; i++ {
		a.OnTrade(price.QtyFromFloat(10), true, sealTime)
	}
	_, reliable := a.VPIN(sealTime.Add(defaultStaleAfter+time.Second), 1.0)
	assert.False(t, reliable)
}

func TestVPIN_UnreliableOnDeadFlatSpread(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	for i := 0; i < defaultWindowBuckets; i++ {
		a.OnTrade(price.QtyFromFloat(10), i%2 == 0, now)
	}
	_, reliable := a.VPIN(now, deadFlatSpreadPct/2)
	assert.False(t, reliable)
}

func TestVPIN_ZeroSpreadDoesNotForceUnreliable(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	for i := 0; i < defaultWindowBuckets; i++ {
		a.OnTrade(price.QtyFromFloat(10), i%2 == 0, now)
	}
	_, reliable := a.VPIN(now, 0)
	assert.True(t, reliable)
}

func TestOnTrade_SplitsAcrossBucketBoundary(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	a.OnTrade(price.QtyFromFloat(25), true, now) // 10 + 10 + 5 => seals 2 full buckets

	assert.Equal(t, 2, a.SealedBucketCount())
}

func TestRequireReliable_SurfacesSentinelError(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	_, err := a.RequireReliable(time.Now(), 1.0)
	assert.ErrorIs(t, err, marketerrors.ErrUnreliableVPIN)
}

func TestBucketImbalance_AllBuyIsOne(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	a.OnTrade(price.QtyFromFloat(10), true, now)
	require.Len(t, a.sealed, 1)
	assert.InDelta(t, 1.0, a.sealed[0].imbalance(), 1e-9)
}

func TestBucketImbalance_BalancedIsZero(t *testing.T) {
	a := New(price.QtyFromFloat(10))
	now := time.Now()
	a.OnTrade(price.QtyFromFloat(5), true, now)
	a.OnTrade(price.QtyFromFloat(5), false, now)
	require.Len(t, a.sealed, 1)
	assert.InDelta(t, 0.0, a.sealed[0].imbalance(), 1e-9)
}
