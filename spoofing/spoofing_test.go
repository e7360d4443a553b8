package spoofing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"icebergflow-engine/config"
	"icebergflow-engine/orderbook"
	"icebergflow-engine/price"
)

func testCfg() config.AssetConfig {
	return config.AssetConfig{
		SpoofingVolumeThreshold: price.QtyFromFloat(0.2),
		BreachTolerancePct:      0.0005,
	}
}

func TestScore_ShortLivedCloseFewFillsScoresHigh(t *testing.T) {
	a := New(testCfg())
	now := time.Now()
	level := &orderbook.IcebergLevel{
		Price:             price.PriceFromFloat(100),
		CreationTime:      now.Add(-2 * time.Second),
		LastUpdateTime:    now,
		RefillCount:       1,
		TotalHiddenVolume: price.QtyFromFloat(0.01),
		CancellationContext: &orderbook.CancellationContext{
			DistanceFromLevelPct: 0.0001,
			MovingTowardsLevel:   true,
			PriceVelocity5s:      0.02,
		},
	}
	tol := orderbook.NewTolerance(testCfg(), 99.9, 100.1)
	score := a.Score(level, tol, RefillRateInfo{RefillsPerMinute: 2})
	assert.Greater(t, score, 0.5)
}

func TestScore_LongLivedManyFillsScoresLow(t *testing.T) {
	a := New(testCfg())
	now := time.Now()
	level := &orderbook.IcebergLevel{
		Price:             price.PriceFromFloat(100),
		CreationTime:      now.Add(-10 * time.Minute),
		LastUpdateTime:    now,
		RefillCount:       50,
		TotalHiddenVolume: price.QtyFromFloat(5),
		CancellationContext: &orderbook.CancellationContext{
			DistanceFromLevelPct: 1.0,
			MovingTowardsLevel:   false,
		},
	}
	tol := orderbook.NewTolerance(testCfg(), 99.9, 100.1)
	score := a.Score(level, tol, RefillRateInfo{RefillsPerMinute: 1})
	assert.Less(t, score, 0.3)
}

func TestExecutionTerm_HighRefillRateDampensScore(t *testing.T) {
	level := &orderbook.IcebergLevel{RefillCount: 1, TotalHiddenVolume: price.QtyFromFloat(0.01)}
	cfg := testCfg()
	lowRate := executionTerm(level, cfg, RefillRateInfo{RefillsPerMinute: 1})
	highRate := executionTerm(level, cfg, RefillRateInfo{RefillsPerMinute: 20})
	assert.Less(t, highRate, lowRate)
}

func TestApplyToConfidence_ZeroScoreLeavesConfidenceUnchanged(t *testing.T) {
	assert.InDelta(t, 0.8, ApplyToConfidence(0.8, 0), 1e-9)
}

func TestApplyToConfidence_FullScoreZeroesConfidence(t *testing.T) {
	assert.InDelta(t, 0.0, ApplyToConfidence(0.8, 1), 1e-9)
}

func TestRefillsPerMinute_ZeroElapsedIsZero(t *testing.T) {
	now := time.Now()
	level := &orderbook.IcebergLevel{CreationTime: now, RefillCount: 5}
	info := RefillsPerMinute(level, now)
	assert.Equal(t, 0.0, info.RefillsPerMinute)
}
