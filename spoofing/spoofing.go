// Package spoofing implements C9: a weighted [0,1] score over a cancelled
// iceberg level's duration, cancellation context, and execution pattern,
// per spec.md §4.9.
package spoofing

import (
	"time"

	"icebergflow-engine/config"
	"icebergflow-engine/orderbook"
)

// Analyzer scores cancelled iceberg levels for spoofing likelihood.
type Analyzer struct {
	cfg config.AssetConfig
}

func New(cfg config.AssetConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// RefillRateInfo carries the level's refill cadence, computed by the caller
// from RefillCount and the lifecycle window, since the analyzer itself
// holds no per-level history.
type RefillRateInfo struct {
	RefillsPerMinute float64
}

// Score computes the weighted spoofing score for a level at the moment it
// transitioned to CANCELLED. tol supplies the spread-scaled "close to
// level" threshold (spec §4.9 forbids a hardcoded percent).
func (a *Analyzer) Score(level *orderbook.IcebergLevel, tol orderbook.Tolerance, refill RefillRateInfo) float64 {
	duration := durationTerm(level.SurvivalSeconds())
	context := contextTerm(level, tol)
	execution := executionTerm(level, a.cfg, refill)
	return 0.3*duration + 0.5*context + 0.2*execution
}

func durationTerm(lifetimeSeconds float64) float64 {
	if lifetimeSeconds < 0 {
		lifetimeSeconds = 0
	}
	return 1.0 / (1.0 + 0.1*lifetimeSeconds)
}

func contextTerm(level *orderbook.IcebergLevel, tol orderbook.Tolerance) float64 {
	ctx := level.CancellationContext
	if ctx == nil {
		return 0
	}
	closeThreshold := tol.CloseToLevelThreshold()
	closeScore := 0.0
	if closeThreshold > 0 {
		closeScore = 1 - clamp01(ctx.DistanceFromLevelPct/closeThreshold)
	}
	approachScore := 0.0
	if ctx.MovingTowardsLevel {
		approachScore = clamp01(ctx.PriceVelocity5s / 0.01)
	}
	return clamp01(0.6*closeScore + 0.4*approachScore)
}

func executionTerm(level *orderbook.IcebergLevel, cfg config.AssetConfig, refill RefillRateInfo) float64 {
	fewFills := 0.0
	if level.RefillCount <= 2 {
		fewFills = 1 - float64(level.RefillCount)/3
	}
	smallVolume := 0.0
	if level.TotalHiddenVolume.LessThan(cfg.SpoofingVolumeThreshold) {
		smallVolume = 1 - level.TotalHiddenVolume.Float64()/cfg.SpoofingVolumeThreshold.Float64()
	}
	score := clamp01(0.5*fewFills + 0.5*smallVolume)
	if refill.RefillsPerMinute > 10 {
		score *= 0.3 // very high refill frequency reads as a legitimate algo
	}
	return score
}

// ApplyToConfidence returns final_confidence = base * (1 - score), the
// engine-level application named in spec §4.9.
func ApplyToConfidence(base, score float64) float64 {
	return base * (1 - score)
}

// RefillsPerMinute computes RefillRateInfo.RefillsPerMinute from a level's
// creation time, last update, and refill count.
func RefillsPerMinute(level *orderbook.IcebergLevel, now time.Time) RefillRateInfo {
	minutes := now.Sub(level.CreationTime).Minutes()
	if minutes <= 0 {
		return RefillRateInfo{RefillsPerMinute: 0}
	}
	return RefillRateInfo{RefillsPerMinute: float64(level.RefillCount) / minutes}
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
