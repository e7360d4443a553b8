package orderbook

import (
	"time"

	"icebergflow-engine/market"
	"icebergflow-engine/price"
)

type IcebergStatus string

const (
	IcebergActive    IcebergStatus = "ACTIVE"
	IcebergBreached  IcebergStatus = "BREACHED"
	IcebergCancelled IcebergStatus = "CANCELLED"
)

// CancellationContext is captured at the moment a level transitions to
// CANCELLED; the spoofing analyzer (C9) reads it as the "context" term of
// its weighted score.
type CancellationContext struct {
	DistanceFromLevelPct float64
	PriceVelocity5s      float64
	MovingTowardsLevel   bool
	VolumeExecutedPct    float64
}

// IcebergLevel is a detected hidden-liquidity level (spec.md §3).
type IcebergLevel struct {
	Price                 price.Price
	IsAsk                 bool
	TotalHiddenVolume     price.Qty
	CreationTime          time.Time
	LastUpdateTime        time.Time
	Status                IcebergStatus
	ConfidenceScore       float64
	RefillCount           int
	AverageRefillDelayMs  *float64
	IsGammaWall           bool
	SpoofingProbability   float64
	CancellationContext   *CancellationContext
	IsDolphin             bool
	VPINHistory           []float64
	TradeFootprint        price.Qty // cumulative visible volume traded through while active

	refillDelaySum   float64
	refillDelayCount int
}

func newIcebergLevel(p price.Price, isAsk bool, hidden price.Qty, confidence float64, now time.Time) *IcebergLevel {
	return &IcebergLevel{
		Price:             p,
		IsAsk:             isAsk,
		TotalHiddenVolume: hidden,
		CreationTime:      now,
		LastUpdateTime:    now,
		Status:            IcebergActive,
		ConfidenceScore:   confidence,
		RefillCount:       1,
	}
}

// recordRefill folds in an accepted refill: accumulate hidden volume, bump
// refill count, refresh last-update time and the running average refill
// delay.
func (l *IcebergLevel) recordRefill(hidden price.Qty, confidence float64, now time.Time) {
	l.TotalHiddenVolume = l.TotalHiddenVolume.Add(hidden)
	l.RefillCount++
	if !l.LastUpdateTime.IsZero() {
		delayMs := float64(now.Sub(l.LastUpdateTime).Milliseconds())
		l.refillDelaySum += delayMs
		l.refillDelayCount++
		avg := l.refillDelaySum / float64(l.refillDelayCount)
		l.AverageRefillDelayMs = &avg
	}
	l.LastUpdateTime = now
	l.ConfidenceScore = confidence
}

// SurvivalSeconds is the lifetime from creation to last update — the input
// to the spoofing duration term and to intention-type classification.
func (l *IcebergLevel) SurvivalSeconds() float64 {
	return l.LastUpdateTime.Sub(l.CreationTime).Seconds()
}

// IIR (Iceberg Informativeness Ratio): the share of total absorbed flow that
// was hidden rather than visible. This is not the Iceberg Impact Ratio of
// SPEC_FULL §12, which iceberg.ClassifyIntention computes.
func (l *IcebergLevel) IIR() float64 {
	hidden := l.TotalHiddenVolume.Float64()
	visible := l.TradeFootprint.Float64()
	denom := hidden + visible
	if denom <= 0 {
		return 0
	}
	return hidden / denom
}

// IntentionType classifies the bot behind an iceberg by its survival
// duration alone; refill cadence is not considered. The persisted
// intention_type comes from iceberg.ClassifyIntention instead.
type IntentionType string

const (
	IntentionScalper    IntentionType = "SCALPER"
	IntentionIntraday   IntentionType = "INTRADAY"
	IntentionPositional IntentionType = "POSITIONAL"
)

func (l *IcebergLevel) IntentionType() IntentionType {
	survival := l.SurvivalSeconds()
	switch {
	case survival < 30:
		return IntentionScalper
	case survival < 3600:
		return IntentionIntraday
	default:
		return IntentionPositional
	}
}

func (l *IcebergLevel) Side() market.Side {
	if l.IsAsk {
		return market.SideAsk
	}
	return market.SideBid
}
