package market

import (
	"time"

	"github.com/google/uuid"

	"icebergflow-engine/price"
)

// IcebergDetectedEvent is emitted on a successful refill detection (spec §6).
// TotalHiddenVolume and RefillCount are the level's lifetime totals (not
// just this refill's contribution), carried for the persistence layer's
// IIR/intention-type classification (spec §6, §9 supplement).
type IcebergDetectedEvent struct {
	ID                    uuid.UUID
	Symbol                string
	Price                 price.Price
	DetectedHiddenVolume  price.Qty
	VisibleVolumeBefore   price.Qty
	Confidence            float64
	TotalHiddenVolume     price.Qty
	RefillCount           int
	EventTime             time.Time
}

// IcebergBreachedEvent is emitted when price crosses an active iceberg
// level — the level's lifecycle close. TradeFootprint and SurvivalSeconds
// carry what the level accumulated across its lifetime (spec §6, §9
// supplement); the persistence layer's IIR/intention-type classification
// reads LastTotalHiddenVolume.
type IcebergBreachedEvent struct {
	ID                    uuid.UUID
	Symbol                string
	Price                 price.Price
	LastTotalHiddenVolume price.Qty
	IsGammaWall           bool
	TradeFootprint        price.Qty
	RefillCount           int
	SurvivalSeconds       float64
	EventTime             time.Time
}

type WhaleSide string

const (
	WhaleSideBuy  WhaleSide = "BUY"
	WhaleSideSell WhaleSide = "SELL"
)

// WhaleTradeEvent is emitted when a single trade is cohort-labeled "whale".
type WhaleTradeEvent struct {
	ID         uuid.UUID
	Symbol     string
	Price      price.Price
	VolumeUSD  float64
	Side       WhaleSide
	EventTime  time.Time
}

type AlgoKind string

const (
	AlgoTWAP    AlgoKind = "TWAP"
	AlgoVWAP    AlgoKind = "VWAP"
	AlgoIceberg AlgoKind = "ICEBERG"
	AlgoSweep   AlgoKind = "SWEEP"
	AlgoGeneric AlgoKind = "ALGO"
)

type AlgoDirection string

const (
	AlgoDirectionBuy  AlgoDirection = "BUY"
	AlgoDirectionSell AlgoDirection = "SELL"
)

// AlgoDetectedEvent is emitted when the minnow cohort exhibits a recognizable
// execution pattern within its 60s window.
type AlgoDetectedEvent struct {
	ID         uuid.UUID
	Symbol     string
	Direction  AlgoDirection
	Kind       AlgoKind
	Confidence float64
	EventTime  time.Time
}

type DivergenceType string

const (
	DivergenceBullish DivergenceType = "BULLISH"
	DivergenceBearish DivergenceType = "BEARISH"
	DivergenceNone    DivergenceType = "NONE"
)

type WyckoffPattern string

const (
	WyckoffSpring        WyckoffPattern = "SPRING"
	WyckoffUpthrust      WyckoffPattern = "UPTHRUST"
	WyckoffAccumulation  WyckoffPattern = "ACCUMULATION"
	WyckoffDistribution  WyckoffPattern = "DISTRIBUTION"
)

// AccumulationEvent is emitted on a positive multi-timeframe CVD/price
// divergence with a Wyckoff classification.
type AccumulationEvent struct {
	ID               uuid.UUID
	Symbol           string
	Timeframe        string
	Type             DivergenceType
	Pattern          WyckoffPattern
	Confidence       float64
	AbsorptionDetected bool
	OBIConfirms      bool
	NearStrongZone   bool
	EventTime        time.Time
}

// FeatureSnapshotEvent carries the ≥25-field feature vector captured when an
// iceberg refill/detection fires (spec §6, §9 supplement), at most once per
// 100ms and only while the engine is RUNNING; detections inside that window
// produce no snapshot.
type FeatureSnapshotEvent struct {
	Symbol string
	Time   time.Time

	Price     float64
	SpreadBps float64
	BookOFI   float64
	BookOBI   float64

	VPINScore    float64
	VPINReliable bool

	TotalGEX           float64
	TotalGEXNormalized *float64
	BasisAPR           *float64
	OptionsSkew        *float64

	SpoofingScore     float64
	SpreadZScore      float64
	OFIDepthEffective int

	WhaleCVD1h float64
	WhaleCVD4h float64
	WhaleCVD1d float64
	WhaleCVD1w float64

	DolphinCVD1h float64
	MinnowCVD1h  float64

	WyckoffType       *string
	WyckoffPattern    *string
	WyckoffConfidence *float64

	ActiveIcebergCount int
	StrongZoneCount    int
}

// MarketMetricsEvent mirrors persistence.MarketMetricsRow's wire-contract
// columns (spec §6). The "Delta" names are inherited from the original's
// column naming, though the original itself just logs the cohort's running
// CVD total on each write, not a difference between two writes — see
// DESIGN.md.
type MarketMetricsEvent struct {
	Time   time.Time
	Symbol string

	Price     float64
	SpreadBps float64
	BookOFI   float64
	BookOBI   float64

	FlowWhaleCVDDelta   float64
	FlowDolphinCVDDelta float64
	FlowMinnowCVDDelta  float64

	WallWhaleVol   float64
	WallDolphinVol float64

	BasisAPR    *float64
	OptionsSkew *float64
	OIDelta     *float64
}

func NewEventID() uuid.UUID { return uuid.New() }
