// Package persistence defines the downstream persistence contracts of
// spec.md §6 as GORM models, and a per-symbol rate-limited writer enforcing
// the "10 writes/sec/symbol" throttle of §4.10. Grounded on the teacher's
// database/* GORM usage.
package persistence

import "time"

// IcebergLifecycleRow records one lifecycle transition of an iceberg level.
type IcebergLifecycleRow struct {
	ID                   uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol               string `gorm:"index:idx_iceberg_symbol_time"`
	Price                float64
	IsAsk                bool
	EventType            string `gorm:"column:event_type"` // DETECTED, REFILLED, BREACHED, EXHAUSTED, CANCELLED
	EventTime            time.Time `gorm:"index:idx_iceberg_symbol_time"`
	SurvivalSeconds      *float64
	TotalVolumeAbsorbed  *float64
	RefillCount          int
	Outcome              *string
	PriceAtDeath         *float64
	IntentionType        *string // SCALPER, INTRADAY, POSITIONAL
	IIRValue             *float64
}

func (IcebergLifecycleRow) TableName() string { return "iceberg_lifecycle" }

// FeatureSnapshotRow is the ≥25-field feature vector captured on iceberg
// detections while the engine is RUNNING, at most once per 100ms, covering orderbook,
// flow, derivatives, price, spoofing, regime, and multi-horizon whale-CVD
// trend fields (spec §6).
type FeatureSnapshotRow struct {
	ID     uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol string    `gorm:"index:idx_feature_symbol_time"`
	Time   time.Time `gorm:"index:idx_feature_symbol_time"`

	// orderbook
	Price      float64
	SpreadBps  float64
	BookOFI    float64
	BookOBI    float64

	// flow
	VPINScore    float64
	VPINReliable bool

	// derivatives
	TotalGEX           float64
	TotalGEXNormalized *float64
	BasisAPR           *float64
	OptionsSkew        *float64

	// spoofing / regime
	SpoofingScore   float64
	SpreadZScore    float64
	OFIDepthEffective int

	// whale CVD, multi-horizon
	WhaleCVD1h float64
	WhaleCVD4h float64
	WhaleCVD1d float64
	WhaleCVD1w float64

	DolphinCVD1h float64
	MinnowCVD1h  float64

	// wyckoff
	WyckoffType       *string
	WyckoffPattern    *string
	WyckoffConfidence *float64

	// iceberg registry summary
	ActiveIcebergCount int
	StrongZoneCount    int
}

func (FeatureSnapshotRow) TableName() string { return "feature_snapshot" }

// MarketMetricsRow column semantics are wire-contract-exact per spec §6 and
// must not be renamed.
type MarketMetricsRow struct {
	Time                 time.Time `gorm:"primaryKey"`
	Symbol               string    `gorm:"primaryKey"`
	Price                float64
	SpreadBps            float64
	BookOFI              float64
	BookOBI              float64
	FlowWhaleCVDDelta    float64
	FlowDolphinCVDDelta  float64
	FlowMinnowCVDDelta   float64
	WallWhaleVol         float64
	WallDolphinVol       float64
	BasisAPR             *float64
	OptionsSkew           *float64
	OIDelta               *float64
}

func (MarketMetricsRow) TableName() string { return "market_metrics" }
