package main

import (
	"context"

	"icebergflow-engine/iceberg"
	"icebergflow-engine/market"
	"icebergflow-engine/notify"
	"icebergflow-engine/persistence"

	"icebergflow-engine/api"
)

// compositeSink fans every downstream event out to the SSE broker, the
// webhook manager, and the persistence writer, matching the teacher's
// pattern of small single-purpose collaborators wired together at the
// entrypoint rather than inside the engine.
type compositeSink struct {
	broker    *api.Broker
	notify    *notify.Manager
	writer    *persistence.Writer
	ctx       context.Context
	adv20dUSD float64 // symbol's 20-day ADV, for iceberg.ClassifyIntention
}

func (s *compositeSink) OnIcebergDetected(ev market.IcebergDetectedEvent) {
	s.broker.Publish("iceberg_detected", ev)
	s.notify.Broadcast(s.ctx, "iceberg_detected", ev)

	intentionType, iirValue := iceberg.ClassifyIntention(ev.TotalHiddenVolume.Float64()*ev.Price.Float64(), s.adv20dUSD)
	s.writer.WriteIcebergLifecycle(s.ctx, persistence.IcebergLifecycleRow{
		Symbol:              ev.Symbol,
		Price:               ev.Price.Float64(),
		EventType:           "DETECTED",
		EventTime:           ev.EventTime,
		TotalVolumeAbsorbed: floatPtr(ev.TotalHiddenVolume.Float64()),
		RefillCount:         ev.RefillCount,
		IntentionType:       &intentionType,
		IIRValue:            &iirValue,
	})
}

func (s *compositeSink) OnIcebergBreached(ev market.IcebergBreachedEvent) {
	s.broker.Publish("iceberg_breached", ev)
	s.notify.Broadcast(s.ctx, "iceberg_breached", ev)

	intentionType, iirValue := iceberg.ClassifyIntention(ev.LastTotalHiddenVolume.Float64()*ev.Price.Float64(), s.adv20dUSD)
	s.writer.WriteIcebergLifecycle(s.ctx, persistence.IcebergLifecycleRow{
		Symbol:              ev.Symbol,
		Price:               ev.Price.Float64(),
		EventType:           "BREACHED",
		EventTime:           ev.EventTime,
		TotalVolumeAbsorbed: floatPtr(ev.LastTotalHiddenVolume.Float64()),
		RefillCount:         ev.RefillCount,
		PriceAtDeath:        floatPtr(ev.Price.Float64()),
		SurvivalSeconds:     floatPtr(ev.SurvivalSeconds),
		IntentionType:       &intentionType,
		IIRValue:            &iirValue,
	})
}

func (s *compositeSink) OnWhaleTrade(ev market.WhaleTradeEvent) {
	s.broker.Publish("whale_trade", ev)
	s.notify.Broadcast(s.ctx, "whale_trade", ev)
}

func (s *compositeSink) OnAlgoDetected(ev market.AlgoDetectedEvent) {
	s.broker.Publish("algo_detected", ev)
	s.notify.Broadcast(s.ctx, "algo_detected", ev)
}

func (s *compositeSink) OnAccumulation(ev market.AccumulationEvent) {
	s.broker.Publish("accumulation", ev)
	s.notify.Broadcast(s.ctx, "accumulation", ev)
}

func (s *compositeSink) OnFeatureSnapshot(ev market.FeatureSnapshotEvent) {
	s.broker.Publish("feature_snapshot", ev)

	row := persistence.FeatureSnapshotRow{
		Symbol:             ev.Symbol,
		Time:               ev.Time,
		Price:              ev.Price,
		SpreadBps:          ev.SpreadBps,
		BookOFI:            ev.BookOFI,
		BookOBI:            ev.BookOBI,
		VPINScore:          ev.VPINScore,
		VPINReliable:       ev.VPINReliable,
		TotalGEX:           ev.TotalGEX,
		TotalGEXNormalized: ev.TotalGEXNormalized,
		BasisAPR:           ev.BasisAPR,
		OptionsSkew:        ev.OptionsSkew,
		SpoofingScore:      ev.SpoofingScore,
		SpreadZScore:       ev.SpreadZScore,
		OFIDepthEffective:  ev.OFIDepthEffective,
		WhaleCVD1h:         ev.WhaleCVD1h,
		WhaleCVD4h:         ev.WhaleCVD4h,
		WhaleCVD1d:         ev.WhaleCVD1d,
		WhaleCVD1w:         ev.WhaleCVD1w,
		DolphinCVD1h:       ev.DolphinCVD1h,
		MinnowCVD1h:        ev.MinnowCVD1h,
		WyckoffType:        ev.WyckoffType,
		WyckoffPattern:     ev.WyckoffPattern,
		WyckoffConfidence:  ev.WyckoffConfidence,
		ActiveIcebergCount: ev.ActiveIcebergCount,
		StrongZoneCount:    ev.StrongZoneCount,
	}
	s.writer.WriteFeatureSnapshot(s.ctx, row)
}

func (s *compositeSink) OnMarketMetrics(ev market.MarketMetricsEvent) {
	s.broker.Publish("market_metrics", ev)

	row := persistence.MarketMetricsRow{
		Time:                ev.Time,
		Symbol:              ev.Symbol,
		Price:               ev.Price,
		SpreadBps:           ev.SpreadBps,
		BookOFI:             ev.BookOFI,
		BookOBI:             ev.BookOBI,
		FlowWhaleCVDDelta:   ev.FlowWhaleCVDDelta,
		FlowDolphinCVDDelta: ev.FlowDolphinCVDDelta,
		FlowMinnowCVDDelta:  ev.FlowMinnowCVDDelta,
		WallWhaleVol:        ev.WallWhaleVol,
		WallDolphinVol:      ev.WallDolphinVol,
		BasisAPR:            ev.BasisAPR,
		OptionsSkew:         ev.OptionsSkew,
		OIDelta:             ev.OIDelta,
	}
	s.writer.WriteMarketMetrics(s.ctx, row)
}

func floatPtr(f float64) *float64 { return &f }
