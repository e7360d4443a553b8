// Package iceberg implements C7, the central algorithm: refill detection
// split into a deterministic Native path and a sigmoid-weighted Synthetic
// path, followed by the three-phase GEX/VPIN/CVD confidence adjustment of
// spec.md §4.7.
package iceberg

import (
	"math"
	"time"

	"icebergflow-engine/config"
	"icebergflow-engine/market"
	"icebergflow-engine/orderbook"
	"icebergflow-engine/price"
)

// Analyzer holds no per-symbol mutable state of its own — every piece of
// state it reads or writes (active icebergs, the pending-check queue, the
// gamma/Wyckoff caches) lives on the LocalOrderBook it is given, consistent
// with spec §9's one-way dependency graph.
type Analyzer struct {
	cfg config.AssetConfig
}

// New constructs an Analyzer for the given AssetConfig.
func New(cfg config.AssetConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// OnTrade enqueues the pending refill check the workflow in spec §4.7
// describes: the visible quantity before the trade, so that a later depth
// update can be checked for recovery to (or past) that level.
func (a *Analyzer) OnTrade(book *orderbook.LocalOrderBook, trade market.TradeEvent, vpinScore *float64, vpinReliable bool, divType market.DivergenceType, divConf float64, nowMs int64) {
	isAsk := trade.IsAggressiveBuy() // a buy lifts the ask; a sell hits the bid
	vBefore := book.QtyAt(trade.Price, isAsk)
	side := market.SideBid
	if isAsk {
		side = market.SideAsk
	}
	book.EnqueuePendingCheck(orderbook.PendingCheck{
		Trade:          trade,
		VisibleBefore:  vBefore,
		TradeTime:      trade.EventTime(),
		Price:          trade.Price,
		Side:           side,
		VPINScore:      vpinScore,
		VPINReliable:   vpinReliable,
		DivergenceType: divType,
		DivergenceConf: divConf,
	}, nowMs)
}

// Detection is the result of a successful refill assertion, ready to be
// turned into a market.IcebergDetectedEvent and persisted by the caller.
type Detection struct {
	Price               price.Price
	IsAsk               bool
	HiddenVolume        price.Qty
	VisibleVolumeBefore price.Qty
	Confidence          float64
	IsGammaWall         bool
	IsMajor             bool
	TotalHiddenVolume   price.Qty
	RefillCount         int
}

// OnDepthUpdate drains every pending check at p and, for each one whose
// recovered visible quantity confirms a refill, runs the full native/
// synthetic classification and confidence adjustment. spreadZScore drives
// the regime adaptation of §4.7. The second return value counts checks
// rejected as NEGATIVE_DELTA_T (spec §7): the depth update arrived before
// the trade it was meant to confirm, which the ReorderingBuffer's delay
// window makes rare but does not rule out.
func (a *Analyzer) OnDepthUpdate(book *orderbook.LocalOrderBook, p price.Price, updateTime time.Time, nowMs int64, spreadZScore float64) ([]Detection, int) {
	checks := book.DrainMatchingChecks(p, updateTime, nowMs)
	if len(checks) == 0 {
		return nil, 0
	}

	var out []Detection
	var negativeDeltaT int
	for _, c := range checks {
		isAsk := c.Side.IsAsk()
		vAfter := book.QtyAt(p, isAsk)
		if vAfter.LessThan(c.VisibleBefore) {
			continue // depletion, not a refill
		}
		// hidden is the portion of the trade that could not have come from
		// the displayed book: the exchange matched more than v_before against
		// this level within the same trade report, which is only possible if
		// a hidden reserve behind the displayed clip absorbed the remainder.
		hidden := c.Trade.Quantity.Sub(c.VisibleBefore)
		qty := c.Trade.Quantity

		deltaMs := float64(updateTime.UnixMilli() - c.TradeTime.UnixMilli())
		if deltaMs < 0 {
			negativeDeltaT++
			continue
		}
		if deltaMs > float64(a.cfg.SyntheticRefillMaxMs) {
			continue // beyond synthetic_max, third-party order
		}

		bid, ask, _ := book.BestBidAsk()
		tol := orderbook.NewTolerance(book.Config(), bid.Float64(), ask.Float64())
		nativeMax := tol.NativeRefillMaxMs(spreadZScore)
		minRatio := tol.MinIcebergRatio(spreadZScore)

		var confidence float64
		switch {
		case deltaMs <= float64(nativeMax):
			conf, ok := a.nativePath(hidden, qty, minRatio)
			if !ok {
				continue
			}
			confidence = conf
		default:
			conf, ok := a.syntheticPath(hidden, qty, deltaMs)
			if !ok {
				continue
			}
			confidence = conf
		}

		confidence, isGammaWall, isMajor := a.adjustConfidence(book, p, isAsk, confidence, c, updateTime)
		confidence = clamp01(confidence)

		lvl := book.RegisterIceberg(p, hidden, isAsk, confidence, updateTime)

		out = append(out, Detection{
			Price:               p,
			IsAsk:               isAsk,
			HiddenVolume:        hidden,
			VisibleVolumeBefore: c.VisibleBefore,
			Confidence:          confidence,
			IsGammaWall:         isGammaWall,
			IsMajor:             isMajor,
			TotalHiddenVolume:   lvl.TotalHiddenVolume,
			RefillCount:         lvl.RefillCount,
		})
	}
	return out, negativeDeltaT
}

// nativePath: deterministic fast refill. hidden = qty - v_before must clear
// both the absolute and ratio floors.
func (a *Analyzer) nativePath(hidden, qty price.Qty, minRatio float64) (float64, bool) {
	if hidden.LessOrEqual(a.cfg.MinHiddenVolume) {
		return 0, false
	}
	if qty.IsZero() {
		return 0, false
	}
	ratio := hidden.Float64() / qty.Float64()
	if ratio <= minRatio {
		return 0, false
	}
	return 1.0, true
}

// syntheticPath: sigmoid-weighted probability of refill given Δt.
func (a *Analyzer) syntheticPath(hidden, qty price.Qty, deltaMs float64) (float64, bool) {
	if hidden.LessOrEqual(a.cfg.MinHiddenVolume) {
		return 0, false
	}
	alpha := a.cfg.SyntheticProbabilityDecay
	tau := a.cfg.SyntheticCutoffMs
	pRefill := 1.0 / (1.0 + math.Exp(alpha*(deltaMs-tau)))
	if pRefill < 0.2 {
		return 0, false
	}
	if qty.IsZero() {
		return 0, false
	}
	ratio := hidden.Float64() / qty.Float64()
	if ratio > 0.95 {
		ratio = 0.95
	}
	return ratio * pRefill, true
}

// adjustConfidence runs the three sequential GEX/VPIN/CVD phases of §4.7.
func (a *Analyzer) adjustConfidence(book *orderbook.LocalOrderBook, p price.Price, isAsk bool, confidence float64, c orderbook.PendingCheck, now time.Time) (adjusted float64, isGammaWall, isMajor bool) {
	adjusted = confidence

	if gp := book.GammaProfile(); gp != nil && gp.TotalGEXNormalized != nil {
		gexNorm := *gp.TotalGEXNormalized
		if math.Abs(gexNorm) > 0.10 {
			decay := 1.0
			if h := gp.HoursToExpiry(now); h < 2 {
				decay = h / 2
				if decay < 0 {
					decay = 0
				}
			}
			wallTol := p.Float64() * a.cfg.GammaWallTolerancePct
			onWall := math.Abs(p.Float64()-gp.CallWall.Float64()) < wallTol || math.Abs(p.Float64()-gp.PutWall.Float64()) < wallTol
			switch {
			case onWall && gexNorm > 0:
				adjusted *= 1 + 0.8*decay
				isGammaWall = true
				isMajor = true
			case onWall && gexNorm < 0:
				adjusted *= 1 + 0.3*decay
				isGammaWall = true
				isMajor = true
			case !onWall && gexNorm > 0:
				adjusted *= 1 + 0.2*decay
			case !onWall && gexNorm < 0:
				adjusted *= 1 - 0.25*decay
			}
		}
	}

	if c.VPINReliable && c.VPINScore != nil {
		v := *c.VPINScore
		switch {
		case v > 0.7:
			t := math.Min((v-0.7)/0.3, 1)
			adjusted *= 1 - t*0.45 // down to 0.55
		case v < 0.3:
			t := math.Min((0.3-v)/0.3, 1)
			adjusted *= 1 + t*0.20 // up to 1.20
		}
	}

	if c.DivergenceConf > 0.5 {
		aligned := (c.DivergenceType == market.DivergenceBullish && !isAsk) ||
			(c.DivergenceType == market.DivergenceBearish && isAsk)
		contradictory := (c.DivergenceType == market.DivergenceBullish && isAsk) ||
			(c.DivergenceType == market.DivergenceBearish && !isAsk)
		strength := math.Min((c.DivergenceConf-0.5)/0.5, 1)
		switch {
		case aligned:
			adjusted *= 1 + strength*0.25
			isMajor = true
		case contradictory:
			adjusted *= 1 - strength*0.15
		}
	}

	return adjusted, isGammaWall, isMajor
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

// IIR (Iceberg Impact Ratio) thresholds from the original's
// classify_intention: an iceberg's hidden volume relative to the symbol's
// 20-day average daily volume sorts it from noise-level scalping up through
// deliberate positional accumulation.
const (
	iirScalperMax  = 0.0001
	iirIntradayMax = 0.001
)

// ClassifyIntention buckets an iceberg's hidden volume into
// SCALPER/INTRADAY/POSITIONAL/UNKNOWN by its impact ratio against adv20dUSD
// (the 20-day average daily volume), mirroring the original's
// classify_intention. Returns "UNKNOWN" and iir=0 when adv20dUSD is
// unavailable.
func ClassifyIntention(hiddenVolumeUSD, adv20dUSD float64) (intentionType string, iir float64) {
	if adv20dUSD <= 0 {
		return "UNKNOWN", 0
	}
	iir = hiddenVolumeUSD / adv20dUSD
	switch {
	case iir < iirScalperMax:
		return "SCALPER", iir
	case iir < iirIntradayMax:
		return "INTRADAY", iir
	default:
		return "POSITIONAL", iir
	}
}
