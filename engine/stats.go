package engine

import "sync/atomic"

// Stats is the engine's module-level-free counter set (spec §9: "no module-
// level statistics/globals in the core; all counters live on the engine").
type Stats struct {
	GapDetected       atomic.Uint64
	StaleUpdate       atomic.Uint64
	NegativeDeltaT    atomic.Uint64
	UnreliableVPIN    atomic.Uint64
	StaleDerivatives  atomic.Uint64
	InvariantViolation atomic.Uint64
	DepthDropped      atomic.Uint64
	TradeDropped      atomic.Uint64
	Resyncs           atomic.Uint64
	DetectionsEmitted atomic.Uint64
}
