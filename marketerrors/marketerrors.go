// Package marketerrors defines the closed set of recoverable error kinds
// named in spec.md §7. They are sentinel errors checked with errors.Is, never
// surfaced to downstream consumers of detection events.
package marketerrors

import "errors"

var (
	// ErrGapDetected: an order-book diff skipped an update id. Recovered by
	// resync (REST snapshot + reconcile + warm-up).
	ErrGapDetected = errors.New("order book gap detected")

	// ErrStaleUpdate: a diff older than last_update_id. Silently skipped.
	ErrStaleUpdate = errors.New("stale order book update")

	// ErrNegativeDeltaT: a depth update arrived before the trade it should
	// follow. Silently skipped; counted for observability.
	ErrNegativeDeltaT = errors.New("negative delta-t: update precedes trade")

	// ErrUnreliableVPIN: insufficient buckets, dead spread, or a stale
	// bucket. Analyzers proceed without the VPIN adjustment.
	ErrUnreliableVPIN = errors.New("vpin unreliable")

	// ErrStaleDerivatives: cached basis/skew/GEX older than its TTL. Treated
	// as absent; no GEX adjustment applied.
	ErrStaleDerivatives = errors.New("derivatives cache stale")

	// ErrInvariantViolation: top-bid >= top-ask after an apply. Treated as
	// ErrGapDetected by the engine.
	ErrInvariantViolation = errors.New("order book invariant violated: best bid >= best ask")
)
