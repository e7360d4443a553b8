package engine

import "sync/atomic"

// State is the C10 state machine: INITIALIZING -> WARMING_UP -> RUNNING,
// and on resync RUNNING -> WARMING_UP -> RUNNING (spec §4.10).
type State int32

const (
	StateInitializing State = iota
	StateWarmingUp
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateWarmingUp:
		return "WARMING_UP"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// stateBox is an atomic State holder so the HTTP/metrics surface can read
// the engine's phase without taking the consumer-loop's locks.
type stateBox struct{ v atomic.Int32 }

func (b *stateBox) Load() State     { return State(b.v.Load()) }
func (b *stateBox) Store(s State)   { b.v.Store(int32(s)) }
