package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "INITIALIZING", StateInitializing.String())
	assert.Equal(t, "WARMING_UP", StateWarmingUp.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestStateBox_StoreLoadRoundTrip(t *testing.T) {
	var b stateBox
	b.Store(StateRunning)
	assert.Equal(t, StateRunning, b.Load())
}
