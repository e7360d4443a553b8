package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReorderingBuffer_EmptyYieldsEmpty(t *testing.T) {
	b := New()
	assert.Empty(t, b.PopReady(1000, 50))
	assert.Equal(t, 0, b.Len())
}

func TestReorderingBuffer_OrdersByTimeThenPriorityThenSeq(t *testing.T) {
	b := New()
	b.Push(100, PriorityDepth, "depth@100")
	b.Push(100, PriorityTrade, "trade@100")
	b.Push(90, PriorityTrade, "trade@90")
	b.Push(100, PriorityTrade, "trade@100-second")

	ready := b.PopReady(1000, 0)
	require.Len(t, ready, 4)
	assert.Equal(t, "trade@90", ready[0].Value)
	assert.Equal(t, "trade@100", ready[1].Value)
	assert.Equal(t, "trade@100-second", ready[2].Value)
	assert.Equal(t, "depth@100", ready[3].Value)
}

func TestReorderingBuffer_PopReadyRespectsDelayWindow(t *testing.T) {
	b := New()
	b.Push(995, PriorityTrade, "just-in")
	b.Push(996, PriorityDepth, "not-yet")

	ready := b.PopReady(1000, 5)
	require.Len(t, ready, 1)
	assert.Equal(t, "just-in", ready[0].Value)
	assert.Equal(t, 1, b.Len())
}

// TestReorderingBuffer_GhostTradePrevention reproduces spec.md §8's scenario:
// a trade and the depth update it produced arrive out of stream order (depth
// first, by a few ms) but within the delay window; holding them guarantees
// both are popped together rather than the depth update draining alone and
// the iceberg analyzer losing the correlated refill.
func TestReorderingBuffer_GhostTradePrevention(t *testing.T) {
	b := New()
	b.Push(1003, PriorityDepth, "depth-after-trade")
	b.Push(1000, PriorityTrade, "trade")

	// Tick at 1001 with a 50ms delay: neither item is ready yet.
	assert.Empty(t, b.PopReady(1001, 50))

	// Once the delay window has elapsed past both event times, both are
	// released together, trade first.
	ready := b.PopReady(2000, 50)
	require.Len(t, ready, 2)
	assert.Equal(t, "trade", ready[0].Value)
	assert.Equal(t, "depth-after-trade", ready[1].Value)
}
