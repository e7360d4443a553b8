package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterFor_CachesOneLimiterPerSymbol(t *testing.T) {
	w := NewWriter(nil, 10)
	l1 := w.limiterFor("BTCUSDT")
	l2 := w.limiterFor("BTCUSDT")
	assert.Same(t, l1, l2)

	l3 := w.limiterFor("ETHUSDT")
	assert.NotSame(t, l1, l3)
}

func TestTryTake_FirstCallOnFreshLimiterSucceeds(t *testing.T) {
	w := NewWriter(nil, 10)
	require.True(t, w.tryTake("BTCUSDT"))
}
