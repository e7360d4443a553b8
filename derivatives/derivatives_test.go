package derivatives

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySchemes_AreNamespacedBySymbolAndKind(t *testing.T) {
	assert.Equal(t, "gamma:BTCUSDT", gammaKey("BTCUSDT"))
	assert.Equal(t, "basis:BTCUSDT", basisKey("BTCUSDT"))
	assert.Equal(t, "skew:BTCUSDT", skewKey("BTCUSDT"))
	assert.NotEqual(t, gammaKey("BTCUSDT"), gammaKey("ETHUSDT"))
}
