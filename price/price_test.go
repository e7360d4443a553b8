package price

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrice_ParsesDecimalString(t *testing.T) {
	p, err := NewPrice("42123.50")
	require.NoError(t, err)
	assert.Equal(t, "42123.5", p.String())
}

func TestNewPrice_RejectsGarbage(t *testing.T) {
	_, err := NewPrice("not-a-number")
	assert.Error(t, err)
}

func TestQty_AddSub(t *testing.T) {
	a := QtyFromFloat(1.5)
	b := QtyFromFloat(0.5)
	assert.True(t, a.Add(b).Equal(QtyFromFloat(2.0)))
	assert.True(t, a.Sub(b).Equal(QtyFromFloat(1.0)))
}

func TestPrice_DistancePct(t *testing.T) {
	ref := PriceFromFloat(100)
	above := PriceFromFloat(101)
	assert.InDelta(t, 0.01, above.DistancePct(ref), 1e-9)

	zero := PriceFromFloat(0)
	assert.Equal(t, 0.0, above.DistancePct(zero))
}

func TestMid(t *testing.T) {
	a := PriceFromFloat(100)
	b := PriceFromFloat(101)
	assert.True(t, Mid(a, b).Equal(PriceFromFloat(100.5)))
}

func TestPrice_JSONRoundTrip(t *testing.T) {
	p, err := NewPrice("12345.6789")
	require.NoError(t, err)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotEqual(t, "{}", string(b))

	var out Price
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, p.Equal(out))
}

func TestQty_JSONRoundTrip(t *testing.T) {
	q := QtyFromFloat(0.00012345)
	b, err := json.Marshal(q)
	require.NoError(t, err)

	var out Qty
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, q.Equal(out))
}

func TestPrice_Ordering(t *testing.T) {
	low := PriceFromFloat(10)
	high := PriceFromFloat(20)
	assert.True(t, low.LessThan(high))
	assert.True(t, high.GreaterThan(low))
	assert.True(t, low.LessOrEqual(low))
	assert.True(t, high.GreaterOrEqual(high))
}
