// Package price provides the fixed-point Price and Qty types used across the
// order-book and volume-accumulation hot path. Floats are never used here;
// they only appear at the derived-statistics boundary (confidence, VPIN, OFI,
// OBI) in the analyzer packages.
package price

import "github.com/shopspring/decimal"

func init() {
	decimal.DivisionPrecision = 24
}

// Decimal is the exact fixed-point representation shared by Price and Qty.
// Both are distinct named types over decimal.Decimal so a Price can never be
// passed where a Qty is expected (and vice versa) without an explicit cast.
type Decimal = decimal.Decimal

// Price is an exact price level. Never compared or accumulated as a float.
type Price struct{ d decimal.Decimal }

// Qty is an exact order-book or trade quantity.
type Qty struct{ d decimal.Decimal }

// Zero values.
var (
	ZeroPrice = Price{d: decimal.Zero}
	ZeroQty   = Qty{d: decimal.Zero}
)

// NewPrice parses a decimal string (as arrives on the wire in §6's
// `price_str`). An unparsable string is a boundary-input error, not a panic.
func NewPrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, err
	}
	return Price{d: d}, nil
}

// NewQty parses a decimal string (`qty_str`).
func NewQty(s string) (Qty, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Qty{}, err
	}
	return Qty{d: d}, nil
}

// PriceFromFloat and QtyFromFloat exist only for tests and for literal
// construction of config/default values; never call these on wire data.
func PriceFromFloat(f float64) Price { return Price{d: decimal.NewFromFloat(f)} }
func QtyFromFloat(f float64) Qty     { return Qty{d: decimal.NewFromFloat(f)} }

func (p Price) Decimal() decimal.Decimal { return p.d }
func (q Qty) Decimal() decimal.Decimal   { return q.d }

func (p Price) String() string { return p.d.String() }
func (q Qty) String() string   { return q.d.String() }

func (p Price) IsZero() bool { return p.d.IsZero() }
func (q Qty) IsZero() bool   { return q.d.IsZero() }

func (p Price) Float64() float64 { f, _ := p.d.Float64(); return f }
func (q Qty) Float64() float64   { f, _ := q.d.Float64(); return f }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }
func (q Qty) Equal(o Qty) bool     { return q.d.Equal(o.d) }

func (p Price) LessThan(o Price) bool    { return p.d.LessThan(o.d) }
func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }
func (p Price) LessOrEqual(o Price) bool { return p.d.LessThanOrEqual(o.d) }
func (p Price) GreaterOrEqual(o Price) bool {
	return p.d.GreaterThanOrEqual(o.d)
}

func (q Qty) LessThan(o Qty) bool    { return q.d.LessThan(o.d) }
func (q Qty) GreaterThan(o Qty) bool { return q.d.GreaterThan(o.d) }
func (q Qty) LessOrEqual(o Qty) bool { return q.d.LessThanOrEqual(o.d) }
func (q Qty) GreaterOrEqual(o Qty) bool {
	return q.d.GreaterThanOrEqual(o.d)
}

func (q Qty) Add(o Qty) Qty { return Qty{d: q.d.Add(o.d)} }
func (q Qty) Sub(o Qty) Qty { return Qty{d: q.d.Sub(o.d)} }

// Mul returns the USD notional of price*qty as a plain decimal (a derived
// value, not itself a Price or Qty).
func (p Price) Mul(q Qty) decimal.Decimal { return p.d.Mul(q.d) }

// DistancePct returns (p-ref)/ref as a float, used only in weighting formulas
// (OBI/OFI distance-from-mid, gamma-wall proximity) that are explicitly
// float-domain per spec §3.
func (p Price) DistancePct(ref Price) float64 {
	if ref.d.IsZero() {
		return 0
	}
	diff := p.d.Sub(ref.d)
	f, _ := diff.Div(ref.d).Float64()
	return f
}

// Mid returns the arithmetic mean of two prices, exact.
func Mid(a, b Price) Price {
	return Price{d: a.d.Add(b.d).Div(decimal.NewFromInt(2))}
}

// SmallestUnit returns the smallest representable decimal unit at the given
// exponent, used by invariant checks that must tolerate "within one ulp".
func SmallestUnit(exp int32) Qty {
	return Qty{d: decimal.New(1, exp)}
}

// MarshalJSON/UnmarshalJSON round-trip through the wire decimal string form
// (§6's `price_str`/`qty_str`) rather than the zero-exported-field default,
// so Price/Qty survive caching (derivatives) and persistence round trips.
func (p Price) MarshalJSON() ([]byte, error) { return p.d.MarshalJSON() }
func (p *Price) UnmarshalJSON(b []byte) error { return p.d.UnmarshalJSON(b) }
func (q Qty) MarshalJSON() ([]byte, error)    { return q.d.MarshalJSON() }
func (q *Qty) UnmarshalJSON(b []byte) error   { return q.d.UnmarshalJSON(b) }
