package orderbook

import (
	"sort"

	"icebergflow-engine/market"
	"icebergflow-engine/price"
)

// bookSide is a price-ordered slice of levels — bids are kept descending,
// asks ascending — so the top of book and the top-N snapshot used for OFI
// are always a plain slice prefix, never requiring a sort on the hot path.
type bookSide struct {
	descending bool
	levels     []market.PriceLevel
}

func newBookSide(descending bool) *bookSide {
	return &bookSide{descending: descending}
}

func (s *bookSide) less(a, b price.Price) bool {
	if s.descending {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (s *bookSide) find(p price.Price) (int, bool) {
	idx := sort.Search(len(s.levels), func(i int) bool {
		return !s.less(s.levels[i].Price, p) // first index whose price is not "better" than p
	})
	if idx < len(s.levels) && s.levels[idx].Price.Equal(p) {
		return idx, true
	}
	return idx, false
}

// Set inserts or overwrites the level at p. A zero qty is a no-op here —
// callers route qty==0 to Delete per spec.md §3's "qty==0 deletes the level".
func (s *bookSide) Set(p price.Price, q price.Qty) {
	idx, found := s.find(p)
	if found {
		s.levels[idx].Qty = q
		return
	}
	s.levels = append(s.levels, market.PriceLevel{})
	copy(s.levels[idx+1:], s.levels[idx:])
	s.levels[idx] = market.PriceLevel{Price: p, Qty: q}
}

// Delete removes the level at p, if present.
func (s *bookSide) Delete(p price.Price) {
	idx, found := s.find(p)
	if !found {
		return
	}
	s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
}

// Qty returns the visible quantity at p, or zero if the level is absent.
func (s *bookSide) Qty(p price.Price) price.Qty {
	idx, found := s.find(p)
	if !found {
		return price.ZeroQty
	}
	return s.levels[idx].Qty
}

// Best returns the top-of-book level.
func (s *bookSide) Best() (market.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return market.PriceLevel{}, false
	}
	return s.levels[0], true
}

// Top returns a copy of the first n levels (the "peekitem" snapshot of
// spec.md §4.3), without sorting — the slice is already ordered.
func (s *bookSide) Top(n int) []market.PriceLevel {
	if n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]market.PriceLevel, n)
	copy(out, s.levels[:n])
	return out
}

// Replace clears and rebuilds the side from a snapshot's levels, sorting
// once (apply_snapshot is not a hot-path call).
func (s *bookSide) Replace(levels []market.PriceLevel) {
	s.levels = append([]market.PriceLevel(nil), levels...)
	sort.Slice(s.levels, func(i, j int) bool { return s.less(s.levels[i].Price, s.levels[j].Price) })
}

func (s *bookSide) Len() int { return len(s.levels) }
