// Package ingest defines the upstream adapter boundary (spec.md §6):
// depth/trade stream messages and REST snapshot fetches. The adapter
// internals (exchange-specific auth, reconnect-with-backoff, message
// framing) are explicitly out of scope per spec §1 — this package holds
// only the interface the engine depends on, plus a reference
// implementation thin enough to exercise the wiring in tests.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"icebergflow-engine/market"
	"icebergflow-engine/price"
)

// Source is what the engine depends on: two channels of parsed domain
// events and a snapshot fetcher for (re)sync. NETWORK_DROP recovery
// (reconnect-with-backoff) is the adapter's concern (spec §7); the engine
// only observes closed/replaced channels.
type Source interface {
	Depth() <-chan market.OrderBookUpdate
	Trades() <-chan market.TradeEvent
	FetchSnapshot(ctx context.Context) (market.Snapshot, error)
}

// wireLevel is the [price_str, qty_str] pair shape of spec §6.
type wireLevel [2]string

func (l wireLevel) toDomain() (market.PriceLevel, error) {
	p, err := price.NewPrice(l[0])
	if err != nil {
		return market.PriceLevel{}, fmt.Errorf("parse price_str %q: %w", l[0], err)
	}
	q, err := price.NewQty(l[1])
	if err != nil {
		return market.PriceLevel{}, fmt.Errorf("parse qty_str %q: %w", l[1], err)
	}
	return market.PriceLevel{Price: p, Qty: q}, nil
}

type wireDepthMessage struct {
	FirstUpdateID uint64      `json:"first_update_id"`
	FinalUpdateID uint64      `json:"final_update_id"`
	EventTimeMs   int64       `json:"event_time_ms"`
	Bids          []wireLevel `json:"bids"`
	Asks          []wireLevel `json:"asks"`
}

type wireTradeMessage struct {
	PriceStr     string `json:"price_str"`
	QuantityStr  string `json:"quantity_str"`
	IsBuyerMaker bool   `json:"is_buyer_maker"`
	EventTimeMs  int64  `json:"event_time_ms"`
	TradeID      *uint64 `json:"trade_id,omitempty"`
}

type wireSnapshotMessage struct {
	LastUpdateID uint64      `json:"last_update_id"`
	Bids         []wireLevel `json:"bids"`
	Asks         []wireLevel `json:"asks"`
}

func levelsToDomain(levels []wireLevel) ([]market.PriceLevel, error) {
	out := make([]market.PriceLevel, 0, len(levels))
	for _, l := range levels {
		lvl, err := l.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// WebSocketSource is a reference Source backed by a gorilla/websocket depth
// and trade stream plus a rate-limited REST snapshot fetch. Reconnect
// policy and exchange-specific framing beyond this minimal JSON contract
// are intentionally not implemented here (out of scope per spec §1).
type WebSocketSource struct {
	symbol      string
	depthCh     chan market.OrderBookUpdate
	tradeCh     chan market.TradeEvent
	snapshotURL string
	resyncLimit *rate.Limiter
}

// NewWebSocketSource constructs a source for symbol, dialing depthURL and
// tradeURL and fetching snapshots from snapshotURL. resyncPerMinute bounds
// how often FetchSnapshot may hit the REST endpoint, so a GAP_DETECTED
// storm cannot hammer it (SPEC_FULL §12).
func NewWebSocketSource(ctx context.Context, symbol, depthURL, tradeURL, snapshotURL string, resyncPerMinute int) (*WebSocketSource, error) {
	s := &WebSocketSource{
		symbol:      symbol,
		depthCh:     make(chan market.OrderBookUpdate, 4096),
		tradeCh:     make(chan market.TradeEvent, 4096),
		snapshotURL: snapshotURL,
		resyncLimit: rate.NewLimiter(rate.Limit(float64(resyncPerMinute)/60.0), resyncPerMinute),
	}
	if depthURL != "" {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, depthURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial depth stream: %w", err)
		}
		go s.readDepth(ctx, conn)
	}
	if tradeURL != "" {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, tradeURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial trade stream: %w", err)
		}
		go s.readTrades(ctx, conn)
	}
	return s, nil
}

func (s *WebSocketSource) Depth() <-chan market.OrderBookUpdate { return s.depthCh }
func (s *WebSocketSource) Trades() <-chan market.TradeEvent     { return s.tradeCh }

func (s *WebSocketSource) readDepth(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return // NETWORK_DROP: reconnect-with-backoff is the caller's concern
		}
		var msg wireDepthMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		bids, err := levelsToDomain(msg.Bids)
		if err != nil {
			continue
		}
		asks, err := levelsToDomain(msg.Asks)
		if err != nil {
			continue
		}
		u := market.OrderBookUpdate{
			Symbol:        s.symbol,
			FirstUpdateID: msg.FirstUpdateID,
			FinalUpdateID: msg.FinalUpdateID,
			EventTimeMs:   msg.EventTimeMs,
			Bids:          bids,
			Asks:          asks,
		}
		select {
		case s.depthCh <- u:
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebSocketSource) readTrades(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		p, err := price.NewPrice(msg.PriceStr)
		if err != nil {
			continue
		}
		q, err := price.NewQty(msg.QuantityStr)
		if err != nil {
			continue
		}
		t := market.TradeEvent{
			Symbol:       s.symbol,
			Price:        p,
			Quantity:     q,
			IsBuyerMaker: msg.IsBuyerMaker,
			EventTimeMs:  msg.EventTimeMs,
			TradeID:      msg.TradeID,
		}
		select {
		case s.tradeCh <- t:
		case <-ctx.Done():
			return
		}
	}
}

// FetchSnapshot is rate-limited so repeated resyncs cannot storm the REST
// endpoint; the fetch itself is left to a caller-supplied HTTP round trip
// in a production adapter. This reference source returns an empty book —
// real exchange connectivity is outside the core's scope.
func (s *WebSocketSource) FetchSnapshot(ctx context.Context) (market.Snapshot, error) {
	if err := s.resyncLimit.Wait(ctx); err != nil {
		return market.Snapshot{}, fmt.Errorf("resync rate limit: %w", err)
	}
	return market.Snapshot{Symbol: s.symbol, LastUpdateID: 0}, nil
}

var _ Source = (*WebSocketSource)(nil)
