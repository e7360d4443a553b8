package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireLevel_ToDomain_ParsesValidDecimalPair(t *testing.T) {
	lvl, err := wireLevel{"100.5", "2.25"}.toDomain()
	require.NoError(t, err)
	assert.Equal(t, 100.5, lvl.Price.Float64())
	assert.Equal(t, 2.25, lvl.Qty.Float64())
}

func TestWireLevel_ToDomain_RejectsGarbagePrice(t *testing.T) {
	_, err := wireLevel{"not-a-price", "1"}.toDomain()
	assert.Error(t, err)
}

func TestWireLevel_ToDomain_RejectsGarbageQty(t *testing.T) {
	_, err := wireLevel{"100", "not-a-qty"}.toDomain()
	assert.Error(t, err)
}

func TestLevelsToDomain_AggregatesAll(t *testing.T) {
	out, err := levelsToDomain([]wireLevel{{"100", "1"}, {"101", "2"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 101.0, out[1].Price.Float64())
}

func TestLevelsToDomain_StopsAtFirstError(t *testing.T) {
	_, err := levelsToDomain([]wireLevel{{"100", "1"}, {"bad", "2"}})
	assert.Error(t, err)
}

var upgrader = websocket.Upgrader{}

func wsEcho(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// hold the connection open briefly so the reader goroutine can drain it
		time.Sleep(100 * time.Millisecond)
	}))
}

func TestWebSocketSource_ReadDepth_ParsesAndDeliversUpdate(t *testing.T) {
	msg := `{"first_update_id":1,"final_update_id":2,"event_time_ms":1000,` +
		`"bids":[["100","1"]],"asks":[["101","1"]]}`
	srv := wsEcho(t, []string{msg})
	defer srv.Close()

	depthURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := NewWebSocketSource(ctx, "BTCUSDT", depthURL, "", "", 60)
	require.NoError(t, err)

	select {
	case u := <-src.Depth():
		assert.Equal(t, uint64(2), u.FinalUpdateID)
		require.Len(t, u.Bids, 1)
		assert.Equal(t, 100.0, u.Bids[0].Price.Float64())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a depth update to be delivered")
	}
}

func TestWebSocketSource_ReadTrades_ParsesAndDeliversTrade(t *testing.T) {
	msg := `{"price_str":"100.5","quantity_str":"0.3","is_buyer_maker":true,"event_time_ms":2000}`
	srv := wsEcho(t, []string{msg})
	defer srv.Close()

	tradeURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := NewWebSocketSource(ctx, "BTCUSDT", "", tradeURL, "", 60)
	require.NoError(t, err)

	select {
	case tr := <-src.Trades():
		assert.Equal(t, 100.5, tr.Price.Float64())
		assert.True(t, tr.IsBuyerMaker)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a trade to be delivered")
	}
}

func TestWebSocketSource_ReadDepth_SkipsUnparseableMessageWithoutCrashing(t *testing.T) {
	good := `{"first_update_id":1,"final_update_id":2,"event_time_ms":1000,"bids":[],"asks":[]}`
	srv := wsEcho(t, []string{"not json at all", good})
	defer srv.Close()

	depthURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := NewWebSocketSource(ctx, "BTCUSDT", depthURL, "", "", 60)
	require.NoError(t, err)

	select {
	case u := <-src.Depth():
		assert.Equal(t, uint64(2), u.FinalUpdateID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the well-formed message after the garbage one to still arrive")
	}
}

func TestFetchSnapshot_ReturnsEmptySnapshotForSymbol(t *testing.T) {
	ctx := context.Background()
	src, err := NewWebSocketSource(ctx, "BTCUSDT", "", "", "", 60)
	require.NoError(t, err)

	snap, err := src.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
}
