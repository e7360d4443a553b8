// Command icebergd runs one TradingEngine per configured symbol: order-book
// reconstruction, iceberg/hidden-liquidity detection, flow-toxicity (VPIN),
// whale/cohort CVD tracking, Wyckoff accumulation detection, and
// anti-spoofing scoring, wired to Postgres/Redis/Prometheus/webhook/SSE
// collaborators the way the teacher's app/app.go wires its own.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"icebergflow-engine/api"
	"icebergflow-engine/config"
	"icebergflow-engine/derivatives"
	"icebergflow-engine/engine"
	"icebergflow-engine/ingest"
	"icebergflow-engine/market"
	"icebergflow-engine/notify"
	"icebergflow-engine/persistence"
)

func main() {
	cfg := config.LoadFromEnv()
	registry := config.NewRegistry()

	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName, cfg.DatabaseUser, cfg.DatabasePassword)
	db, err := persistence.Open(dsn)
	if err != nil {
		log.Fatalf("❌ open postgres: %v", err)
	}
	writer := persistence.NewWriter(db, cfg.PersistWritesPerSecond)

	derivCache := derivatives.New(fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort), cfg.RedisPassword)
	notifier := notify.NewManager()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines := make(map[string]*engine.Engine)
	broker := api.NewBroker()

	for _, symbol := range registry.Symbols() {
		assetCfg, _ := registry.Get(symbol)
		sink := &compositeSink{broker: broker, notify: notifier, writer: writer, ctx: ctx, adv20dUSD: assetCfg.ADV20dUSD}

		src, err := ingest.NewWebSocketSource(ctx, symbol, "", "", "", 6)
		if err != nil {
			log.Printf("⚠️  ingest source for %s unavailable: %v", symbol, err)
			continue
		}

		e := engine.New(assetCfg, cfg.DepthQueueSize, cfg.TradeQueueSize,
			cfg.IcebergCleanupIntervalSec, cfg.DerivativesRefreshIntervalSec,
			src.FetchSnapshot, sink, derivCache)
		engines[symbol] = e

		go forwardDepth(ctx, e, src)
		go forwardTrades(ctx, e, src)
		go func(symbol string, e *engine.Engine) {
			if err := e.Run(ctx); err != nil {
				log.Printf("❌ engine %s stopped: %v", symbol, err)
			}
		}(symbol, e)

		go derivCache.RunRefresher(ctx, symbol, time.Duration(cfg.DerivativesRefreshIntervalSec)*time.Second, fetchDerivatives)
	}

	server := api.NewServer(fmt.Sprintf(":%d", cfg.APIPort), broker, func() map[string]any {
		out := make(map[string]any, len(engines))
		for symbol, e := range engines {
			out[symbol] = map[string]any{"state": e.State().String()}
		}
		return out
	})
	if err := server.Start(); err != nil {
		log.Fatalf("❌ api server: %v", err)
	}
	log.Printf("🚀 icebergd listening on :%d", cfg.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  server shutdown: %v", err)
	}
}

func forwardDepth(ctx context.Context, e *engine.Engine, src interface {
	Depth() <-chan market.OrderBookUpdate
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-src.Depth():
			if !ok {
				return
			}
			e.PushDepth(u)
		}
	}
}

func forwardTrades(ctx context.Context, e *engine.Engine, src interface {
	Trades() <-chan market.TradeEvent
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-src.Trades():
			if !ok {
				return
			}
			e.PushTrade(t)
		}
	}
}

// fetchDerivatives is the external options-Greeks collaborator's interface
// boundary; computing GEX/basis/skew is out of scope per spec §1.
func fetchDerivatives(ctx context.Context, symbol string) (market.GammaProfile, float64, float64, error) {
	return market.GammaProfile{Symbol: symbol}, 0, 0, nil
}
