package persistence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"icebergflow-engine/metrics"
)

// Open dials Postgres via GORM with the teacher's connection-string shape
// and auto-migrates the three downstream tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&IcebergLifecycleRow{}, &FeatureSnapshotRow{}, &MarketMetricsRow{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

// Writer rate-limits detection-event persistence at 10 writes/sec/symbol
// (spec §4.10) while always writing feature snapshots (the in-memory state
// must stay internally consistent regardless of DB throttling).
type Writer struct {
	db *gorm.DB

	mu       sync.Mutex
	limiters map[string]ratelimit.Limiter
	perSec   int
}

// NewWriter constructs a Writer; perSec is the per-symbol detection-event
// write rate (default 10 per spec §4.10).
func NewWriter(db *gorm.DB, perSec int) *Writer {
	return &Writer{db: db, limiters: make(map[string]ratelimit.Limiter), perSec: perSec}
}

func (w *Writer) limiterFor(symbol string) ratelimit.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[symbol]
	if !ok {
		l = ratelimit.New(w.perSec)
		w.limiters[symbol] = l
	}
	return l
}

// WriteIcebergLifecycle persists a lifecycle row, rate-limited per symbol.
// Rather than block the consumer loop on the limiter, it checks
// non-blockingly and drops (counting the drop) when the budget is spent —
// persistence is best-effort, never a backpressure source on the hot path.
func (w *Writer) WriteIcebergLifecycle(ctx context.Context, row IcebergLifecycleRow) {
	if !w.tryTake(row.Symbol) {
		metrics.PersistenceThrottled.WithLabelValues(row.Symbol).Inc()
		return
	}
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("⚠️  persist iceberg lifecycle row for %s: %v", row.Symbol, err)
		return
	}
	metrics.PersistenceWrites.WithLabelValues(row.Symbol, "iceberg_lifecycle").Inc()
}

// WriteMarketMetrics persists a market-metrics row under the same throttle.
func (w *Writer) WriteMarketMetrics(ctx context.Context, row MarketMetricsRow) {
	if !w.tryTake(row.Symbol) {
		metrics.PersistenceThrottled.WithLabelValues(row.Symbol).Inc()
		return
	}
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("⚠️  persist market metrics row for %s: %v", row.Symbol, err)
		return
	}
	metrics.PersistenceWrites.WithLabelValues(row.Symbol, "market_metrics").Inc()
}

// WriteFeatureSnapshot always writes — feature snapshots are never
// throttled per spec §4.10 ("the in-memory feature snapshot is always
// captured to keep internal state consistent").
func (w *Writer) WriteFeatureSnapshot(ctx context.Context, row FeatureSnapshotRow) {
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("⚠️  persist feature snapshot for %s: %v", row.Symbol, err)
		return
	}
	metrics.PersistenceWrites.WithLabelValues(row.Symbol, "feature_snapshot").Inc()
}

// tryTake reports whether the symbol's budget currently allows a write,
// without blocking: it takes a slot only if the limiter would not have to
// sleep to honor it.
func (w *Writer) tryTake(symbol string) bool {
	l := w.limiterFor(symbol)
	before := time.Now()
	after := l.Take()
	return !after.After(before.Add(time.Millisecond))
}
