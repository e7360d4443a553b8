// Package derivatives caches the GammaProfile, basis APR, and options skew
// external collaborators produce, with the TTL-30min single-writer/
// single-reader discipline spec.md §5 and §6 require. Grounded on the
// teacher's cache/redis.go TTL-cache pattern.
package derivatives

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"icebergflow-engine/market"
	"icebergflow-engine/marketerrors"
)

const ttl = 30 * time.Minute

// Cache wraps a Redis client with the derivatives read/refresh cycle. The
// refresher goroutine is the sole writer; the engine's derivatives loop
// (Engine.runDerivativesLoop) is the sole reader and pushes what it reads
// onto the LocalOrderBook, so no cross-task lock is needed beyond Redis's
// own atomicity.
type Cache struct {
	rdb *redis.Client
}

// New constructs a Cache against the given Redis address.
func New(addr, password string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func gammaKey(symbol string) string { return "gamma:" + symbol }
func basisKey(symbol string) string { return "basis:" + symbol }
func skewKey(symbol string) string  { return "skew:" + symbol }

// PutGammaProfile writes the latest GammaProfile with the spec's 30min TTL.
func (c *Cache) PutGammaProfile(ctx context.Context, symbol string, g market.GammaProfile) error {
	buf, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal gamma profile: %w", err)
	}
	if err := c.rdb.Set(ctx, gammaKey(symbol), buf, ttl).Err(); err != nil {
		return fmt.Errorf("write gamma profile to redis: %w", err)
	}
	return nil
}

// GammaProfile reads the cached GammaProfile. A cache miss or an unmarshal
// failure surfaces marketerrors.ErrStaleDerivatives — spec §7 treats stale
// derivatives as absent, never as a hard error.
func (c *Cache) GammaProfile(ctx context.Context, symbol string) (*market.GammaProfile, error) {
	raw, err := c.rdb.Get(ctx, gammaKey(symbol)).Bytes()
	if err != nil {
		return nil, marketerrors.ErrStaleDerivatives
	}
	var g market.GammaProfile
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, marketerrors.ErrStaleDerivatives
	}
	return &g, nil
}

// PutBasisAPR / PutOptionsSkew cache the scalar derivative metrics used by
// FeatureSnapshotRow/MarketMetricsRow, same TTL discipline.
func (c *Cache) PutBasisAPR(ctx context.Context, symbol string, apr float64) error {
	return c.rdb.Set(ctx, basisKey(symbol), apr, ttl).Err()
}

func (c *Cache) BasisAPR(ctx context.Context, symbol string) (float64, bool) {
	v, err := c.rdb.Get(ctx, basisKey(symbol)).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Cache) PutOptionsSkew(ctx context.Context, symbol string, skew float64) error {
	return c.rdb.Set(ctx, skewKey(symbol), skew, ttl).Err()
}

func (c *Cache) OptionsSkew(ctx context.Context, symbol string) (float64, bool) {
	v, err := c.rdb.Get(ctx, skewKey(symbol)).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// RefreshFunc fetches fresh derivative metrics for symbol from whatever
// external collaborator computes options Greeks; the engine supplies the
// implementation (out of scope per spec §1 beyond this interface boundary).
type RefreshFunc func(ctx context.Context, symbol string) (market.GammaProfile, float64, float64, error)

// RunRefresher periodically calls fetch and writes the results into the
// cache until ctx is cancelled, logging failures rather than crashing the
// periodic task (spec §5's cooperative-cancellation discipline).
func (c *Cache) RunRefresher(ctx context.Context, symbol string, interval time.Duration, fetch RefreshFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gamma, basis, skew, err := fetch(ctx, symbol)
			if err != nil {
				log.Printf("⚠️  derivatives refresh failed for %s: %v", symbol, err)
				continue
			}
			if err := c.PutGammaProfile(ctx, symbol, gamma); err != nil {
				log.Printf("⚠️  cache gamma profile for %s: %v", symbol, err)
			}
			if err := c.PutBasisAPR(ctx, symbol, basis); err != nil {
				log.Printf("⚠️  cache basis APR for %s: %v", symbol, err)
			}
			if err := c.PutOptionsSkew(ctx, symbol, skew); err != nil {
				log.Printf("⚠️  cache options skew for %s: %v", symbol, err)
			}
		}
	}
}
