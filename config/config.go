// Package config holds engine-wide environment configuration and the
// per-symbol AssetConfig registry (spec.md §6). Every analyzer receives its
// AssetConfig by value at construction; none of them retain global state —
// replacing the source's "dynamic configuration via optional parameters"
// pattern flagged in spec.md §9.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"icebergflow-engine/price"
)

// Config holds process-wide engine configuration, loaded from the
// environment the way the teacher's config.LoadFromEnv does.
type Config struct {
	// Postgres (persistence collaborator DSN)
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis (derivatives cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// API server
	APIPort int

	// Queues
	DepthQueueSize int
	TradeQueueSize int

	// Periodic task cadence
	IcebergCleanupIntervalSec     int
	DerivativesRefreshIntervalSec int

	// Persistence throttle (spec §4.10: 10 writes/sec/symbol)
	PersistWritesPerSecond int
}

// LoadFromEnv loads Config from the environment, falling back to literal
// defaults — mirrors config.LoadFromEnv in the teacher repo.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "icebergflow"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "icebergflow"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "icebergflow"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		APIPort: getEnvInt("API_PORT", 8090),

		DepthQueueSize: getEnvInt("DEPTH_QUEUE_SIZE", 4096),
		TradeQueueSize: getEnvInt("TRADE_QUEUE_SIZE", 4096),

		IcebergCleanupIntervalSec:     getEnvInt("ICEBERG_CLEANUP_INTERVAL_SEC", 60),
		DerivativesRefreshIntervalSec: getEnvInt("DERIVATIVES_REFRESH_INTERVAL_SEC", 300),

		PersistWritesPerSecond: getEnvInt("PERSIST_WRITES_PER_SECOND", 10),
	}
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// AssetConfig is the immutable per-symbol configuration of spec.md §6. It is
// passed by value to every analyzer constructor; no analyzer mutates it.
type AssetConfig struct {
	Symbol string

	DustThreshold price.Qty

	MinHiddenVolume price.Qty
	MinIcebergRatio float64

	GammaWallTolerancePct float64

	StaticWhaleThresholdUSD  float64
	StaticMinnowThresholdUSD float64
	MinWhaleFloorUSD         float64
	MinMinnowFloorUSD        float64

	SpoofingVolumeThreshold price.Qty
	BreachTolerancePct      float64

	LambdaDecay float64
	OFIDepth    int

	VPINBucketSize price.Qty

	NativeRefillMaxMs         int64
	SyntheticRefillMaxMs      int64
	SyntheticCutoffMs         float64
	SyntheticProbabilityDecay float64

	WarmupPeriodMs int64

	// ADV20dUSD is the 20-day average daily volume in USD, used by
	// iceberg.ClassifyIntention's Iceberg Impact Ratio (IIR = hidden_volume /
	// ADV20dUSD).
	ADV20dUSD float64
}

// Registry maps symbol -> AssetConfig, the "registry keyed by symbol" of
// spec §6. It is built once at startup and never mutated afterward.
type Registry struct {
	configs map[string]AssetConfig
}

// NewRegistry builds the registry with the literal BTCUSDT/ETHUSDT/SOLUSDT
// defaults named in spec.md §6, each overridable by env var.
func NewRegistry() *Registry {
	r := &Registry{configs: make(map[string]AssetConfig)}
	r.configs["BTCUSDT"] = AssetConfig{
		Symbol:                    "BTCUSDT",
		DustThreshold:             price.QtyFromFloat(getEnvFloat("BTCUSDT_DUST_THRESHOLD", 0.0001)),
		MinHiddenVolume:           price.QtyFromFloat(getEnvFloat("BTCUSDT_MIN_HIDDEN_VOLUME", 0.05)),
		MinIcebergRatio:           getEnvFloat("BTCUSDT_MIN_ICEBERG_RATIO", 0.30),
		GammaWallTolerancePct:     getEnvFloat("BTCUSDT_GAMMA_WALL_TOLERANCE_PCT", 0.0015),
		StaticWhaleThresholdUSD:   getEnvFloat("BTCUSDT_STATIC_WHALE_USD", 250_000),
		StaticMinnowThresholdUSD:  getEnvFloat("BTCUSDT_STATIC_MINNOW_USD", 5_000),
		MinWhaleFloorUSD:          getEnvFloat("BTCUSDT_MIN_WHALE_FLOOR_USD", 100_000),
		MinMinnowFloorUSD:         getEnvFloat("BTCUSDT_MIN_MINNOW_FLOOR_USD", 2_000),
		SpoofingVolumeThreshold:   price.QtyFromFloat(getEnvFloat("BTCUSDT_SPOOFING_VOLUME_THRESHOLD", 0.2)),
		BreachTolerancePct:        getEnvFloat("BTCUSDT_BREACH_TOLERANCE_PCT", 0.0005),
		LambdaDecay:               getEnvFloat("BTCUSDT_LAMBDA_DECAY", 0.10),
		OFIDepth:                  getEnvInt("BTCUSDT_OFI_DEPTH", 20),
		VPINBucketSize:            price.QtyFromFloat(getEnvFloat("BTCUSDT_VPIN_BUCKET_SIZE", 50)),
		NativeRefillMaxMs:         int64(getEnvInt("BTCUSDT_NATIVE_REFILL_MAX_MS", 5)),
		SyntheticRefillMaxMs:      int64(getEnvInt("BTCUSDT_SYNTHETIC_REFILL_MAX_MS", 50)),
		SyntheticCutoffMs:         getEnvFloat("BTCUSDT_SYNTHETIC_CUTOFF_MS", 30),
		SyntheticProbabilityDecay: getEnvFloat("BTCUSDT_SYNTHETIC_PROBABILITY_DECAY", 0.15),
		WarmupPeriodMs:            int64(getEnvInt("BTCUSDT_WARMUP_PERIOD_MS", 30_000)),
		ADV20dUSD:                 getEnvFloat("BTCUSDT_ADV_20D_USD", 20_000_000_000),
	}
	r.configs["ETHUSDT"] = AssetConfig{
		Symbol:                    "ETHUSDT",
		DustThreshold:             price.QtyFromFloat(getEnvFloat("ETHUSDT_DUST_THRESHOLD", 0.001)),
		MinHiddenVolume:           price.QtyFromFloat(getEnvFloat("ETHUSDT_MIN_HIDDEN_VOLUME", 0.5)),
		MinIcebergRatio:           getEnvFloat("ETHUSDT_MIN_ICEBERG_RATIO", 0.30),
		GammaWallTolerancePct:     getEnvFloat("ETHUSDT_GAMMA_WALL_TOLERANCE_PCT", 0.0020),
		StaticWhaleThresholdUSD:   getEnvFloat("ETHUSDT_STATIC_WHALE_USD", 150_000),
		StaticMinnowThresholdUSD:  getEnvFloat("ETHUSDT_STATIC_MINNOW_USD", 3_000),
		MinWhaleFloorUSD:          getEnvFloat("ETHUSDT_MIN_WHALE_FLOOR_USD", 60_000),
		MinMinnowFloorUSD:         getEnvFloat("ETHUSDT_MIN_MINNOW_FLOOR_USD", 1_000),
		SpoofingVolumeThreshold:   price.QtyFromFloat(getEnvFloat("ETHUSDT_SPOOFING_VOLUME_THRESHOLD", 2.0)),
		BreachTolerancePct:        getEnvFloat("ETHUSDT_BREACH_TOLERANCE_PCT", 0.0007),
		LambdaDecay:               getEnvFloat("ETHUSDT_LAMBDA_DECAY", 0.05),
		OFIDepth:                  getEnvInt("ETHUSDT_OFI_DEPTH", 30),
		VPINBucketSize:            price.QtyFromFloat(getEnvFloat("ETHUSDT_VPIN_BUCKET_SIZE", 500)),
		NativeRefillMaxMs:         int64(getEnvInt("ETHUSDT_NATIVE_REFILL_MAX_MS", 5)),
		SyntheticRefillMaxMs:      int64(getEnvInt("ETHUSDT_SYNTHETIC_REFILL_MAX_MS", 50)),
		SyntheticCutoffMs:         getEnvFloat("ETHUSDT_SYNTHETIC_CUTOFF_MS", 30),
		SyntheticProbabilityDecay: getEnvFloat("ETHUSDT_SYNTHETIC_PROBABILITY_DECAY", 0.15),
		WarmupPeriodMs:            int64(getEnvInt("ETHUSDT_WARMUP_PERIOD_MS", 30_000)),
		ADV20dUSD:                 getEnvFloat("ETHUSDT_ADV_20D_USD", 8_000_000_000),
	}
	r.configs["SOLUSDT"] = AssetConfig{
		Symbol:                    "SOLUSDT",
		DustThreshold:             price.QtyFromFloat(getEnvFloat("SOLUSDT_DUST_THRESHOLD", 0.01)),
		MinHiddenVolume:           price.QtyFromFloat(getEnvFloat("SOLUSDT_MIN_HIDDEN_VOLUME", 10)),
		MinIcebergRatio:           getEnvFloat("SOLUSDT_MIN_ICEBERG_RATIO", 0.30),
		GammaWallTolerancePct:     getEnvFloat("SOLUSDT_GAMMA_WALL_TOLERANCE_PCT", 0.0030),
		StaticWhaleThresholdUSD:   getEnvFloat("SOLUSDT_STATIC_WHALE_USD", 75_000),
		StaticMinnowThresholdUSD:  getEnvFloat("SOLUSDT_STATIC_MINNOW_USD", 1_500),
		MinWhaleFloorUSD:          getEnvFloat("SOLUSDT_MIN_WHALE_FLOOR_USD", 30_000),
		MinMinnowFloorUSD:         getEnvFloat("SOLUSDT_MIN_MINNOW_FLOOR_USD", 500),
		SpoofingVolumeThreshold:   price.QtyFromFloat(getEnvFloat("SOLUSDT_SPOOFING_VOLUME_THRESHOLD", 50)),
		BreachTolerancePct:        getEnvFloat("SOLUSDT_BREACH_TOLERANCE_PCT", 0.0010),
		LambdaDecay:               getEnvFloat("SOLUSDT_LAMBDA_DECAY", 0.03),
		OFIDepth:                  getEnvInt("SOLUSDT_OFI_DEPTH", 50),
		VPINBucketSize:            price.QtyFromFloat(getEnvFloat("SOLUSDT_VPIN_BUCKET_SIZE", 5000)),
		NativeRefillMaxMs:         int64(getEnvInt("SOLUSDT_NATIVE_REFILL_MAX_MS", 5)),
		SyntheticRefillMaxMs:      int64(getEnvInt("SOLUSDT_SYNTHETIC_REFILL_MAX_MS", 50)),
		SyntheticCutoffMs:         getEnvFloat("SOLUSDT_SYNTHETIC_CUTOFF_MS", 30),
		SyntheticProbabilityDecay: getEnvFloat("SOLUSDT_SYNTHETIC_PROBABILITY_DECAY", 0.15),
		WarmupPeriodMs:            int64(getEnvInt("SOLUSDT_WARMUP_PERIOD_MS", 30_000)),
		ADV20dUSD:                 getEnvFloat("SOLUSDT_ADV_20D_USD", 2_000_000_000),
	}
	return r
}

// Get returns the AssetConfig for symbol, and whether it is registered.
func (r *Registry) Get(symbol string) (AssetConfig, bool) {
	c, ok := r.configs[symbol]
	return c, ok
}

// Symbols returns every registered symbol.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.configs))
	for s := range r.configs {
		out = append(out, s)
	}
	return out
}
