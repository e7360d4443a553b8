package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames_MatchWireContract(t *testing.T) {
	assert.Equal(t, "iceberg_lifecycle", IcebergLifecycleRow{}.TableName())
	assert.Equal(t, "feature_snapshot", FeatureSnapshotRow{}.TableName())
	assert.Equal(t, "market_metrics", MarketMetricsRow{}.TableName())
}
