package metricsdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/storage"
)

func newTestDB() *Database {
	return New(storage.NewMemoryStore(), storage.NewMemoryStore(), storage.NewMemoryStore(), nil)
}

func counterMeta(id string) metric.Metadata {
	return metric.Metadata{Name: id, Kind: metric.KindCounter, Lifetime: metric.LifetimePing, SendInPings: []string{"metrics"}}
}

func TestDatabase_RecordAndGetMetric(t *testing.T) {
	db := newTestDB()
	meta := counterMeta("clicks")

	err := db.Transform(meta, func(current any) (any, error) {
		cur, _ := current.(int64)
		return cur + 1, nil
	})
	require.NoError(t, err)

	v, ok := db.GetMetric("metrics", meta)
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

func TestDatabase_GetMetric_Missing(t *testing.T) {
	db := newTestDB()
	_, ok := db.GetMetric("metrics", counterMeta("never_recorded"))
	require.False(t, ok)
}

func TestDatabase_UploadDisabled_BlocksNonAllowlisted(t *testing.T) {
	db := newTestDB()
	db.SetUploadEnabled(false)
	meta := counterMeta("clicks")

	err := db.Record(meta, int64(5))
	require.NoError(t, err)

	_, ok := db.GetMetric("metrics", meta)
	require.False(t, ok)
}

func TestDatabase_UploadDisabled_AllowsClientID(t *testing.T) {
	db := newTestDB()
	db.SetUploadEnabled(false)
	meta := metric.Metadata{Name: "client_id", Kind: metric.KindUUID, Lifetime: metric.LifetimeUser, SendInPings: []string{"metrics"}}

	err := db.Record(meta, "123e4567-e89b-12d3-a456-426614174000")
	require.NoError(t, err)

	v, ok := db.GetMetric("metrics", meta)
	require.True(t, ok)
	require.Equal(t, "123e4567-e89b-12d3-a456-426614174000", v)
}

func TestDatabase_GetPingMetrics_UnfoldsLabeled(t *testing.T) {
	db := newTestDB()
	base := metric.Metadata{Category: "net", Name: "error", Kind: metric.KindCounter, Lifetime: metric.LifetimePing, SendInPings: []string{"metrics"}}

	labelA := base
	labelA.IsLabeled, labelA.Label = true, "timeout"
	labelB := base
	labelB.IsLabeled, labelB.Label = true, "dns"

	require.NoError(t, db.Record(labelA, int64(2)))
	require.NoError(t, db.Record(labelB, int64(5)))

	result := db.GetPingMetrics("metrics", false)
	labeled, ok := result["labeled_counter"]
	require.True(t, ok)
	byLabel, ok := labeled["net.error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, int64(2), byLabel["timeout"])
	require.Equal(t, int64(5), byLabel["dns"])
}

func TestDatabase_GetPingMetrics_SkipsReservedIdentifiers(t *testing.T) {
	db := newTestDB()
	internalMeta := metric.Metadata{Name: metric.ReservedPrefix + "seq", Kind: metric.KindCounter, Lifetime: metric.LifetimePing, SendInPings: []string{"metrics"}}
	require.NoError(t, db.Record(internalMeta, int64(1)))

	result := db.GetPingMetrics("metrics", false)
	require.Empty(t, result)
}

func TestDatabase_GetPingMetrics_ClearsPingLifetimeAfterward(t *testing.T) {
	db := newTestDB()
	meta := counterMeta("clicks")
	require.NoError(t, db.Record(meta, int64(1)))

	result := db.GetPingMetrics("metrics", true)
	require.Equal(t, int64(1), result["counter"]["clicks"])

	_, ok := db.GetMetric("metrics", meta)
	require.False(t, ok)
}

func TestDatabase_ClearDoesNotAffectOtherLifetimes(t *testing.T) {
	db := newTestDB()
	pingMeta := counterMeta("clicks")
	userMeta := metric.Metadata{Name: "client_id", Kind: metric.KindUUID, Lifetime: metric.LifetimeUser, SendInPings: []string{"metrics"}}

	require.NoError(t, db.Record(pingMeta, int64(1)))
	require.NoError(t, db.Record(userMeta, "123e4567-e89b-12d3-a456-426614174000"))

	require.NoError(t, db.Clear(metric.LifetimePing, ""))

	_, ok := db.GetMetric("metrics", pingMeta)
	require.False(t, ok)
	_, ok = db.GetMetric("metrics", userMeta)
	require.True(t, ok)
}

func TestDatabase_DatetimeValueSurvivesPingMetricsUnfold(t *testing.T) {
	db := newTestDB()
	meta := metric.Metadata{Name: "install_time", Kind: metric.KindDatetime, Lifetime: metric.LifetimePing, SendInPings: []string{"metrics"}}

	err := db.Record(meta, map[string]any{
		"unix_nano":      float64(1000),
		"unit":           "second",
		"offset_minutes": float64(0),
	})
	require.NoError(t, err)

	result := db.GetPingMetrics("metrics", false)
	_, ok := result["datetime"]["install_time"].(string)
	require.True(t, ok)
}
