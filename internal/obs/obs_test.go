package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewStats_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	stats := NewStats("demo_app", registry)

	stats.DispatcherQueueDepth.Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(stats.DispatcherQueueDepth))
}

func TestStats_ObserveUploadOutcome_IncrementsByOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	stats := NewStats("demo_app", registry)

	stats.ObserveUploadOutcome("baseline", "success")
	stats.ObserveUploadOutcome("baseline", "success")
	stats.ObserveUploadOutcome("baseline", "http_400")

	require.Equal(t, float64(2), testutil.ToFloat64(stats.UploadAttempts.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(stats.UploadAttempts.WithLabelValues("http_400")))
}

func TestStats_Unregister_RemovesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	stats := NewStats("demo_app", registry)

	stats.Unregister(registry)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}
