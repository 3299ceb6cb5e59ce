package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/testutil"
)

func TestMetricsCollector_RecordSweep(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	collector := NewMetricsCollector(js, time.Minute, zap.NewNop())

	collector.RecordSweep(5, 3, 1, 1, 120*time.Millisecond)
	collector.RecordSweep(2, 2, 0, 0, 80*time.Millisecond)

	stats := collector.Snapshot()
	assert.Equal(t, 2, stats.Sweeps)
	assert.Equal(t, 7, stats.DueTasks)
	assert.Equal(t, 5, stats.Closed)
	assert.Equal(t, 1, stats.LockDenied)
	assert.Equal(t, 1, stats.CloseFailed)
	assert.Equal(t, 80*time.Millisecond, stats.LastDuration)
}

func TestMetricsCollector_StartCreatesStream(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	collector := NewMetricsCollector(js, time.Hour, zap.NewNop())
	require.NoError(t, collector.Start(context.Background()))
	defer collector.Stop()

	info, err := js.StreamInfo(metricsStreamName)
	require.NoError(t, err)
	assert.Equal(t, metricsStreamName, info.Config.Name)
}
