package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const (
	metricsStreamName = "METRICS"
	metricsSubject    = "metrics.scheduler"
)

// SweepStats aggregates the outcome counters of sweep ticks since the
// last metrics snapshot.
type SweepStats struct {
	Sweeps       int           `json:"sweeps"`
	DueTasks     int           `json:"due_tasks"`
	Closed       int           `json:"closed"`
	LockDenied   int           `json:"lock_denied"`
	CloseFailed  int           `json:"close_failed"`
	LastDuration time.Duration `json:"last_duration"`
}

// MetricsCollector samples host usage and sweep counters on an
// interval and publishes the snapshot for external collection.
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	mu    sync.Mutex
	stats SweepStats

	stop chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the metrics stream exists and starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	_, err := c.js.StreamInfo(metricsStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     metricsStreamName,
			Subjects: []string{"metrics.*"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		}, nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	c.logger.Info("Starting metrics collector",
		zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// RecordSweep accumulates one sweep tick's counters.
func (c *MetricsCollector) RecordSweep(due, closed, denied, failed int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Sweeps++
	c.stats.DueTasks += due
	c.stats.Closed += closed
	c.stats.LockDenied += denied
	c.stats.CloseFailed += failed
	c.stats.LastDuration = duration
}

// Snapshot returns the accumulated sweep counters.
func (c *MetricsCollector) Snapshot() SweepStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics()
		}
	}
}

// collectMetrics samples host usage and publishes a snapshot
func (c *MetricsCollector) collectMetrics() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	snapshot := struct {
		Timestamp   time.Time  `json:"timestamp"`
		CPUUsage    float64    `json:"cpu_usage"`
		MemoryUsage float64    `json:"memory_usage"`
		Sweep       SweepStats `json:"sweep"`
	}{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Sweep:       c.Snapshot(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("sweeps", snapshot.Sweep.Sweeps))
}
