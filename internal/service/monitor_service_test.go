package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

func newTestMonitor(t *testing.T, cfg config.MonitorConfig) *MonitorService {
	t.Helper()

	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.QueueMetricsInterval <= 0 {
		cfg.QueueMetricsInterval = time.Hour
	}
	if cfg.JobHistoryMaxAge <= 0 {
		cfg.JobHistoryMaxAge = time.Hour
	}
	if cfg.JobHistoryMaxEntries <= 0 {
		cfg.JobHistoryMaxEntries = 100
	}

	m := NewMonitorService(nil, nil, nil, logger.NewNop(), cfg)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func TestQueueMetricsFromInfo(t *testing.T) {
	// Processed already includes failed attempts; completed is the remainder,
	// so a 25% failure rate lands exactly on the unhealthy band.
	m := queueMetricsFromInfo(&asynq.QueueInfo{
		Queue:     "notes",
		Size:      7,
		Pending:   4,
		Active:    3,
		Processed: 100,
		Failed:    25,
	})

	assert.Equal(t, "notes", m.QueueName)
	assert.Equal(t, 7, m.JobCount)
	assert.Equal(t, 4, m.WaitingCount)
	assert.Equal(t, 3, m.ActiveCount)
	assert.Equal(t, 75, m.CompletedCount)
	assert.Equal(t, 25, m.FailedCount)
	assert.Equal(t, domain.HealthUnhealthy, classifyQueue(m).Status)

	clamped := queueMetricsFromInfo(&asynq.QueueInfo{Queue: "notes", Processed: 2, Failed: 5})
	assert.Equal(t, 0, clamped.CompletedCount)
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := NewMonitorService(nil, nil, nil, logger.NewNop(), config.MonitorConfig{})

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a monitor that was never started")
	}
}

func TestClassifyQueueBands(t *testing.T) {
	tests := []struct {
		completed int
		failed    int
		want      domain.HealthState
	}{
		{0, 0, domain.HealthHealthy},
		{100, 0, domain.HealthHealthy},
		{91, 9, domain.HealthHealthy},
		{90, 10, domain.HealthDegraded},
		{80, 20, domain.HealthDegraded},
		{75, 25, domain.HealthUnhealthy},
		{0, 10, domain.HealthUnhealthy},
	}

	for _, tt := range tests {
		qh := classifyQueue(domain.QueueMetrics{
			QueueName:      "notes",
			CompletedCount: tt.completed,
			FailedCount:    tt.failed,
		})
		assert.Equal(t, tt.want, qh.Status, "completed=%d failed=%d", tt.completed, tt.failed)
	}
}

func TestClassifyJobsBands(t *testing.T) {
	history := func(total, failed int) []domain.JobMetrics {
		out := make([]domain.JobMetrics, 0, total)
		for i := 0; i < total; i++ {
			out = append(out, domain.JobMetrics{
				Success:  i >= failed,
				Duration: 100 * time.Millisecond,
			})
		}
		return out
	}

	jh := classifyJobs(history(100, 2))
	assert.Equal(t, domain.HealthHealthy, jh.Status)
	assert.Equal(t, 100*time.Millisecond, jh.AvgDuration)

	jh = classifyJobs(history(100, 5))
	assert.Equal(t, domain.HealthDegraded, jh.Status)

	jh = classifyJobs(history(100, 15))
	assert.Equal(t, domain.HealthUnhealthy, jh.Status)
	assert.Equal(t, 15, jh.Failed)
	assert.InDelta(t, 15.0, jh.FailureRate, 0.001)

	jh = classifyJobs(nil)
	assert.Equal(t, domain.HealthHealthy, jh.Status)
	assert.Zero(t, jh.Total)
}

func TestHealthReportWorstOfAllSignals(t *testing.T) {
	m := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	report := m.GenerateHealthReport(ctx)
	assert.Equal(t, domain.HealthHealthy, report.Status)

	// One degraded queue pulls the whole report down.
	m.TrackQueueMetrics(domain.QueueMetrics{
		QueueName:      "ingredients",
		CompletedCount: 85,
		FailedCount:    15,
	})
	require.Eventually(t, func() bool {
		return m.GenerateHealthReport(ctx).Status == domain.HealthDegraded
	}, time.Second, time.Millisecond)

	report = m.GenerateHealthReport(ctx)
	assert.Equal(t, domain.HealthDegraded, report.Queues["ingredients"].Status)
	assert.NotEmpty(t, report.Recommendations)

	// An unhealthy queue outranks the degraded one.
	m.TrackQueueMetrics(domain.QueueMetrics{
		QueueName:      "images",
		CompletedCount: 50,
		FailedCount:    50,
	})
	require.Eventually(t, func() bool {
		return m.GenerateHealthReport(ctx).Status == domain.HealthUnhealthy
	}, time.Second, time.Millisecond)

	report = m.GenerateHealthReport(ctx)
	assert.Equal(t, domain.HealthDegraded, report.Queues["ingredients"].Status)
	assert.Equal(t, domain.HealthUnhealthy, report.Queues["images"].Status)
}

func TestHealthReportJobFailures(t *testing.T) {
	m := newTestMonitor(t, config.MonitorConfig{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.TrackJobMetrics(domain.JobMetrics{
			JobID:   fmt.Sprintf("job-%d", i),
			Success: i >= 2,
		})
	}

	require.Eventually(t, func() bool {
		return m.GenerateHealthReport(ctx).Jobs.Total == 10
	}, time.Second, time.Millisecond)

	report := m.GenerateHealthReport(ctx)
	assert.Equal(t, domain.HealthUnhealthy, report.Jobs.Status)
	assert.Equal(t, 2, report.Jobs.Failed)
	assert.InDelta(t, 20.0, report.Jobs.FailureRate, 0.001)
	assert.Equal(t, domain.HealthUnhealthy, report.Status)
}

func TestJobHistoryBounded(t *testing.T) {
	m := newTestMonitor(t, config.MonitorConfig{JobHistoryMaxEntries: 5})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.TrackJobMetrics(domain.JobMetrics{
			JobID:   fmt.Sprintf("job-%d", i),
			Success: true,
		})
	}

	require.Eventually(t, func() bool {
		total := m.GenerateHealthReport(ctx).Jobs.Total
		return total > 0 && total <= 5
	}, time.Second, time.Millisecond)

	// Once the consumer drains everything, exactly the cap remains.
	require.Eventually(t, func() bool {
		return m.GenerateHealthReport(ctx).Jobs.Total == 5
	}, time.Second, time.Millisecond)
}

func TestSystemHealthIncluded(t *testing.T) {
	m := newTestMonitor(t, config.MonitorConfig{})

	report := m.GenerateHealthReport(context.Background())
	assert.Positive(t, report.System.Goroutines)
	assert.False(t, report.GeneratedAt.IsZero())
}
