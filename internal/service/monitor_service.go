package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Failure-rate bands for health classification, in percent.
const (
	queueUnhealthyRate = 25.0
	queueDegradedRate  = 10.0
	jobUnhealthyRate   = 15.0
	jobDegradedRate    = 5.0
)

// MonitorService aggregates job and queue metrics from the orchestrators.
// Producers push over bounded channels; a single consumer goroutine owns all
// map mutation, so concurrent orchestrators never touch shared maps directly.
type MonitorService struct {
	connection *ConnectionService
	cache      *CacheService
	inspector  *asynq.Inspector
	logger     *logger.Logger
	cfg        config.MonitorConfig

	jobCh   chan domain.JobMetrics
	queueCh chan domain.QueueMetrics

	mu           sync.RWMutex
	jobHistory   []domain.JobMetrics
	queueMetrics map[string]domain.QueueMetrics
	dropped      int64

	startTime time.Time
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMonitorService(conn *ConnectionService, cache *CacheService, inspector *asynq.Inspector, log *logger.Logger, cfg config.MonitorConfig) *MonitorService {
	return &MonitorService{
		connection:   conn,
		cache:        cache,
		inspector:    inspector,
		logger:       log,
		cfg:          cfg,
		jobCh:        make(chan domain.JobMetrics, 256),
		queueCh:      make(chan domain.QueueMetrics, 64),
		queueMetrics: make(map[string]domain.QueueMetrics),
		startTime:    time.Now(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the consumer goroutine plus the pruning and queue-collection
// tickers. Safe to call once; Stop shuts the background work down.
func (s *MonitorService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.consume(ctx)
	})
}

// Stop signals the consumer and waits for it to drain. A monitor that was
// never started has no consumer to wait on.
func (s *MonitorService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
	})
}

func (s *MonitorService) consume(ctx context.Context) {
	defer close(s.done)

	prune := time.NewTicker(s.cfg.PruneInterval)
	defer prune.Stop()
	collect := time.NewTicker(s.cfg.QueueMetricsInterval)
	defer collect.Stop()

	for {
		select {
		case <-s.stop:
			return
		case m := <-s.jobCh:
			s.mu.Lock()
			s.jobHistory = append(s.jobHistory, m)
			if len(s.jobHistory) > s.cfg.JobHistoryMaxEntries {
				s.jobHistory = s.jobHistory[len(s.jobHistory)-s.cfg.JobHistoryMaxEntries:]
			}
			s.mu.Unlock()
		case m := <-s.queueCh:
			s.mu.Lock()
			s.queueMetrics[m.QueueName] = m
			s.mu.Unlock()
		case <-prune.C:
			s.pruneJobHistory()
		case <-collect.C:
			s.collectQueueMetrics(ctx)
		}
	}
}

// TrackJobMetrics records one completed job attempt. Never blocks a worker;
// when the channel is full the sample is dropped and counted.
func (s *MonitorService) TrackJobMetrics(m domain.JobMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case s.jobCh <- m:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// TrackQueueMetrics overwrites the snapshot for one queue.
func (s *MonitorService) TrackQueueMetrics(m domain.QueueMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case s.queueCh <- m:
	default:
	}
}

func (s *MonitorService) pruneJobHistory() {
	cutoff := time.Now().Add(-s.cfg.JobHistoryMaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobHistory[:0]
	for _, m := range s.jobHistory {
		if m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	s.jobHistory = kept
}

// collectQueueMetrics refreshes per-queue snapshots from the queue engine.
func (s *MonitorService) collectQueueMetrics(ctx context.Context) {
	if s.inspector == nil {
		return
	}

	queues, err := s.inspector.Queues()
	if err != nil {
		s.logger.Warn(ctx, "failed to list queues", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for _, queue := range queues {
		info, err := s.inspector.GetQueueInfo(queue)
		if err != nil {
			continue
		}
		s.TrackQueueMetrics(queueMetricsFromInfo(info))
	}
}

// queueMetricsFromInfo maps an engine snapshot onto QueueMetrics. Processed
// counts failed attempts too, so completed is the successful remainder.
func queueMetricsFromInfo(info *asynq.QueueInfo) domain.QueueMetrics {
	completed := info.Processed - info.Failed
	if completed < 0 {
		completed = 0
	}
	return domain.QueueMetrics{
		QueueName:      info.Queue,
		JobCount:       info.Size,
		WaitingCount:   info.Pending,
		ActiveCount:    info.Active,
		CompletedCount: completed,
		FailedCount:    info.Failed,
		Timestamp:      time.Now(),
	}
}

// GenerateHealthReport derives the composite report from live metrics using
// worst-of-all-signals precedence.
func (s *MonitorService) GenerateHealthReport(ctx context.Context) domain.HealthReport {
	s.mu.RLock()
	history := make([]domain.JobMetrics, len(s.jobHistory))
	copy(history, s.jobHistory)
	queues := make(map[string]domain.QueueMetrics, len(s.queueMetrics))
	for name, m := range s.queueMetrics {
		queues[name] = m
	}
	s.mu.RUnlock()

	report := domain.HealthReport{
		Status:      domain.HealthHealthy,
		System:      s.systemHealth(),
		Queues:      make(map[string]domain.QueueHealth, len(queues)),
		GeneratedAt: time.Now(),
	}

	if s.connection != nil {
		report.Connection = s.connection.Stats()
		if !report.Connection.IsHealthy {
			report.Status = domain.HealthUnhealthy
			report.Recommendations = append(report.Recommendations,
				"database connection is unhealthy; check connectivity and pool saturation")
		}
	}

	for name, m := range queues {
		qh := classifyQueue(m)
		report.Queues[name] = qh
		if qh.Status.Worse(report.Status) {
			report.Status = qh.Status
		}
		switch qh.Status {
		case domain.HealthUnhealthy:
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("queue %q failure rate is %.1f%%; inspect recent failures and consider pausing producers", name, qh.FailureRate))
		case domain.HealthDegraded:
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("queue %q failure rate is %.1f%%; watch for escalation", name, qh.FailureRate))
		}
	}

	report.Jobs = classifyJobs(history)
	if report.Jobs.Status.Worse(report.Status) {
		report.Status = report.Jobs.Status
	}
	if report.Jobs.Status != domain.HealthHealthy {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("system-wide job failure rate is %.1f%%; review error classifications", report.Jobs.FailureRate))
	}

	report.Cache = s.cacheHealth()
	if report.Cache.Status.Worse(report.Status) {
		report.Status = report.Cache.Status
	}
	if s.cache != nil && !report.Cache.Connected {
		report.Recommendations = append(report.Recommendations,
			"cache is disconnected; jobs run uncached which increases database load")
	}

	if report.System.Status.Worse(report.Status) {
		report.Status = report.System.Status
	}

	return report
}

func classifyQueue(m domain.QueueMetrics) domain.QueueHealth {
	total := m.CompletedCount + m.FailedCount
	rate := 0.0
	if total > 0 {
		rate = float64(m.FailedCount) / float64(total) * 100
	}

	status := domain.HealthHealthy
	switch {
	case rate >= queueUnhealthyRate:
		status = domain.HealthUnhealthy
	case rate >= queueDegradedRate:
		status = domain.HealthDegraded
	}

	return domain.QueueHealth{
		Status:      status,
		FailureRate: rate,
		Metrics:     m,
	}
}

func classifyJobs(history []domain.JobMetrics) domain.JobHealth {
	total := len(history)
	failed := 0
	var totalDuration time.Duration
	for _, m := range history {
		if !m.Success {
			failed++
		}
		totalDuration += m.Duration
	}

	rate := 0.0
	var avg time.Duration
	if total > 0 {
		rate = float64(failed) / float64(total) * 100
		avg = totalDuration / time.Duration(total)
	}

	status := domain.HealthHealthy
	switch {
	case rate >= jobUnhealthyRate:
		status = domain.HealthUnhealthy
	case rate >= jobDegradedRate:
		status = domain.HealthDegraded
	}

	return domain.JobHealth{
		Status:      status,
		Total:       total,
		Failed:      failed,
		FailureRate: rate,
		AvgDuration: avg,
	}
}

func (s *MonitorService) cacheHealth() domain.CacheHealth {
	if s.cache == nil {
		return domain.CacheHealth{Status: domain.HealthHealthy}
	}

	connected := s.cache.IsConnected()
	status := domain.HealthHealthy
	if !connected {
		status = domain.HealthDegraded
	}

	return domain.CacheHealth{
		Status:    status,
		Connected: connected,
		HitRate:   s.cache.HitRate(),
		Stats:     s.cache.Stats(),
	}
}

func (s *MonitorService) systemHealth() domain.SystemHealth {
	health := domain.SystemHealth{
		Status:     domain.HealthHealthy,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.startTime),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health.CPUPercent = percents[0]
	}
	if stats, err := mem.VirtualMemory(); err == nil {
		health.MemoryPercent = stats.UsedPercent
	}

	if health.CPUPercent > 90 || health.MemoryPercent > 90 {
		health.Status = domain.HealthDegraded
	}

	return health
}
