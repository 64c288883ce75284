package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Database is the slice of pgxpool.Pool the connection manager needs.
type Database interface {
	Ping(ctx context.Context) error
	Close()
}

// ConnectionService wraps the persistence layer with health checks, a
// retry-with-backoff executor, and periodic health monitoring.
type ConnectionService struct {
	db          Database
	pool        *pgxpool.Pool
	logger      *logger.Logger
	maxRetries  int
	backoffBase time.Duration

	mu    sync.Mutex
	stats domain.ConnectionStats

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	monitorDone chan struct{}
}

func NewConnectionService(pool *pgxpool.Pool, log *logger.Logger, maxRetries int, backoffBase time.Duration) *ConnectionService {
	s := NewConnectionServiceWithDB(pool, log, maxRetries, backoffBase)
	s.pool = pool
	return s
}

// NewConnectionServiceWithDB accepts any Database, for tests that cannot
// stand up a real pool.
func NewConnectionServiceWithDB(db Database, log *logger.Logger, maxRetries int, backoffBase time.Duration) *ConnectionService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &ConnectionService{
		db:          db,
		logger:      log,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
	}
}

// CheckHealth issues a trivial round trip. It marks the connection healthy or
// unhealthy and records latency, but never returns an error itself.
func (s *ConnectionService) CheckHealth(ctx context.Context) bool {
	start := time.Now()
	err := s.db.Ping(ctx)
	latency := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastHealthCheck = time.Now()
	s.stats.LastLatency = latency

	if err != nil {
		s.stats.IsHealthy = false
		s.stats.ConnectionErrors++
		s.logger.Warn(ctx, "database health check failed", map[string]interface{}{
			"error":   err.Error(),
			"latency": latency.String(),
		})
		return false
	}

	s.stats.IsHealthy = true
	return true
}

func (s *ConnectionService) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.IsHealthy
}

// ExecuteWithRetry runs operation, retrying only connection-shaped failures
// with a base*attempt delay. Non-connection errors and exhausted retries
// return the last error unchanged.
func (s *ConnectionService) ExecuteWithRetry(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsConnectionError(lastErr.Error()) {
			return lastErr
		}
		if attempt == s.maxRetries {
			break
		}

		delay := s.backoffBase * time.Duration(attempt)
		s.logger.Warn(ctx, "retrying operation after connection error", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// StartMonitoring begins periodic health checks and stats refreshes. Starting
// again first stops any prior interval.
func (s *ConnectionService) StartMonitoring(ctx context.Context, interval time.Duration) {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()

	s.stopMonitorLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	s.monitorStop = stop
	s.monitorDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.CheckHealth(ctx)
				s.refreshStats()
			}
		}
	}()

	s.logger.Info(ctx, "connection health monitoring started", map[string]interface{}{
		"interval": interval.String(),
	})
}

func (s *ConnectionService) StopMonitoring() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	s.stopMonitorLocked()
}

func (s *ConnectionService) stopMonitorLocked() {
	if s.monitorStop == nil {
		return
	}
	close(s.monitorStop)
	<-s.monitorDone
	s.monitorStop = nil
	s.monitorDone = nil
}

func (s *ConnectionService) refreshStats() {
	if s.pool == nil {
		return
	}
	stat := s.pool.Stat()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalConnections = int(stat.TotalConns())
	s.stats.ActiveConnections = int(stat.AcquiredConns())
	s.stats.IdleConnections = int(stat.IdleConns())
	s.stats.MaxConnections = int(stat.MaxConns())
}

// Stats returns a copy; callers cannot mutate the live counters.
func (s *ConnectionService) Stats() domain.ConnectionStats {
	s.refreshStats()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Shutdown stops monitoring and releases the connection. It always completes;
// nothing here is allowed to propagate.
func (s *ConnectionService) Shutdown(ctx context.Context) {
	s.StopMonitoring()
	s.db.Close()
	s.logger.Info(ctx, "database connection closed", nil)
}
