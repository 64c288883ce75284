package domain

import "time"

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Worse reports whether a is a worse state than b, for worst-of-all-signals
// precedence (unhealthy > degraded > healthy).
func (a HealthState) Worse(b HealthState) bool {
	rank := map[HealthState]int{HealthHealthy: 0, HealthDegraded: 1, HealthUnhealthy: 2}
	return rank[a] > rank[b]
}

type ConnectionStats struct {
	TotalConnections  int           `json:"total_connections"`
	ActiveConnections int           `json:"active_connections"`
	IdleConnections   int           `json:"idle_connections"`
	MaxConnections    int           `json:"max_connections"`
	ConnectionErrors  int64         `json:"connection_errors"`
	LastHealthCheck   time.Time     `json:"last_health_check"`
	LastLatency       time.Duration `json:"last_latency"`
	IsHealthy         bool          `json:"is_healthy"`
}

type CacheStats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Keys      int64     `json:"keys"`
	Memory    int64     `json:"memory"`
	LastReset time.Time `json:"last_reset"`
}

type QueueMetrics struct {
	QueueName      string    `json:"queue_name"`
	JobCount       int       `json:"job_count"`
	WaitingCount   int       `json:"waiting_count"`
	ActiveCount    int       `json:"active_count"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	Timestamp      time.Time `json:"timestamp"`
}

type JobMetrics struct {
	JobID      string        `json:"job_id"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	QueueName  string        `json:"queue_name,omitempty"`
	WorkerName string        `json:"worker_name,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

type SystemHealth struct {
	Status        HealthState   `json:"status"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	Goroutines    int           `json:"goroutines"`
	Uptime        time.Duration `json:"uptime"`
}

type QueueHealth struct {
	Status      HealthState  `json:"status"`
	FailureRate float64      `json:"failure_rate"`
	Metrics     QueueMetrics `json:"metrics"`
}

type JobHealth struct {
	Status      HealthState   `json:"status"`
	Total       int           `json:"total"`
	Failed      int           `json:"failed"`
	FailureRate float64       `json:"failure_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

type CacheHealth struct {
	Status    HealthState `json:"status"`
	Connected bool        `json:"connected"`
	HitRate   float64     `json:"hit_rate"`
	Stats     CacheStats  `json:"stats"`
}

// HealthReport is derived on demand from live metrics, never stored.
type HealthReport struct {
	Status          HealthState            `json:"status"`
	System          SystemHealth           `json:"system"`
	Connection      ConnectionStats        `json:"connection"`
	Queues          map[string]QueueHealth `json:"queues"`
	Jobs            JobHealth              `json:"jobs"`
	Cache           CacheHealth            `json:"cache"`
	Recommendations []string               `json:"recommendations"`
	GeneratedAt     time.Time              `json:"generated_at"`
}
