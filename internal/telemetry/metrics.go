package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_processed_total", Help: "Jobs completed successfully"}, []string{"queue"})
	JobsFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_failed_total", Help: "Jobs that failed"}, []string{"queue"})
	LineErrors    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_line_errors_total", Help: "Line-level parse failures recovered in place"}, []string{"queue"})
	JobDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "pipeline_job_duration_seconds", Help: "Job processing duration"}, []string{"queue"})
	CacheHits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_cache_hits_total", Help: "Cache hits"})
	CacheMisses   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_cache_misses_total", Help: "Cache misses"})
	ObserverGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_observers_connected", Help: "Connected websocket observers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsProcessed,
			JobsFailed,
			LineErrors,
			JobDuration,
			CacheHits,
			CacheMisses,
			ObserverGauge,
		)
	})
	return promhttp.Handler()
}
