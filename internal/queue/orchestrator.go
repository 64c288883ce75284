package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/service"
	"github.com/orchids/recipe-pipeline/internal/telemetry"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Orchestrator carries the protocol shared by every stage handler: envelope
// extraction, health gating, status emission, metrics reporting, and the
// classified failure path.
type Orchestrator struct {
	errors     *service.ErrorService
	status     *service.StatusService
	monitor    *service.MonitorService
	connection *service.ConnectionService
	logger     *logger.Logger
}

func NewOrchestrator(errors *service.ErrorService, status *service.StatusService, monitor *service.MonitorService, connection *service.ConnectionService, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		errors:     errors,
		status:     status,
		monitor:    monitor,
		connection: connection,
		logger:     log,
	}
}

// envelope extracts the job identifiers the queue engine carries alongside
// the payload.
func envelope(ctx context.Context) (jobID string, retryCount int) {
	jobID, _ = asynq.GetTaskID(ctx)
	retryCount, _ = asynq.GetRetryCount(ctx)
	return jobID, retryCount
}

// ensureHealthy rejects work early when the persistence layer is down, before
// any stage-specific work starts.
func (o *Orchestrator) ensureHealthy(ctx context.Context) error {
	if o.connection == nil {
		return nil
	}
	if o.connection.IsHealthy() {
		return nil
	}
	if o.connection.CheckHealth(ctx) {
		return nil
	}
	return fmt.Errorf("%w: database connection unavailable", domain.ErrSystemUnhealthy)
}

// emit broadcasts a status event best-effort. Status traffic never blocks job
// progress; a failed emit is logged, not propagated.
func (o *Orchestrator) emit(ctx context.Context, event domain.StatusEvent) {
	if _, err := o.status.AddStatusEventAndBroadcast(ctx, event); err != nil {
		o.logger.Warn(ctx, "failed to emit status event", map[string]interface{}{
			"import_id": event.ImportID.String(),
			"status":    string(event.Status),
			"error":     err.Error(),
		})
	}
}

// finish reports a successful attempt to the monitor and telemetry.
func (o *Orchestrator) finish(ctx context.Context, queueName, jobID string, start time.Time) {
	duration := time.Since(start)
	telemetry.JobsProcessed.WithLabelValues(queueName).Inc()
	telemetry.JobDuration.WithLabelValues(queueName).Observe(duration.Seconds())
	if o.monitor != nil {
		o.monitor.TrackJobMetrics(domain.JobMetrics{
			JobID:     jobID,
			Duration:  duration,
			Success:   true,
			QueueName: queueName,
			Timestamp: time.Now(),
		})
	}
}

// fail is the single exit for a failed job: classify, enrich, log, report
// metrics, attempt a FAILED broadcast without masking the original error,
// then tell the queue engine whether to redeliver.
func (o *Orchestrator) fail(ctx context.Context, queueName, jobID string, retryCount int, start time.Time, event domain.StatusEvent, err error) error {
	jobErr := o.errors.Classify(err).WithJob(jobID, queueName, retryCount)

	o.logger.Error(ctx, "job failed", jobErr, map[string]interface{}{
		"queue":       queueName,
		"job_id":      jobID,
		"retry_count": retryCount,
		"kind":        string(jobErr.Kind),
	})

	telemetry.JobsFailed.WithLabelValues(queueName).Inc()
	if o.monitor != nil {
		o.monitor.TrackJobMetrics(domain.JobMetrics{
			JobID:     jobID,
			Duration:  time.Since(start),
			Success:   false,
			QueueName: queueName,
			Error:     jobErr.Message,
			Timestamp: time.Now(),
		})
	}

	o.status.NotifyFailure(ctx, event, jobErr)

	if o.errors.ShouldRetry(jobErr, retryCount) {
		return jobErr
	}
	return fmt.Errorf("%s: %w", jobErr.Error(), asynq.SkipRetry)
}

// validationFail short-circuits a malformed payload as a terminal failure
// without ever reaching stage work.
func (o *Orchestrator) validationFail(ctx context.Context, queueName, jobID string, event domain.StatusEvent, err error) error {
	jobErr := o.errors.ValidationFailure(err, queueName, nil)
	jobErr.JobID = jobID

	o.logger.Error(ctx, "job payload failed validation", jobErr, map[string]interface{}{
		"queue":  queueName,
		"job_id": jobID,
	})
	telemetry.JobsFailed.WithLabelValues(queueName).Inc()
	if o.monitor != nil {
		o.monitor.TrackJobMetrics(domain.JobMetrics{
			JobID:     jobID,
			Success:   false,
			QueueName: queueName,
			Error:     jobErr.Message,
			Timestamp: time.Now(),
		})
	}

	if event.ImportID != uuid.Nil {
		o.status.NotifyFailure(ctx, event, jobErr)
	}

	return fmt.Errorf("%s: %w", jobErr.Error(), asynq.SkipRetry)
}

// processLineBatches runs handle for every line, batchSize lines at a time.
// Writes within a batch fan out concurrently; batches run in order so
// progress counts stay monotonic. Per-line failures are counted, never fatal.
func (o *Orchestrator) processLineBatches(ctx context.Context, queueName string, lines []LinePayload, batchSize int, progress func(current, total int), handle func(ctx context.Context, line LinePayload) error) (errCount int) {
	if batchSize <= 0 {
		batchSize = 10
	}
	total := len(lines)

	for startIdx := 0; startIdx < total; startIdx += batchSize {
		endIdx := startIdx + batchSize
		if endIdx > total {
			endIdx = total
		}

		var batchErrs atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for _, line := range lines[startIdx:endIdx] {
			line := line
			g.Go(func() error {
				if err := handle(gctx, line); err != nil {
					batchErrs.Add(1)
					telemetry.LineErrors.WithLabelValues(queueName).Inc()
					o.logger.Warn(gctx, "line processing failed", map[string]interface{}{
						"queue":       queueName,
						"block_index": line.BlockIndex,
						"line_index":  line.LineIndex,
						"error":       err.Error(),
					})
				}
				return nil
			})
		}
		_ = g.Wait()
		errCount += int(batchErrs.Load())

		if progress != nil {
			progress(endIdx, total)
		}
	}

	return errCount
}

// completionMessage words the terminal status by whether line errors occurred.
func completionMessage(stage string, total, errCount int) string {
	if errCount == 0 {
		return fmt.Sprintf("%s completed: %d lines processed", stage, total)
	}
	return fmt.Sprintf("%s completed: %d lines processed, %d errors", stage, total, errCount)
}
