package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// connectionPatterns are message substrings that mark a failure as
// connection-shaped and therefore worth redelivering.
var connectionPatterns = []string{
	"connection",
	"timeout",
	"timed out",
	"econnrefused",
	"econnreset",
	"etimedout",
	"enotfound",
	"dial tcp",
	"broken pipe",
	"reset by peer",
	"no such host",
	"network is unreachable",
	"too many clients",
	"i/o timeout",
}

var databasePatterns = []string{
	"pgx",
	"postgres",
	"sql",
	"deadlock",
	"constraint",
	"relation",
	"unique violation",
}

var externalServicePatterns = []string{
	"redis",
	"cache",
	"s3",
	"upload",
	"http",
	"service unavailable",
	"bad gateway",
}

// ErrorService classifies failures, decides retry eligibility, and computes
// backoff. Every orchestrator routes its failures through it.
type ErrorService struct {
	logger      *logger.Logger
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewErrorService(log *logger.Logger, maxRetries int, backoffBase, backoffMax time.Duration) *ErrorService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if backoffMax < backoffBase {
		backoffMax = 30 * time.Second
	}
	return &ErrorService{
		logger:      log,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

func (s *ErrorService) MaxRetries() int {
	return s.maxRetries
}

// Classify maps an arbitrary failure onto the error taxonomy using message
// pattern heuristics. Already classified errors pass through unchanged.
func (s *ErrorService) Classify(err error) *domain.JobError {
	if err == nil {
		return nil
	}

	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || matchesAny(msg, connectionPatterns):
		return domain.NewJobError(err, domain.ErrorKindExternalService, domain.SeverityHigh, nil)
	case matchesAny(msg, databasePatterns):
		return domain.NewJobError(err, domain.ErrorKindDatabase, domain.SeverityHigh, nil)
	case matchesAny(msg, externalServicePatterns):
		return domain.NewJobError(err, domain.ErrorKindExternalService, domain.SeverityMedium, nil)
	case errors.Is(err, domain.ErrInvalidPayload):
		return domain.NewJobError(err, domain.ErrorKindValidation, domain.SeverityMedium, nil)
	default:
		return domain.NewJobError(err, domain.ErrorKindUnknown, domain.SeverityHigh, nil)
	}
}

// ShouldRetry reports whether the queue substrate should redeliver the job.
// Validation and parsing failures are terminal; connection-shaped database
// and external-service failures retry while attempts remain.
func (s *ErrorService) ShouldRetry(jobErr *domain.JobError, attemptCount int) bool {
	if jobErr == nil {
		return false
	}
	if attemptCount >= s.maxRetries {
		return false
	}

	switch jobErr.Kind {
	case domain.ErrorKindExternalService:
		return true
	case domain.ErrorKindDatabase:
		return IsConnectionError(jobErr.Message)
	case domain.ErrorKindUnknown:
		return IsConnectionError(jobErr.Message)
	default:
		return false
	}
}

// Backoff returns the delay before the next attempt: base*attempt, capped.
func (s *ErrorService) Backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	delay := s.backoffBase * time.Duration(attemptCount)
	if delay > s.backoffMax {
		return s.backoffMax
	}
	return delay
}

// WithErrorHandling runs fn and, on failure, classifies, logs, and returns a
// structured error with extra context merged in. It is the mandatory wrapper
// around every external call made inside an orchestrator.
func (s *ErrorService) WithErrorHandling(ctx context.Context, fn func() error, contextFields map[string]interface{}) error {
	err := fn()
	if err == nil {
		return nil
	}

	jobErr := s.Classify(err)
	if jobErr.Context == nil {
		jobErr.Context = make(map[string]interface{}, len(contextFields))
	}
	for k, v := range contextFields {
		jobErr.Context[k] = v
	}

	s.logger.Error(ctx, "operation failed", jobErr, map[string]interface{}{
		"kind":     string(jobErr.Kind),
		"severity": string(jobErr.Severity),
		"context":  jobErr.Context,
	})

	return jobErr
}

// ValidationFailure builds a terminal validation error for a malformed
// payload. Jobs failing here are never retried.
func (s *ErrorService) ValidationFailure(err error, queueName string, contextFields map[string]interface{}) *domain.JobError {
	jobErr := domain.NewJobError(err, domain.ErrorKindValidation, domain.SeverityMedium, contextFields)
	jobErr.QueueName = queueName
	return jobErr
}

// IsConnectionError reports whether msg matches a connection-error pattern.
func IsConnectionError(msg string) bool {
	return matchesAny(strings.ToLower(msg), connectionPatterns)
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
