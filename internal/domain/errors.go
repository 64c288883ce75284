package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrInvalidPayload  = errors.New("invalid job payload")
	ErrSystemUnhealthy = errors.New("system is unhealthy")
	ErrCacheMiss       = errors.New("cache miss")
	ErrEmptyCacheKey   = errors.New("cache key must not be empty")
)

type ErrorKind string

const (
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindDatabase        ErrorKind = "database"
	ErrorKindExternalService ErrorKind = "external_service"
	ErrorKindParsing         ErrorKind = "parsing"
	ErrorKindUnknown         ErrorKind = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// JobError is the structured error carried through the pipeline. It wraps the
// underlying failure and records where in the pipeline it happened.
type JobError struct {
	Message    string                 `json:"message"`
	Kind       ErrorKind              `json:"kind"`
	Severity   Severity               `json:"severity"`
	Timestamp  time.Time              `json:"timestamp"`
	JobID      string                 `json:"job_id,omitempty"`
	QueueName  string                 `json:"queue_name,omitempty"`
	RetryCount int                    `json:"retry_count,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	cause      error
}

func (e *JobError) Error() string {
	if e.QueueName != "" {
		return fmt.Sprintf("%s [%s/%s] queue=%s: %s", e.Kind, e.Severity, e.JobID, e.QueueName, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Severity, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.cause
}

func NewJobError(cause error, kind ErrorKind, severity Severity, context map[string]interface{}) *JobError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &JobError{
		Message:   msg,
		Kind:      kind,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Context:   context,
		cause:     cause,
	}
}

// WithJob enriches the error with the identifiers of the job being processed.
func (e *JobError) WithJob(jobID, queueName string, retryCount int) *JobError {
	e.JobID = jobID
	e.QueueName = queueName
	e.RetryCount = retryCount
	return e
}
