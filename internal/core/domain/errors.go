package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies job failures for reporting and HTTP status mapping.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindUpstreamExecution ErrorKind = "upstream-execution"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindBreakerOpen       ErrorKind = "breaker-open"
	ErrorKindMissingOutput     ErrorKind = "missing-output"
	ErrorKindDownloadFailure   ErrorKind = "download-failure"
	ErrorKindInternal          ErrorKind = "internal"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobResultNotReady = errors.New("job result not ready")
	ErrNoWorkerAvailable = errors.New("no worker available")
)

// JobError is both the error value flowing through the execution pipeline and
// the failure record stored on a failed job. Err is excluded from the stored
// form; Details carries structured context for the northbound API.
type JobError struct {
	Err     error          `json:"-"`
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func NewJobError(kind ErrorKind, message string, err error) *JobError {
	return &JobError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func (e *JobError) WithDetail(key string, value any) *JobError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// JobErrorFrom recovers a JobError from anywhere in a wrapped chain,
// classifying unknown errors as internal.
func JobErrorFrom(err error) *JobError {
	if err == nil {
		return nil
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return NewJobError(ErrorKindInternal, err.Error(), err)
}

type WorkerError struct {
	Err       error
	Operation string
	Worker    string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s failed for worker %s: %v", e.Operation, e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

func NewWorkerError(operation, worker string, err error) *WorkerError {
	return &WorkerError{
		Operation: operation,
		Worker:    worker,
		Err:       err,
	}
}

type ProbeError struct {
	Err                 error
	WorkerURL           string
	WorkerName          string
	StatusCode          int
	Latency             time.Duration
	ConsecutiveFailures int
}

func (e *ProbeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("health probe failed for %s (%s): HTTP %d after %v (failures: %d): %v",
			e.WorkerName, e.WorkerURL, e.StatusCode, e.Latency, e.ConsecutiveFailures, e.Err)
	}
	return fmt.Sprintf("health probe failed for %s (%s): %v after %v (failures: %d)",
		e.WorkerName, e.WorkerURL, e.Err, e.Latency, e.ConsecutiveFailures)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func NewProbeError(worker *Worker, statusCode int, latency time.Duration, err error) *ProbeError {
	return &ProbeError{
		WorkerURL:           worker.GetURLString(),
		WorkerName:          worker.Name,
		StatusCode:          statusCode,
		Latency:             latency,
		ConsecutiveFailures: worker.ConsecutiveFailures,
		Err:                 err,
	}
}
