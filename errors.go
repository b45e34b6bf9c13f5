package client

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingAPIKey     = errors.New("api key is not configured")
	ErrEmptyJobID        = errors.New("job id cannot be empty")
	ErrInvalidJobSpec    = errors.New("invalid job spec")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidUploadForm = errors.New("upload form requires a url and parameters")
	ErrEmptyFilePath     = errors.New("file path cannot be empty")
	ErrEmptyFileData     = errors.New("file data cannot be empty")
	ErrEmptyDownloadURL  = errors.New("download url cannot be empty")
	ErrEmptyDownload     = errors.New("downloaded file is empty")
	ErrNilWriter         = errors.New("writer cannot be nil")
	ErrJobTimeout        = errors.New("job did not reach a terminal status in time")
)

// JobFailedError is returned when the provider reports the job in error status.
type JobFailedError struct {
	JobID string
	Tasks []Task
}

func (e *JobFailedError) Error() string {
	if len(e.Tasks) == 0 {
		return fmt.Sprintf("job %s failed", e.JobID)
	}

	details := make([]string, 0, len(e.Tasks))
	for _, t := range e.Tasks {
		msg := t.Message
		if msg == "" {
			msg = "no error message"
		}
		details = append(details, fmt.Sprintf("%s: %s", t.Name, msg))
	}

	return fmt.Sprintf("job %s failed: %s", e.JobID, strings.Join(details, "; "))
}

// TimeoutError is returned when the wait budget runs out before a terminal status.
type TimeoutError struct {
	JobID      string
	LastStatus JobStatus
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	last := string(e.LastStatus)
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf("job %s still %s after %s", e.JobID, last, e.Elapsed)
}

func (e *TimeoutError) Unwrap() error {
	return ErrJobTimeout
}

// errStatus formats an error with HTTP status and request id.
func errStatus(operation Operation, statusCode int, status, requestID string) error {
	return fmt.Errorf("%s failed with status %d: %s (request-id: %s)", operation, statusCode, status, normalizeRequestID(requestID))
}

func normalizeRequestID(requestID string) string {
	if requestID == "" {
		return "unknown"
	}
	return requestID
}
