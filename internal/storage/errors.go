package storage

import (
	"fmt"

	"github.com/sitescope/crawlcore/pkg/failure"
)

type StorageErrorCause string

const (
	ErrCauseTransient      StorageErrorCause = "transient storage failure"
	ErrCauseForeignKeyMiss StorageErrorCause = "job no longer exists"
)

// StorageError classifies persistence failures: Retryable marks a transient
// failure, and a missing job is not retryable (it signals the job_deleted
// stop condition instead). The crawl controller makes one Upsert call per
// record and does not retry a transient failure.
type StorageError struct {
	Message   string
	Retryable bool
	Cause     StorageErrorCause
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %s", e.Cause, e.Message)
}

func (e *StorageError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *StorageError) IsRetryable() bool {
	return e.Retryable
}
