package sanitizer

import (
	"fmt"

	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/pkg/failure"
)

type SanitizationErrorCause string

const (
	ErrCauseBrokenDOM SanitizationErrorCause = "broken dom"
)

type SanitizationError struct {
	Message   string
	Retryable bool
	Cause     SanitizationErrorCause
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("sanitization error: %s", e.Cause)
}

func (e *SanitizationError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable returns whether this error is retryable.
func (e *SanitizationError) IsRetryable() bool {
	return e.Retryable
}

// mapSanitizationErrorToMetadataCause maps sanitizer-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapSanitizationErrorToMetadataCause(err SanitizationError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseBrokenDOM:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
