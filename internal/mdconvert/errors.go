package mdconvert

import (
	"fmt"

	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/pkg/failure"
)

type ConversionErrorCause string

const (
	ErrCauseConversionFailure = "conversion failed"
)

type ConversionError struct {
	Message   string
	Retryable bool
	Cause     ConversionErrorCause
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: %s", e.Cause)
}

func (e *ConversionError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func mapConversionErrorToMetadataCause(err ConversionError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseConversionFailure:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
