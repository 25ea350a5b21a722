package urlutil

import (
	"fmt"

	"github.com/sitescope/crawlcore/pkg/failure"
)

type ParseErrorCause string

const (
	ErrCauseMalformed     ParseErrorCause = "malformed url"
	ErrCauseUnknownScheme ParseErrorCause = "unsupported scheme"
	ErrCauseMissingHost   ParseErrorCause = "missing host"
)

// ParseError reports that a raw string could not be turned into a
// crawlable http(s) URL. It is always non-retryable: a malformed or
// non-http(s) link will not become valid by trying again.
type ParseError struct {
	Raw     string
	Cause   ParseErrorCause
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("urlutil: %s %q: %s", e.Cause, e.Raw, e.Message)
}

func (e *ParseError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *ParseError) IsRetryable() bool {
	return false
}
