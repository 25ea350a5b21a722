package metadata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// Recorder is the default MetadataSink/CrawlFinalizer implementation. It
// writes one logfmt line per event to an io.Writer (stderr by default).
// Recorder holds no crawl state beyond a worker identifier; every method is
// a pure write, never a read-back.
type Recorder struct {
	workerID string
	out      io.Writer
	mu       sync.Mutex
}

// NewRecorder creates a Recorder that tags every line with workerID and
// writes to stderr.
func NewRecorder(workerID string) Recorder {
	return Recorder{
		workerID: workerID,
		out:      os.Stderr,
	}
}

// NewRecorderWithWriter creates a Recorder writing to an arbitrary
// destination. Useful for tests that want to assert on emitted lines.
func NewRecorderWithWriter(workerID string, out io.Writer) Recorder {
	return Recorder{
		workerID: workerID,
		out:      out,
	}
}

func (r *Recorder) emit(pairs ...interface{}) {
	var buf bytes.Buffer
	enc := logfmt.NewEncoder(&buf)
	_ = enc.EncodeKeyvals(append([]interface{}{"worker", r.workerID}, pairs...)...)
	_ = enc.EndRecord()

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.out.Write(buf.Bytes())
}

func (r *Recorder) RecordFetch(
	fetchURL string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	r.emit(
		"event", "fetch",
		"url", fetchURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"content_type", contentType,
		"retries", retryCount,
		"depth", crawlDepth,
	)
}

func (r *Recorder) RecordAssetFetch(
	fetchURL string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	r.emit(
		"event", "asset_fetch",
		"url", fetchURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"retries", retryCount,
	)
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	pairs := []interface{}{
		"event", "error",
		"time", observedAt.UTC().Format(time.RFC3339Nano),
		"package", packageName,
		"action", action,
		"cause", causeLabel(cause),
		"error", errorString,
	}
	for _, a := range attrs {
		pairs = append(pairs, string(a.Key), a.Value)
	}
	r.emit(pairs...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	pairs := []interface{}{
		"event", "artifact",
		"kind", string(kind),
		"path", path,
	}
	for _, a := range attrs {
		pairs = append(pairs, string(a.Key), a.Value)
	}
	r.emit(pairs...)
}

func (r *Recorder) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	crawlDuration time.Duration,
) {
	r.emit(
		"event", "crawl_finished",
		"total_pages", totalPages,
		"total_errors", totalErrors,
		"total_assets", totalAssets,
		"duration_ms", crawlDuration.Milliseconds(),
	)
}

func causeLabel(cause ErrorCause) string {
	switch cause {
	case CauseUnknown:
		return "unknown"
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return fmt.Sprintf("cause(%d)", int(cause))
	}
}
