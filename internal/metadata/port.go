package metadata

import "time"

/*
MetadataSink is the observability port every pipeline package is handed at
construction time. It is the only way pipeline code may report what it
observed (fetch outcomes, failures, written artifacts) to the outside world.

Emission through MetadataSink is observational only: nothing on the other
side of this interface is allowed to feed back into scheduling, retry, or
admission decisions. A package that finds itself branching on something it
read through MetadataSink has confused the observability port with a
control-plane port.
*/
type MetadataSink interface {
	// RecordFetch logs the outcome of a single page fetch. httpStatus is 0
	// when the fetch never produced a response (DNS failure, timeout before
	// headers, etc).
	RecordFetch(
		fetchURL string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		retryCount int,
		crawlDepth int,
	)

	// RecordAssetFetch logs the outcome of a subordinate fetch (an asset
	// fetched to resolve a fact about the page, not a page itself).
	RecordAssetFetch(
		fetchURL string,
		httpStatus int,
		duration time.Duration,
		retryCount int,
	)

	// RecordError logs a classified failure. cause is the canonical,
	// package-agnostic ErrorCause, never a package-local error type.
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		errorString string,
		attrs []Attribute,
	)

	// RecordArtifact logs that a durable artifact (a written PageRecord, a
	// dumped canonical tree, an issue report) was produced at path.
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// NoopSink is a MetadataSink that discards every event. Embed it in a test
// double to implement the interface without stubbing every method.
type NoopSink struct{}

func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int) {}
func (NoopSink) RecordAssetFetch(string, int, time.Duration, int)        {}
func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}
func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute) {}

// CrawlFinalizer is handed only to the Crawl Controller. It exists so the
// terminal, derived crawlStats summary can be recorded exactly once, after
// the crawl has already stopped, without granting every pipeline package
// the ability to record crawl-wide aggregates mid-run.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(
		totalPages int,
		totalErrors int,
		totalAssets int,
		crawlDuration time.Duration,
	)
}
