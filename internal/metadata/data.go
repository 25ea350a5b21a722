package metadata

import (
	"time"
)

type FetchEvent struct {
	fetchUrl    string
	httpStatus  int
	duration    time.Duration
	contentType string
	retryCount  int
	crawlDepth  int
}

/*
crawlStats
  - Represents a terminal, derived summary of a completed crawl
  - Contains only aggregate counts and durations
  - Is computed by the scheduler after crawl termination
  - Is recorded exactly once
  - Must not influence scheduling, retries, or crawl termination
  - Must be constructed without reading metadata
*/
type crawlStats struct {
	totalPages  int
	totalErrors int
	totalAssets int
	durationMs  int64
}

type ArtifactRecord struct {
	paths string
}

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause is for observability only.
	 - It must never be used to derive retry, continuation, or abort decisions.
	 - Any use of metadata.ErrorCause outside logging, metrics, or reporting is a design violation.
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
	 - ErrorCause values MUST have stable, package-agnostic semantics.
	 - Pipeline packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.
	Non-goals:
	 - ErrorCause does not encode severity.
	 - ErrorCause does not imply retryability.
	 - ErrorCause does not imply crawl termination.
	 - ErrorCause does not imply correctness of downstream behavior.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

Meaning:
  - The failure does not map cleanly to any known category.
  - Used as a safe fallback.

Examples:
  - Unexpected internal errors
  - Unclassified third-party library failures

# CauseNetworkFailure

Meaning:
  - Failure caused by network transport or remote availability.

Examples:
  - TCP timeouts
  - DNS resolution failures
  - Connection resets
  - robots.txt fetch timeout

# CausePolicyDisallow

Meaning:
  - Crawling was disallowed by an explicit policy or rule.

Examples:
  - robots.txt disallow
  - HTTP 403 / 401 interpreted as access denial
  - rate-limit enforcement

# CauseContentInvalid

Meaning:
  - Content was fetched but could not be processed meaningfully.

Examples:
  - Non-HTML responses
  - Empty or unextractable document bodies
  - Broken DOM preventing extraction

# CauseStorageFailure

Meaning:
  - Failure while persisting crawl artifacts.

Examples:
  - Disk full
  - Write permission errors
  - Filesystem I/O failures

# CauseInvariantViolation

Meaning:
  - A system-level invariant was violated.

Examples:
  - Multiple H1s in a document
  - Impossible crawl depth
  - Internal consistency checks failing
*/
const (
	CauseUnknown = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
	// CauseRetryFailure marks an error surfaced by pkg/retry after its
	// attempt budget was exhausted. The underlying cause may have been
	// any of the categories above; by the time the retry loop gives up
	// that distinction is no longer recoverable, so it is recorded
	// separately rather than folded into CauseUnknown.
	CauseRetryFailure
)

type ErrorRecord struct {
	packageName string
	action      string
	cause       ErrorCause
	errorString string
	observedAt  time.Time
	attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
	AttrMessage    AttributeKey = "message"
)

// ArtifactKind classifies a durable artifact written by the crawl for
// RecordArtifact. Like ErrorCause, this is an observational, closed enum.
type ArtifactKind string

const (
	ArtifactPageRecord    ArtifactKind = "page_record"
	ArtifactCanonicalTree ArtifactKind = "canonical_tree"
	ArtifactIssueReport   ArtifactKind = "issue_report"
)

// FetchEvent accessors. FetchEvent itself is only ever built and consumed
// internally by Recorder, but the accessors keep it consistent with the
// rest of the package's constructor+getter style.

func (e FetchEvent) FetchURL() string       { return e.fetchUrl }
func (e FetchEvent) HTTPStatus() int        { return e.httpStatus }
func (e FetchEvent) Duration() time.Duration { return e.duration }
func (e FetchEvent) ContentType() string    { return e.contentType }
func (e FetchEvent) RetryCount() int        { return e.retryCount }
func (e FetchEvent) CrawlDepth() int        { return e.crawlDepth }

func (s crawlStats) TotalPages() int     { return s.totalPages }
func (s crawlStats) TotalErrors() int    { return s.totalErrors }
func (s crawlStats) TotalAssets() int    { return s.totalAssets }
func (s crawlStats) DurationMs() int64   { return s.durationMs }

func (r ErrorRecord) PackageName() string   { return r.packageName }
func (r ErrorRecord) Action() string        { return r.action }
func (r ErrorRecord) Cause() ErrorCause     { return r.cause }
func (r ErrorRecord) ErrorString() string   { return r.errorString }
func (r ErrorRecord) ObservedAt() time.Time { return r.observedAt }
func (r ErrorRecord) Attrs() []Attribute {
	out := make([]Attribute, len(r.attrs))
	copy(out, r.attrs)
	return out
}

func (a ArtifactRecord) Path() string { return a.paths }
