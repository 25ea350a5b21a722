// Package record defines the shared page-level data model produced by the
// fetch/extract pipeline and consumed by storage, the sitemap tree builder,
// and the issue detector.
package record

import (
	"strings"
	"time"
)

// Signals carries the page-level metadata the extraction stage derives from
// a fetched document, independent of how it was fetched.
type Signals struct {
	Description    string
	Robots         string // defaults to "index,follow" when absent
	Canonical      string
	OGTitle        string
	H1             string
	H2Count        int
	WordCount      int
	Framework      string // react, vue, angular, nextjs, unknown
	HadQueryString bool   // URL carried a non-empty query string at fetch time
}

// Noindex reports whether the page's robots meta directive excludes it from
// indexing.
func (s Signals) Noindex() bool {
	for _, part := range strings.Split(s.Robots, ",") {
		if strings.TrimSpace(strings.ToLower(part)) == "noindex" {
			return true
		}
	}
	return false
}

// PageRecord is the persisted result of crawling one URL.
type PageRecord struct {
	JobID         string
	URL           string // canonical URL this record is keyed by
	RedirectedFrom string
	Depth         int
	IsHashRoute   bool
	StatusCode    int
	Title         string
	LinkTitle     string // title carried from the referring link, if any
	LinkAttr      string // verbatim href the referring link used
	Signals       Signals
	Links         []string // outbound canonical URLs discovered on this page
	FetchedAt     time.Time
	WaitStrategy  string
	Error         string // non-empty only for failed pages
}

// IsError reports whether this record represents a failed fetch.
func (p PageRecord) IsError() bool {
	return p.Error != ""
}
