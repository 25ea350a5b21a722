package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

type FetchParam struct {
	fetchUrl                url.URL
	userAgent               string
	checkRedirectDuplicates bool
}

func NewFetchParam(fetchUrl url.URL, userAgent string) FetchParam {
	return FetchParam{
		fetchUrl:  fetchUrl,
		userAgent: userAgent,
	}
}

// WithRedirectDuplicateCheck returns a copy of p with redirect-duplicate
// reconciliation enabled or disabled.
func (p FetchParam) WithRedirectDuplicateCheck(enabled bool) FetchParam {
	p.checkRedirectDuplicates = enabled
	return p
}

func (p FetchParam) URL() url.URL {
	return p.fetchUrl
}

type FetchResult struct {
	url       url.URL
	redirectedFrom *url.URL
	body      []byte
	meta      ResponseMeta
	fetchedAt time.Time
}

func (f *FetchResult) URL() url.URL {
	return f.url
}

// RedirectedFrom returns the originally requested URL when navigation ended
// on a different URL, or nil when no redirect occurred.
func (f *FetchResult) RedirectedFrom() *url.URL {
	return f.redirectedFrom
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) SizeByte() uint64 {
	return uint64(len(f.body))
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

func (f *FetchResult) FetchedAt() time.Time {
	return f.fetchedAt
}

// WaitStrategy reports which waitUntil strategy ultimately stabilized the
// page ("document-parsed", "full-load", "network-idle", "hash-route",
// "navigation-failed", or "csp-fallback").
func (f *FetchResult) WaitStrategy() string {
	return f.meta.waitStrategy
}

type ResponseMeta struct {
	statusCode      int
	responseHeaders map[string]string
	waitStrategy    string
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	if responseHeaders == nil {
		responseHeaders = map[string]string{}
	}
	if contentType != "" {
		responseHeaders["Content-Type"] = contentType
	}
	return FetchResult{
		url:       url,
		body:      body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:      statusCode,
			responseHeaders: responseHeaders,
			waitStrategy:    "load",
		},
	}
}
