// Package scheduler is the Crawl Controller: the single-threaded loop that
// owns the Frontier, the visited/link-title/original-href maps, and the
// rate limiter, dispatches batches of concurrent fetches, and folds the
// results into persisted PageRecords until a stop condition fires.
package scheduler

import (
	"net/url"
	"sort"
	"time"

	"github.com/sitescope/crawlcore/internal/config"
	"github.com/sitescope/crawlcore/internal/extractor"
	"github.com/sitescope/crawlcore/internal/frontier"
	"github.com/sitescope/crawlcore/internal/record"
	"github.com/sitescope/crawlcore/pkg/fileutil"
	"github.com/sitescope/crawlcore/pkg/urlutil"
)

const (
	// progressTimeout aborts a job that hasn't produced a successful page
	// in this long.
	progressTimeout = 5 * time.Minute
	// failureCeiling aborts a job after this many consecutive page
	// failures, regardless of how much budget remains.
	failureCeiling = 1000

	// requestDelayMin/Max bound the inter-request jitter window.
	requestDelayMin = 500 * time.Millisecond
	requestDelayMax = 2000 * time.Millisecond

	// defaultCrawlDelayFloor is the minimum effective delay applied to a
	// host even when robots.txt declares none.
	defaultCrawlDelayFloor = 500 * time.Millisecond
)

// nonHTMLExtensions are file extensions the link acceptance filter rejects
// outright. PDFs are rejected like the rest and are not tallied.
var nonHTMLExtensions = map[string]bool{
	"doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"zip": true, "rar": true, "exe": true, "dmg": true,
	"jpg": true, "jpeg": true, "png": true, "gif": true, "svg": true,
	"mp3": true, "mp4": true, "avi": true, "mov": true,
}

const pdfExtension = "pdf"

// batchItem pairs a dequeued token with whether a link title was already
// recorded for it, the sort key §4.5 requires.
type batchItem struct {
	token        frontier.CrawlToken
	hasLinkTitle bool
}

// sortBatch stably reorders a dequeued batch: depth ascending (already true
// by construction, since Dequeue drains the lowest pending depth first, but
// a batch can still straddle two depths once the first empties mid-batch),
// then items that carry a recorded link title before those that don't,
// then lexicographic by URL. This preserves the anchor-visible navigation
// order while keeping the rest of the ordering deterministic.
func sortBatch(items []batchItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		da, db := a.token.Depth(), b.token.Depth()
		if da != db {
			return da < db
		}
		if a.hasLinkTitle != b.hasLinkTitle {
			return a.hasLinkTitle
		}
		au, bu := a.token.URL(), b.token.URL()
		return au.String() < bu.String()
	})
}

// itemOutcome is what executeOne reports back to the controller for a
// single dispatched token. The controller alone mutates shared state (the
// frontier, the maps, the counters) from these immutable results, so no
// two concurrent fetches can race on the same key.
type itemOutcome struct {
	token      frontier.CrawlToken
	success    bool
	rec        record.PageRecord
	discovered []discoveredLink
}

// discoveredLink is a candidate outbound link that has already passed the
// link acceptance filter (§4.6.1) and is waiting for the controller to
// hand it to the frontier.
type discoveredLink struct {
	url       url.URL
	depth     int
	linkTitle string
	linkAttr  string
}

// acceptLink implements the §4.6.1 link acceptance filter. A hash-fragment
// link is normalized to its base URL before the rest of the filter runs,
// so a fragment of the current page is recognized and rejected rather than
// slipping through as a "new" page; a hash route is left untouched, since
// hash routes are pages in their own right.
func acceptLink(link extractor.Link, pageURL url.URL, cfg config.Config, currentDepth int) (url.URL, bool) {
	candidate := link.URL
	if urlutil.IsHashFragment(candidate) {
		candidate = urlutil.BaseOf(candidate)
		if urlutil.Canonical(candidate) == urlutil.Canonical(pageURL) {
			return url.URL{}, false
		}
	}

	if candidate.Scheme != "http" && candidate.Scheme != "https" {
		return url.URL{}, false
	}

	ext := fileutil.GetFileExtension(candidate.Path)
	if ext == pdfExtension || nonHTMLExtensions[ext] {
		return url.URL{}, false
	}

	seed := cfg.SeedURLs()
	sameSite := len(seed) == 0
	for _, s := range seed {
		if urlutil.SameSite(candidate, s) {
			sameSite = true
			break
		}
	}
	if !sameSite {
		return url.URL{}, false
	}

	if cfg.MaxDepth() > 0 && currentDepth+1 > cfg.MaxDepth() {
		return url.URL{}, false
	}

	return candidate, true
}
