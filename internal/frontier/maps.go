package frontier

import (
	"net/url"
	"sync"

	"github.com/sitescope/crawlcore/pkg/urlutil"
)

// ErrorUrlMap maps a page's base URL to the most recent error summary seen
// for it. It exists to suppress redundant fetches of hash-fragment variants
// whose base page already failed: later observations overwrite earlier
// ones, since only the most recent failure is useful for that check.
type ErrorUrlMap struct {
	mu sync.Mutex
	m  map[string]string
}

func NewErrorUrlMap() *ErrorUrlMap {
	return &ErrorUrlMap{m: make(map[string]string)}
}

func (e *ErrorUrlMap) Record(u url.URL, summary string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	base := urlutil.BaseOf(u)
	e.m[base.String()] = summary
}

func (e *ErrorUrlMap) Lookup(u url.URL) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	base := urlutil.BaseOf(u)
	v, ok := e.m[base.String()]
	return v, ok
}

// surfaceKeys returns the small set of string spellings of u that a later
// lookup might use: the raw string, the canonical string, and the
// canonical string with a trailing slash (mirroring VisitedSet.Has).
func surfaceKeys(u url.URL) []string {
	canonical := urlutil.Canonical(u)
	keys := []string{u.String(), canonical}
	if canonical[len(canonical)-1] != '/' {
		keys = append(keys, canonical+"/")
	}
	return keys
}

// LinkTitleMap records the anchor text (or title attribute) first observed
// for a URL. Unlike ErrorUrlMap, observations here are first-wins: once a
// page has been linked to with some text, a later, differently-worded link
// to the same page does not overwrite it.
type LinkTitleMap struct {
	mu sync.Mutex
	m  map[string]string
}

func NewLinkTitleMap() *LinkTitleMap {
	return &LinkTitleMap{m: make(map[string]string)}
}

func (l *LinkTitleMap) RecordFirstObservation(u url.URL, title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	canonical := urlutil.Canonical(u)
	if _, seen := l.m[canonical]; seen {
		return
	}
	for _, k := range surfaceKeys(u) {
		l.m[k] = title
	}
}

func (l *LinkTitleMap) Lookup(u url.URL) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.m[urlutil.Canonical(u)]
	return v, ok
}

// OriginalHrefMap records the verbatim href attribute text first observed
// for a URL, keyed the same way as LinkTitleMap.
type OriginalHrefMap struct {
	mu sync.Mutex
	m  map[string]string
}

func NewOriginalHrefMap() *OriginalHrefMap {
	return &OriginalHrefMap{m: make(map[string]string)}
}

func (o *OriginalHrefMap) RecordFirstObservation(u url.URL, href string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	canonical := urlutil.Canonical(u)
	if _, seen := o.m[canonical]; seen {
		return
	}
	for _, k := range surfaceKeys(u) {
		o.m[k] = href
	}
}

func (o *OriginalHrefMap) Lookup(u url.URL) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.m[urlutil.Canonical(u)]
	return v, ok
}
