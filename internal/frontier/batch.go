package frontier

import (
	"net/url"
	"sort"
)

// SortBatch stably reorders tokens pulled from the frontier for a single
// round using the key (depth ascending, has-link-title first, then
// lexicographic url). This preserves the visual navigation order for
// anchored links while keeping discovery deterministic for the rest.
// hasLinkTitle should be LinkTitleMap.Lookup's presence half, e.g.:
//
//	SortBatch(batch, func(u url.URL) bool { _, ok := titles.Lookup(u); return ok })
func SortBatch(tokens []CrawlToken, hasLinkTitle func(url.URL) bool) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.Depth() != b.Depth() {
			return a.Depth() < b.Depth()
		}
		aTitled, bTitled := hasLinkTitle(a.URL()), hasLinkTitle(b.URL())
		if aTitled != bTitled {
			return aTitled
		}
		au, bu := a.URL(), b.URL()
		return au.String() < bu.String()
	})
}
