package frontier

import (
	"net/url"
	"sync"

	"github.com/sitescope/crawlcore/pkg/urlutil"
)

/*
VisitedSet is the canonical-URL membership set described by the visited
protocol: insertion is idempotent, membership queries accept any surface
variant (raw, canonical, canonical-with-trailing-slash) and map them to the
canonical form, and the read-then-insert sequence performed by a single
scheduler goroutine is atomic under the lock.
*/
type VisitedSet struct {
	mu   sync.Mutex
	keys Set[string]
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{keys: NewSet[string]()}
}

// Has reports whether url, its canonical form, or its canonical form with a
// trailing slash appended is already in the set.
func (v *VisitedSet) Has(u url.URL) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	canonical := urlutil.Canonical(u)
	if v.keys.Contains(u.String()) || v.keys.Contains(canonical) || v.keys.Contains(canonical+"/") {
		return true
	}
	return false
}

// Mark inserts canonical(url). Idempotent.
func (v *VisitedSet) Mark(u url.URL) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.keys.Add(urlutil.Canonical(u))
}

// ReconcileRedirect applies the redirect half of the visited protocol: when
// checkRedirectDuplicates is on and the final URL was already visited, the
// caller is told this was a duplicate so it can skip storing a second
// PageRecord; otherwise the final URL is marked visited. The original URL's
// canonical form is always marked first, satisfying the invariant that
// after any successful fetch both the original canonical (and, when
// redirect-checking is on, the final canonical) are in the set.
func (v *VisitedSet) ReconcileRedirect(original, final url.URL, checkRedirectDuplicates bool) (duplicate bool) {
	v.Mark(original)

	if !checkRedirectDuplicates {
		return false
	}

	if v.Has(final) {
		return true
	}
	v.Mark(final)
	return false
}

// Size returns the number of unique canonical URLs marked so far.
func (v *VisitedSet) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keys.Size()
}
