package frontier

import (
	"net/url"
	"sync"

	"github.com/sitescope/crawlcore/internal/config"
	"github.com/sitescope/crawlcore/pkg/urlutil"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- markdown
	- storage

It is a data structure + policy module, not a pipeline executor. Admission
semantics (robots, scope) are decided upstream by the scheduler; by the
time a CrawlAdmissionCandidate reaches Submit, the only things left to
enforce are structural: has this canonical URL already been seen, is its
depth within budget, and has the page budget already been spent.
*/

// CrawlFrontier is a BFS-ordered bag of CrawlTokens, one FIFO queue per
// depth level. Dequeue always drains the lowest depth that still has
// pending tokens before any deeper token becomes eligible.
type CrawlFrontier struct {
	mu            sync.Mutex
	queuesByDepth map[int]*FIFOQueue[CrawlToken]
	visited       Set[string]
	maxDepth      int
	maxPages      int
}

// NewCrawlFrontier creates an empty frontier. Init must be called before
// Submit/Dequeue to apply a job's depth/page limits.
func NewCrawlFrontier() *CrawlFrontier {
	return &CrawlFrontier{
		queuesByDepth: make(map[int]*FIFOQueue[CrawlToken]),
		visited:       NewSet[string](),
	}
}

// Init resets the frontier's limits from cfg. MaxDepth/MaxPages of 0 mean
// unlimited, matching config.Config's own zero-value convention.
func (f *CrawlFrontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.maxDepth = cfg.MaxDepth()
	f.maxPages = cfg.MaxPages()
	f.queuesByDepth = make(map[int]*FIFOQueue[CrawlToken])
	f.visited = NewSet[string]()
}

// Submit admits a candidate into the frontier. Submit is silently a no-op
// when the candidate's depth exceeds MaxDepth, when its canonical URL was
// already seen, or when the page budget (VisitedCount vs MaxPages) is
// already spent — there is no error return because none of these are
// failures, they're the frontier doing its job.
func (f *CrawlFrontier) Submit(candidate CrawlAdmissionCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	depth := candidate.DiscoveryMetadata().Depth()
	if f.maxDepth > 0 && depth > f.maxDepth {
		return
	}

	key := urlutil.Canonical(candidate.TargetURL())
	if f.visited.Contains(key) {
		return
	}
	if f.maxPages > 0 && f.visited.Size() >= f.maxPages {
		return
	}

	f.visited.Add(key)

	q, ok := f.queuesByDepth[depth]
	if !ok {
		q = NewFIFOQueue[CrawlToken]()
		f.queuesByDepth[depth] = q
	}
	q.Enqueue(NewCrawlToken(candidate.TargetURL(), depth))
}

// Dequeue returns the next token in BFS order: the lowest depth with a
// pending token. Depths are a sparse map, not a contiguous range, so a
// candidate submitted at depth N with no candidates ever submitted at
// depth N-1 must not panic or block discovery of depth N.
func (f *CrawlFrontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	depth, ok := f.minPendingDepthLocked()
	if !ok {
		return CrawlToken{}, false
	}
	return f.queuesByDepth[depth].Dequeue()
}

// minPendingDepthLocked returns the lowest depth key with a non-empty
// queue. Caller must hold f.mu.
func (f *CrawlFrontier) minPendingDepthLocked() (int, bool) {
	min := 0
	found := false
	for depth, q := range f.queuesByDepth {
		if q.Size() == 0 {
			continue
		}
		if !found || depth < min {
			min = depth
			found = true
		}
	}
	return min, found
}

// IsDepthExhausted reports whether depth has no pending tokens left. A
// depth that was never submitted to, and a negative depth, both count as
// exhausted.
func (f *CrawlFrontier) IsDepthExhausted(depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if depth < 0 {
		return true
	}
	q, ok := f.queuesByDepth[depth]
	return !ok || q.Size() == 0
}

// CurrentMinDepth returns the lowest depth with pending tokens, or -1 if
// the frontier has nothing left to dequeue.
func (f *CrawlFrontier) CurrentMinDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	depth, ok := f.minPendingDepthLocked()
	if !ok {
		return -1
	}
	return depth
}

// VisitedCount is the number of unique canonical URLs ever submitted. It is
// monotonic: the visited set is append-only and does not shrink when
// tokens are dequeued.
func (f *CrawlFrontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.visited.Size()
}

// Has reports whether u's canonical form has already been submitted. The
// scheduler uses this to reconcile a fetch's final (redirected-to) URL
// against the same visited state Submit itself consults, without exposing
// the internal set for mutation.
func (f *CrawlFrontier) Has(u url.URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.visited.Contains(urlutil.Canonical(u))
}

// MarkVisited inserts canonical(u) directly, without enqueueing a token.
// The scheduler calls this when a redirect's final URL must count as seen
// per the visited protocol, but should not itself become a fresh frontier
// item (it was already fetched as part of resolving the original token).
func (f *CrawlFrontier) MarkVisited(u url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.visited.Add(urlutil.Canonical(u))
}
