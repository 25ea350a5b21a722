package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sitescope/crawlcore/internal/config"
	"github.com/sitescope/crawlcore/internal/extractor"
	"github.com/sitescope/crawlcore/internal/fetcher"
	"github.com/sitescope/crawlcore/internal/frontier"
	"github.com/sitescope/crawlcore/internal/issues"
	"github.com/sitescope/crawlcore/internal/job"
	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/internal/record"
	"github.com/sitescope/crawlcore/internal/robots"
	"github.com/sitescope/crawlcore/internal/sitemaptree"
	"github.com/sitescope/crawlcore/internal/storage"
	"github.com/sitescope/crawlcore/pkg/failure"
	"github.com/sitescope/crawlcore/pkg/fileutil"
	"github.com/sitescope/crawlcore/pkg/limiter"
	"github.com/sitescope/crawlcore/pkg/retry"
	"github.com/sitescope/crawlcore/pkg/timeutil"
	"github.com/sitescope/crawlcore/pkg/urlutil"
)

/*
Controller is the Crawl Controller: one logical, cooperative scheduler per
job. It owns the Frontier, the link-title/original-href/error maps, and the
rate limiter; a dispatch round fans out up to BatchSize concurrent fetches,
and the results are folded in on the controller's own goroutine once a
round's results are all in hand.

A fetch's own goroutine performs the fetch, extracts signals, and computes
which outbound links pass the acceptance filter. It also records failed
URLs in the error map, marks the final URL visited in the frontier, and
adjusts the rate limiter's backoff, all through mutex-guarded methods. It
does not touch the counters; it returns an itemOutcome and the controller
folds it in.
*/
type Controller struct {
	robot        robots.CachedRobot
	sitemaps     *robots.SitemapFetcher
	frontier     *frontier.CrawlFrontier
	linkTitles   *frontier.LinkTitleMap
	linkHrefs    *frontier.OriginalHrefMap
	errorURLs    *frontier.ErrorUrlMap
	fetch        fetcher.Fetcher
	sink         storage.Sink
	notifier     job.Notifier
	lifecycle    job.Lifecycle
	limiter      limiter.RateLimiter
	metaSink     metadata.MetadataSink
	finalizer    metadata.CrawlFinalizer

	// jobDeletedCheck lets tests and the job_deleted stop condition poll
	// storage without the controller caring how that predicate is backed.
	jobDeletedCheck func(jobID string) bool
}

// NewController wires a Controller from the concrete implementations
// cmd/crawlcore uses in production: a browser-backed Fetcher, a storage
// Sink, and the broadcast ports. metaSink may be nil (NoopSink is used).
func NewController(
	metaSink metadata.MetadataSink,
	finalizer metadata.CrawlFinalizer,
	sink storage.Sink,
	f fetcher.Fetcher,
	notifier job.Notifier,
	lifecycle job.Lifecycle,
) *Controller {
	if metaSink == nil {
		metaSink = metadata.NoopSink{}
	}
	rl := limiter.NewConcurrentRateLimiter()
	c := &Controller{
		robot:      robots.NewCachedRobot(metaSink),
		sitemaps:   robots.NewSitemapFetcher(metaSink, ""),
		frontier:   frontier.NewCrawlFrontier(),
		linkTitles: frontier.NewLinkTitleMap(),
		linkHrefs:  frontier.NewOriginalHrefMap(),
		errorURLs:  frontier.NewErrorUrlMap(),
		fetch:      f,
		sink:       sink,
		notifier:   notifier,
		lifecycle:  lifecycle,
		limiter:    rl,
		metaSink:   metaSink,
		finalizer:  finalizer,
	}
	c.jobDeletedCheck = func(jobID string) bool { return !c.sink.JobExists(context.Background(), jobID) }
	return c
}

// Run executes one crawl job to completion. It is the single inbound
// function SPEC_FULL.md's external interfaces section describes: given a
// job id and a fully-built Config (seed URLs, limits, politeness, and an
// optional progress callback), it returns every PageRecord produced, a
// stats summary, and a non-fatal error report. Only a Fatal error aborts
// before that; everything else is folded into the returned report.
func (c *Controller) Run(ctx context.Context, jobID string, cfg config.Config) ([]record.PageRecord, job.Stats, job.ErrorReport) {
	start := time.Now()
	stats := job.Stats{}
	errReport := job.ErrorReport{}

	state := job.StatePending
	c.transition(jobID, &state, job.StateCrawling)

	c.robot.Init(cfg.UserAgent())
	c.frontier.Init(cfg)
	c.limiter.SetBaseDelay(cfg.BaseDelay())
	c.limiter.SetRandomSeed(cfg.RandomSeed())
	// Inter-request jitter is derived deterministically from the URL
	// itself (see urlHashJitter), not from the limiter's seeded RNG; the
	// limiter's own jitter knob is left at zero so ResolveDelay reduces to
	// max(base, crawlDelay, backoffDelay) minus elapsed time.
	c.limiter.SetJitter(0)

	retryParam := retryParamFromConfig(cfg)

	seeds := cfg.SeedURLs()
	if len(seeds) == 0 {
		state = job.StateFailed
		errReport.CriticalError = fmt.Errorf("scheduler: no seed URLs configured")
		return nil, stats, errReport
	}

	if cfg.UseSitemap() {
		c.seedFromSitemaps(ctx, jobID, cfg, seeds, &stats, &errReport)
	}

	for _, seed := range seeds {
		c.admit(seed, frontier.SourceSeed, 0, "", "")
	}

	jobSeen := false
	consecutiveFailures := 0
	lastProgress := time.Now()
	var stopReason job.StopReason

roundLoop:
	for {
		if jobSeen && c.jobDeletedCheck != nil && c.jobDeletedCheck(jobID) {
			stopReason = job.StopJobDeleted
			break roundLoop
		}
		if consecutiveFailures >= failureCeiling {
			stopReason = job.StopFailureCeiling
			break roundLoop
		}
		if time.Since(lastProgress) > progressTimeout {
			stopReason = job.StopProgressTimeout
			break roundLoop
		}
		if cfg.MaxPages() > 0 && c.frontier.VisitedCount() >= cfg.MaxPages() && c.frontierIdle() {
			stopReason = job.StopBudgetReached
			break roundLoop
		}

		batch := c.takeBatch(cfg.BatchSize())
		if len(batch) == 0 {
			stopReason = job.StopFrontierExhausted
			break roundLoop
		}

		outcomes := c.dispatch(ctx, jobID, cfg, retryParam, batch)

		roundHadSuccess := false
		for _, oc := range outcomes {
			if jobSeen && c.jobDeletedCheck != nil && c.jobDeletedCheck(jobID) {
				stopReason = job.StopJobDeleted
				break roundLoop
			}

			stats.TotalAttempted++
			if oc.success {
				roundHadSuccess = true
				stats.SuccessfulPages++
			} else {
				stats.FailedPages++
				if oc.rec.Error != "" {
					errReport.PageErrors = append(errReport.PageErrors, fmt.Sprintf("%s: %s", oc.rec.URL, oc.rec.Error))
				}
			}

			if err := c.persist(ctx, oc.rec); err != nil {
				if se, ok := err.(interface{ Severity() failure.Severity }); ok && se.Severity() == failure.SeverityFatal {
					stopReason = job.StopJobDeleted
					break roundLoop
				}
			} else {
				jobSeen = true
			}

			for _, link := range oc.discovered {
				c.admit(link.url, frontier.SourceCrawl, link.depth, link.linkTitle, link.linkAttr)
			}
		}

		if roundHadSuccess {
			consecutiveFailures = 0
			lastProgress = time.Now()
		} else {
			consecutiveFailures += len(outcomes)
		}

		if cfg.OnProgress() != nil {
			safeProgress(cfg.OnProgress(), c.frontier.VisitedCount())
		}
		c.notifier.NotifyProgress(job.Progress{JobID: jobID, PagesCrawled: c.frontier.VisitedCount(), State: state})
	}

	stats.StopReason = stopReason

	c.transition(jobID, &state, job.StateProcessing)
	records, listErr := c.sink.List(ctx, jobID)
	if listErr != nil {
		errReport.Warnings = append(errReport.Warnings, fmt.Sprintf("list records: %v", listErr))
	}

	tree := sitemaptree.Build(records)
	report := issues.Detect(records, tree)
	if !cfg.DryRun() {
		c.writeArtifact(cfg.OutputDir(), jobID+"-tree.json", tree, metadata.ArtifactCanonicalTree)
		c.writeArtifact(cfg.OutputDir(), jobID+"-issues.json", report, metadata.ArtifactIssueReport)
	}

	finalState := job.StateCompleted
	if stopReason == job.StopFatalError {
		finalState = job.StateFailed
	}
	c.transition(jobID, &state, finalState)

	if c.finalizer != nil {
		c.finalizer.RecordFinalCrawlStats(stats.TotalAttempted, stats.FailedPages, 0, time.Since(start))
	}

	return records, stats, errReport
}

func (c *Controller) transition(jobID string, state *job.State, to job.State) {
	from := *state
	*state = to
	if c.lifecycle != nil {
		c.lifecycle.NotifyStateChange(jobID, from, to)
	}
}

// frontierIdle reports whether the frontier currently has nothing pending
// to dequeue, used to distinguish "budget reached" (frontier still has
// admitted-but-undispatched work) from the natural drain that follows it.
func (c *Controller) frontierIdle() bool {
	return c.frontier.CurrentMinDepth() == -1
}

func safeProgress(fn config.ProgressFunc, pages int) {
	defer func() { recover() }() // on_progress errors are swallowed, never propagated
	fn(pages)
}

// takeBatch dequeues up to size tokens and reorders them per §4.5/§4.6.
func (c *Controller) takeBatch(size int) []frontier.CrawlToken {
	if size <= 0 {
		size = 1
	}
	items := make([]batchItem, 0, size)
	for i := 0; i < size; i++ {
		tok, ok := c.frontier.Dequeue()
		if !ok {
			break
		}
		_, hasTitle := c.linkTitles.Lookup(tok.URL())
		items = append(items, batchItem{token: tok, hasLinkTitle: hasTitle})
	}
	sortBatch(items)

	out := make([]frontier.CrawlToken, len(items))
	for i, it := range items {
		out[i] = it.token
	}
	return out
}

// dispatch fans the batch out to concurrent fetches and returns their
// outcomes in the batch's own order (not completion order), so that the
// controller folds discovered links back into the frontier deterministically.
func (c *Controller) dispatch(ctx context.Context, jobID string, cfg config.Config, retryParam retry.RetryParam, batch []frontier.CrawlToken) []itemOutcome {
	outcomes := make([]itemOutcome, len(batch))
	var wg sync.WaitGroup
	for i, tok := range batch {
		wg.Add(1)
		go func(i int, tok frontier.CrawlToken) {
			defer wg.Done()
			outcomes[i] = c.executeOne(ctx, jobID, cfg, retryParam, tok)
		}(i, tok)
	}
	wg.Wait()
	return outcomes
}

// executeOne performs a single page's politeness wait, fetch, extraction,
// and link-acceptance filtering. Besides recording failed URLs, marking the
// final URL visited and adjusting limiter backoff (all mutex-guarded), it
// leaves shared state alone: it hands its result back as an immutable
// itemOutcome for the controller to fold in.
func (c *Controller) executeOne(ctx context.Context, jobID string, cfg config.Config, retryParam retry.RetryParam, tok frontier.CrawlToken) itemOutcome {
	u := tok.URL()
	depth := tok.Depth()

	c.politenessWait(u)

	linkTitle, _ := c.linkTitles.Lookup(u)
	linkAttr, _ := c.linkHrefs.Lookup(u)
	hadQuery := u.RawQuery != ""

	fetchParam := fetcher.NewFetchParam(u, cfg.UserAgent()).WithRedirectDuplicateCheck(cfg.CheckRedirectDuplicates())
	result, fetchErr := c.fetch.Fetch(ctx, depth, fetchParam, retryParam)

	if fetchErr != nil {
		c.limiter.Backoff(u.Host)
		statusCode, title := classifyFetchFailure(fetchErr)
		c.errorURLs.Record(u, title)
		return itemOutcome{
			token:   tok,
			success: false,
			rec: record.PageRecord{
				JobID:      jobID,
				URL:        u.String(),
				Depth:      depth,
				StatusCode: statusCode,
				Title:      title,
				LinkTitle:  linkTitle,
				LinkAttr:   linkAttr,
				Error:      fetchErr.Error(),
				FetchedAt:  time.Now(),
				Signals:    record.Signals{HadQueryString: hadQuery},
			},
		}
	}
	c.limiter.ResetBackoff(u.Host)

	finalURL := result.URL()
	isHashRoute := urlutil.IsHashRoute(u)

	duplicate := false
	if cfg.CheckRedirectDuplicates() && result.RedirectedFrom() != nil {
		duplicate = c.frontier.Has(finalURL)
		if !duplicate {
			c.frontier.MarkVisited(finalURL)
		}
	}
	recordedURL := u
	if cfg.CheckRedirectDuplicates() {
		recordedURL = finalURL
	}

	if duplicate {
		return itemOutcome{token: tok, success: true}
	}

	signals, extractErr := extractor.ExtractSignals(recordedURL, result.Body())
	if extractErr != nil {
		return itemOutcome{
			token:   tok,
			success: false,
			rec: record.PageRecord{
				JobID: jobID, URL: recordedURL.String(), Depth: depth,
				StatusCode: result.Code(), Title: "ERROR: " + extractErr.Error(),
				LinkTitle: linkTitle, LinkAttr: linkAttr, Error: extractErr.Error(),
				FetchedAt: time.Now(), Signals: record.Signals{HadQueryString: hadQuery},
			},
		}
	}

	title := signals.Title
	if linkTitle != "" {
		title = linkTitle
	}
	signals.Signals.HadQueryString = hadQuery

	rec := record.PageRecord{
		JobID:        jobID,
		URL:          recordedURL.String(),
		Depth:        depth,
		IsHashRoute:  isHashRoute,
		StatusCode:   result.Code(),
		Title:        title,
		LinkTitle:    linkTitle,
		LinkAttr:     linkAttr,
		Signals:      signals.Signals,
		FetchedAt:    result.FetchedAt(),
		WaitStrategy: result.WaitStrategy(),
	}
	if result.RedirectedFrom() != nil {
		rec.RedirectedFrom = result.RedirectedFrom().String()
	}

	var discovered []discoveredLink
	for _, link := range signals.Links {
		candidate, ok := acceptLink(link, recordedURL, cfg, depth)
		if !ok {
			continue
		}
		rec.Links = append(rec.Links, urlutil.Canonical(candidate))
		if c.frontier.Has(candidate) {
			continue
		}
		discovered = append(discovered, discoveredLink{
			url:       candidate,
			depth:     depth + 1,
			linkTitle: link.Text,
			linkAttr:  link.RawHref,
		})
	}

	return itemOutcome{token: tok, success: true, rec: rec, discovered: discovered}
}

// politenessWait blocks for the host's resolved rate-limit delay plus a
// deterministic, URL-derived jitter, then marks the host as fetched now.
func (c *Controller) politenessWait(u url.URL) {
	if d := c.limiter.ResolveDelay(u.Host); d > 0 {
		time.Sleep(d)
	}
	effective := c.effectiveDelay(u)
	if j := urlHashJitter(u, effective); j > 0 {
		time.Sleep(j)
	}
	c.limiter.MarkLastFetchAsNow(u.Host)
}

// effectiveDelay is max(robots crawl-delay, defaultCrawlDelayFloor). Robots
// decisions are cached per host by CachedRobot, so re-deciding here costs
// nothing beyond the first fetch for a host.
func (c *Controller) effectiveDelay(u url.URL) time.Duration {
	decision, err := c.robot.Decide(u)
	if err != nil || decision.CrawlDelay <= 0 {
		return defaultCrawlDelayFloor
	}
	if decision.CrawlDelay > defaultCrawlDelayFloor {
		return decision.CrawlDelay
	}
	return defaultCrawlDelayFloor
}

// urlHashJitter derives a deterministic jitter duration from u's character
// codes so that repeated crawls of the same fixture are reproducible,
// rather than drawing from a pseudo-random source.
func urlHashJitter(u url.URL, effectiveDelay time.Duration) time.Duration {
	windowMs := requestDelayMax.Milliseconds() - effectiveDelay.Milliseconds() + 1
	if windowMs <= 0 {
		return 0
	}
	var sum int64
	for _, r := range u.String() {
		sum += int64(r)
	}
	return time.Duration(sum%windowMs) * time.Millisecond
}

// admit applies the robots decision for u, then hands it to the frontier.
// An explicit disallow is a silent skip: no PageRecord, matching
// BlockedByRobots semantics. Robots fetch/transport errors are permissive,
// matching "absence or error ⇒ permissive policy".
func (c *Controller) admit(u url.URL, source frontier.SourceContext, depth int, linkTitle, linkAttr string) {
	decision, err := c.robot.Decide(u)
	allowed := true
	var crawlDelay time.Duration
	if err == nil {
		allowed = decision.Allowed
		crawlDelay = decision.CrawlDelay
	} else if rerr, ok := err.(*robots.RobotsError); ok {
		if rerr.Cause == robots.ErrCauseHttpTooManyRequests || rerr.Cause == robots.ErrCauseHttpServerError {
			c.limiter.Backoff(u.Host)
		}
	}
	if crawlDelay > 0 {
		c.limiter.SetCrawlDelay(u.Host, crawlDelay)
	}
	if !allowed {
		return
	}

	if linkTitle != "" {
		c.linkTitles.RecordFirstObservation(u, linkTitle)
	}
	if linkAttr != "" {
		c.linkHrefs.RecordFirstObservation(u, linkAttr)
	}

	meta := frontier.NewDiscoveryMetadata(depth, nil)
	candidate := frontier.NewCrawlAdmissionCandidate(u, source, meta)
	c.frontier.Submit(candidate)
}

func (c *Controller) persist(ctx context.Context, rec record.PageRecord) error {
	if rec.URL == "" {
		return nil
	}
	return c.sink.Upsert(ctx, rec)
}

func (c *Controller) writeArtifact(outputDir, filename string, v interface{}, kind metadata.ArtifactKind) {
	if err := fileutil.EnsureDir(outputDir); err != nil {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(outputDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return
	}
	if c.metaSink != nil {
		c.metaSink.RecordArtifact(kind, path, nil)
	}
}

// classifyFetchFailure maps a fetch error to the (status_code, title) pair
// §7 prescribes for a stored, failed PageRecord. A FetchError's Cause
// survives being folded into a RetryError's message text (RetryError.Error
// renders the original error's own .Error() string, which in turn renders
// FetchError's Cause), so the timeout check works whether or not retries
// were exhausted; only FetchError.Code/Message are lost once wrapped.
func classifyFetchFailure(err failure.ClassifiedError) (int, string) {
	if strings.Contains(err.Error(), string(fetcher.ErrCauseTimeout)) {
		return 0, "Timeout"
	}
	if fe, ok := err.(*fetcher.FetchError); ok {
		if fe.Code != 0 {
			return fe.Code, fmt.Sprintf("ERROR: HTTP %d: %s", fe.Code, fe.Message)
		}
		return 0, "ERROR: " + fe.Message
	}
	return 0, "ERROR: " + err.Error()
}

// retryParamFromConfig builds the retry.RetryParam SPEC_FULL.md's §4.3
// retry policy (3 attempts, 1s/2s/4s exponential backoff) and every other
// retrying component share, sourced from the job's Config.
func retryParamFromConfig(cfg config.Config) retry.RetryParam {
	backoff := timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration())
	return retry.NewRetryParam(cfg.BaseDelay(), cfg.Jitter(), cfg.RandomSeed(), cfg.MaxAttempt(), backoff)
}

// seedFromSitemaps runs §4.2/§4.2's large-sitemap policy: it discovers
// same-site sitemap URLs for each seed's host, persists all of them
// (capped at MaxPages) as minimal PageRecords, and admits only a diverse
// sample through the normal fetch pipeline when the discovery is large.
func (c *Controller) seedFromSitemaps(ctx context.Context, jobID string, cfg config.Config, seeds []url.URL, stats *job.Stats, errReport *job.ErrorReport) {
	seen := map[string]bool{}
	var allURLs []string

	for _, seed := range seeds {
		declared, _ := c.robot.Sitemaps(seed)
		discovery := c.sitemaps.Discover(ctx, seed.Scheme, seed.Host, declared)
		for _, raw := range discovery.Errors {
			errReport.SitemapErrors = append(errReport.SitemapErrors, raw)
		}
		for _, raw := range discovery.URLs {
			parsed, perr := urlutil.Parse(raw)
			if perr != nil || !urlutil.SameSite(parsed, seed) {
				continue
			}
			key := urlutil.Canonical(parsed)
			if seen[key] {
				continue
			}
			seen[key] = true
			allURLs = append(allURLs, raw)
		}
	}

	stats.SitemapURLsDiscovered = len(allURLs)
	if len(allURLs) == 0 {
		return
	}
	stats.SitemapUsed = true

	limit := len(allURLs)
	if cfg.MaxPages() > 0 && cfg.MaxPages() < limit {
		limit = cfg.MaxPages()
	}
	for _, raw := range allURLs[:limit] {
		parsed, perr := urlutil.Parse(raw)
		if perr != nil {
			continue
		}
		rec := record.PageRecord{
			JobID:      jobID,
			URL:        urlutil.Canonical(parsed),
			StatusCode: 200,
			Title:      titleFromLastSegment(parsed),
			FetchedAt:  time.Now(),
		}
		if err := c.sink.Upsert(ctx, rec); err != nil {
			errReport.Warnings = append(errReport.Warnings, fmt.Sprintf("sitemap seed upsert %s: %v", raw, err))
		}
		c.frontier.MarkVisited(parsed)
	}

	if len(allURLs) <= 100 {
		for _, raw := range allURLs {
			if parsed, perr := urlutil.Parse(raw); perr == nil {
				c.admit(parsed, frontier.SourceCrawl, 1, "", "")
			}
		}
		return
	}

	sample := robots.SampleDiverse(allURLs, 50)
	for _, raw := range sample {
		if parsed, perr := urlutil.Parse(raw); perr == nil {
			c.admit(parsed, frontier.SourceCrawl, 1, "", "")
		}
	}
}

func titleFromLastSegment(u url.URL) string {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			last = segments[i]
			break
		}
	}
	if last == "" {
		return u.Host
	}
	last = strings.ReplaceAll(last, "-", " ")
	last = strings.ReplaceAll(last, "_", " ")
	words := strings.Fields(last)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
