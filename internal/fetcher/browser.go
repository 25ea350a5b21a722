package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/pkg/failure"
	"github.com/sitescope/crawlcore/pkg/retry"
)

/*
BrowserFetcher renders a page in a headless Chrome instance.

Responsibilities:
- Present a realistic desktop fingerprint (viewport, UA, locale, headers)
- Block static resource types and known analytics hosts so pages load fast
- Stabilize the page across three waitUntil strategies, each bounded to
  its own 30s budget: document-parsed, full-load, network-idle
- Report the final URL after redirects and the URL it was redirected
  from; no redirect policy is applied here
- Stabilize hash-route navigations (client-side routed pages) separately
- Poll for anti-bot interstitials to clear before giving up and fetching
  anyway
- When the page's CSP blocks reading the rendered HTML, return an empty
  body with wait strategy "csp-fallback" instead of an error, without
  retrying; no selector-based read of title or anchors is made

The fetcher never classifies content into page signals; it only returns the
stabilized HTML plus fetch-level metadata (status, redirects, wait
strategy used). Signal and link extraction is the extractor package's job.
*/

const (
	perFetchTimeout      = 60 * time.Second
	waitStrategyBudget   = 30 * time.Second
	hashRouteWait        = 10 * time.Second
	antiBotWait          = 15 * time.Second
	antiBotWaitHashRoute = 5 * time.Second
	hashRouteMinChars    = 50
	antiBotMinBodyChars  = 100
)

// blockedResourceTypes are static asset classes the fetcher never needs:
// blocking them speeds up navigation without affecting rendered text/links.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeMedia:      true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeWebSocket:  true,
	network.ResourceTypeManifest:   true,
}

// blockedHostSubstrings are known analytics/tracking hosts blocked outright.
var blockedHostSubstrings = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.net",
	"hotjar.com",
	"segment.io",
	"mixpanel.com",
}

// challengeSelectors are cleared before the fetcher considers a page
// settled; their continued presence means an anti-bot interstitial is
// still showing.
var challengeSelectors = []string{
	"#challenge-running",
	"#cf-challenge-running",
	"#challenge-form",
	"iframe[src*='captcha']",
}

type BrowserFetcher struct {
	metadataSink metadata.MetadataSink
	userAgent    string

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCancel context.CancelFunc

	once sync.Once
}

// NewBrowserFetcher launches a single headless Chrome instance that every
// Fetch call opens a fresh tab against. Call Close when the crawl ends.
func NewBrowserFetcher(metadataSink metadata.MetadataSink, userAgent string) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent(userAgent),
		chromedp.Flag("lang", "en-US,en"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &BrowserFetcher{
		metadataSink:  metadataSink,
		userAgent:     userAgent,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
}

// Close tears down the browser process. Safe to call multiple times.
func (f *BrowserFetcher) Close() {
	f.once.Do(func() {
		f.browserCancel()
		f.allocCancel()
	})
}

func (f *BrowserFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "BrowserFetcher.Fetch"
	startTime := time.Now()

	task := func() (FetchResult, failure.ClassifiedError) {
		return f.fetchOnce(ctx, fetchParam)
	}

	retryResult := retry.Retry(retryParam, task)
	result, err := retryResult.Value(), retryResult.Err()

	duration := time.Since(startTime)
	var statusCode int
	var contentType string
	var retryCount int
	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			retryCount = retryParam.MaxAttempts
		}
	} else {
		statusCode = result.Code()
		contentType = "text/html"
	}

	if f.metadataSink != nil {
		f.metadataSink.RecordFetch(fetchParam.fetchUrl.String(), statusCode, duration, contentType, retryCount, crawlDepth)
	}

	if err != nil {
		if f.metadataSink != nil {
			f.metadataSink.RecordError(time.Now(), "fetcher", callerMethod, classifyFetchErrorCause(err), err.Error(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, fetchParam.fetchUrl.String())})
		}
		return FetchResult{}, err
	}
	return result, nil
}

func classifyFetchErrorCause(err failure.ClassifiedError) metadata.ErrorCause {
	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) {
		return metadata.CauseRetryFailure
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return mapFetchErrorToMetadataCause(fetchErr)
	}
	return metadata.CauseUnknown
}

// fetchOnce performs a single navigation attempt: new tab, resource
// blocking, navigate, stabilize, read HTML.
func (f *BrowserFetcher) fetchOnce(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)
	defer tabCancel()

	fetchCtx, cancel := context.WithTimeout(tabCtx, perFetchTimeout)
	defer cancel()
	_ = ctx // caller's ctx governs the overall crawl; perFetchTimeout bounds this attempt

	targetURL := fetchParam.fetchUrl
	isHashRoute := strings.HasPrefix(targetURL.Fragment, "/")

	var status int64
	var finalURL string

	chromedp.ListenTarget(fetchCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				status = e.Response.Status
				finalURL = e.Response.URL
			}
		case *fetch.EventRequestPaused:
			go handlePausedRequest(fetchCtx, e)
		}
	})

	err := chromedp.Run(fetchCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedURLPatterns()),
		fetch.Enable(),
		page.SetBypassCSP(false),
		chromedp.Navigate(targetURL.String()),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseTimeout}
		}
		return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseNavigationFailed}
	}

	waitStrategy := f.stabilize(fetchCtx, isHashRoute)
	f.waitForAntiBot(fetchCtx, isHashRoute)

	var html string
	if err := chromedp.Run(fetchCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		if isCSPError(err) {
			waitStrategy = "csp-fallback"
		} else {
			return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseNavigationFailed}
		}
	}

	if status == 0 {
		status = 200
	}
	if status >= 500 {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("server error: %d", status), Retryable: true, Cause: ErrCauseRequest5xx, Code: int(status)}
	}
	if status == 429 {
		return FetchResult{}, &FetchError{Message: "rate limited (429)", Retryable: true, Cause: ErrCauseRequestTooMany, Code: int(status)}
	}
	if status == 403 {
		return FetchResult{}, &FetchError{Message: "forbidden (403)", Retryable: false, Cause: ErrCauseRequestPageForbidden, Code: int(status)}
	}
	if status >= 400 {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("client error: %d", status), Retryable: false, Cause: ErrCauseRequestPageForbidden, Code: int(status)}
	}

	result := FetchResult{
		url:       targetURL,
		body:      []byte(html),
		fetchedAt: time.Now(),
		meta: ResponseMeta{
			statusCode:      int(status),
			responseHeaders: map[string]string{"Content-Type": "text/html"},
			waitStrategy:    waitStrategy,
		},
	}
	if finalURL != "" && finalURL != targetURL.String() {
		original := targetURL
		result.redirectedFrom = &original
		if parsedFinal, parseErr := url.Parse(finalURL); parseErr == nil {
			result.url = *parsedFinal
		}
	}
	return result, nil
}

// stabilize walks the three waitUntil strategies (document-parsed,
// full-load, network-idle) in order, each bounded to waitStrategyBudget,
// and returns the name of the strategy that settled. Hash routes get a
// dedicated, shorter stabilization wait for client-side rendered content.
func (f *BrowserFetcher) stabilize(ctx context.Context, isHashRoute bool) string {
	if isHashRoute {
		waitCtx, cancel := context.WithTimeout(ctx, hashRouteWait)
		defer cancel()
		pollUntil(waitCtx, 200*time.Millisecond, func() bool {
			return nonWhitespaceBodyLength(ctx) > hashRouteMinChars
		})
		return "hash-route"
	}

	strategies := []struct {
		name string
		js   string
	}{
		{"document-parsed", `document.readyState === 'interactive' || document.readyState === 'complete'`},
		{"full-load", `document.readyState === 'complete'`},
		{"network-idle", ""},
	}

	for _, strat := range strategies {
		stratCtx, cancel := context.WithTimeout(ctx, waitStrategyBudget)
		ok := false
		if strat.js != "" {
			ok = pollUntil(stratCtx, 200*time.Millisecond, func() bool {
				return evalBool(stratCtx, strat.js)
			})
		} else {
			ok = chromedp.Run(stratCtx, waitForNetworkIdle(2*time.Second)) == nil
		}
		cancel()
		if ok {
			return strat.name
		}
	}
	return "navigation-failed"
}

// waitForAntiBot polls for interstitial challenge selectors to disappear
// and the body to carry real content, up to antiBotWait (or the shorter
// antiBotWaitHashRoute for hash-routed pages). It never solves a CAPTCHA;
// if the challenge is still showing when the budget expires, the fetcher
// proceeds to read whatever HTML is present.
func (f *BrowserFetcher) waitForAntiBot(ctx context.Context, isHashRoute bool) {
	budget := antiBotWait
	if isHashRoute {
		budget = antiBotWaitHashRoute
	}
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	pollUntil(waitCtx, 300*time.Millisecond, func() bool {
		return !challengeSelectorPresent(waitCtx) && nonWhitespaceBodyLength(waitCtx) > antiBotMinBodyChars
	})
}

func pollUntil(ctx context.Context, interval time.Duration, check func() bool) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if check() {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if check() {
				return true
			}
		}
	}
}

func evalBool(ctx context.Context, js string) bool {
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return false
	}
	return ok
}

func nonWhitespaceBodyLength(ctx context.Context) int {
	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text)); err != nil {
		return 0
	}
	return len(strings.Join(strings.Fields(text), ""))
}

func challengeSelectorPresent(ctx context.Context) bool {
	for _, sel := range challengeSelectors {
		js := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
		if evalBool(ctx, js) {
			return true
		}
	}
	return false
}

func isCSPError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "content security policy") || strings.Contains(msg, "eval") && strings.Contains(msg, "disabled")
}

// waitForNetworkIdle waits until no network requests are observed for d,
// implemented in-page via PerformanceObserver since chromedp has no
// built-in idle primitive.
func waitForNetworkIdle(d time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
      return new Promise((resolve)=>{
        if (!('PerformanceObserver' in window)) { setTimeout(resolve, waitMs); return; }
        let last = Date.now();
        const obs = new PerformanceObserver(()=>{ last = Date.now(); });
        try { obs.observe({entryTypes:['resource','navigation']}); } catch(e) {}
        const tick = () => {
          if (Date.now()-last >= waitMs) { try { obs.disconnect(); } catch(e){} resolve(); return; }
          setTimeout(tick, 100);
        };
        tick();
      });
    })(%d);`
	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(d.Milliseconds())), nil))
	}
}

// handlePausedRequest fails requests for statically blocked resource
// types (images, fonts, media, stylesheets, websockets, manifests) and
// continues everything else. Request interception runs on its own
// goroutine per event since chromedp's event dispatch must not block.
func handlePausedRequest(ctx context.Context, ev *fetch.EventRequestPaused) {
	if blockedResourceTypes[ev.ResourceType] {
		_ = chromedp.Run(ctx, fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient))
		return
	}
	_ = chromedp.Run(ctx, fetch.ContinueRequest(ev.RequestID))
}

func blockedURLPatterns() []string {
	patterns := make([]string, 0, len(blockedHostSubstrings))
	for _, host := range blockedHostSubstrings {
		patterns = append(patterns, "*"+host+"*")
	}
	return patterns
}
