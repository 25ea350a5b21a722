package robots

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/internal/robots/cache"
)

/*
CachedRobot

Responsibilities:
- Fetch robots.txt per host (delegated to RobotsFetcher, which owns the cache)
- Map the fetched response to a ruleSet scoped to the configured user agent
- Decide allow/disallow for a URL using longest-match-wins, Allow-overrides-
  Disallow-on-tie path matching, with wildcard ("*") and end-anchor ("$")
  support

Robots checks occur before a URL enters the frontier.
*/

// robotFetchTimeout bounds a single robots.txt fetch.
const robotFetchTimeout = 5 * time.Second

// CachedRobot is a comparable handle around mutable robots-decision state.
// The zero value is not usable; call Init or InitWithCache after
// NewCachedRobot.
type CachedRobot struct {
	sink  metadata.MetadataSink
	state *robotState
}

type robotState struct {
	userAgent string
	fetcher   *RobotsFetcher
}

// NewCachedRobot creates a CachedRobot that records fetch/error events to sink.
func NewCachedRobot(sink metadata.MetadataSink) CachedRobot {
	return CachedRobot{sink: sink}
}

// Init prepares the robot to decide for the given user agent, using an
// in-memory cache for the lifetime of the crawl.
func (c *CachedRobot) Init(userAgent string) {
	c.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache prepares the robot with a caller-supplied robots.txt cache.
func (c *CachedRobot) InitWithCache(userAgent string, robotsCache cache.Cache) {
	c.state = &robotState{
		userAgent: userAgent,
		fetcher:   NewRobotsFetcher(c.sink, userAgent, robotsCache),
	}
}

// Decide fetches (or reuses the cached) robots.txt for u's host and reports
// whether u may be crawled.
func (c CachedRobot) Decide(u url.URL) (Decision, error) {
	if c.state == nil {
		return Decision{}, fmt.Errorf("robots: CachedRobot not initialized")
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	ctx, cancel := context.WithTimeout(context.Background(), robotFetchTimeout)
	defer cancel()

	result, fetchErr := c.state.fetcher.Fetch(ctx, scheme, u.Host)
	if fetchErr != nil {
		if c.sink != nil {
			c.sink.RecordError(time.Now(), "robots", "fetch", mapRobotsErrorToMetadataCause(fetchErr), fetchErr.Error(), nil)
		}
		return Decision{Url: u}, fetchErr
	}

	rs := MapResponseToRuleSet(result.Response, c.state.userAgent, result.FetchedAt)
	return decideFromRuleSet(rs, u), nil
}

// Sitemaps returns the sitemap URLs declared in the robots.txt for u's host,
// fetching (or reusing the cached copy) as needed. An empty, non-error result
// means the host's robots.txt declared no sitemaps.
func (c CachedRobot) Sitemaps(u url.URL) ([]string, error) {
	if c.state == nil {
		return nil, fmt.Errorf("robots: CachedRobot not initialized")
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	ctx, cancel := context.WithTimeout(context.Background(), robotFetchTimeout)
	defer cancel()

	result, fetchErr := c.state.fetcher.Fetch(ctx, scheme, u.Host)
	if fetchErr != nil {
		if c.sink != nil {
			c.sink.RecordError(time.Now(), "robots", "fetch", mapRobotsErrorToMetadataCause(fetchErr), fetchErr.Error(), nil)
		}
		return nil, fetchErr
	}

	return result.Response.Sitemaps, nil
}

// decideFromRuleSet applies the robots.txt matching algorithm: the longest
// matching pattern wins, Allow wins ties.
func decideFromRuleSet(rs ruleSet, u url.URL) Decision {
	delay := time.Duration(0)
	if d := rs.CrawlDelay(); d != nil {
		delay = *d
	}

	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: delay}
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: delay}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	allowLen, allowMatched := bestMatchLength(rs.AllowRules(), path)
	disallowLen, disallowMatched := bestMatchLength(rs.DisallowRules(), path)

	switch {
	case !allowMatched && !disallowMatched:
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: delay}
	case allowMatched && (!disallowMatched || allowLen >= disallowLen):
		return Decision{Url: u, Allowed: true, Reason: AllowedByRobots, CrawlDelay: delay}
	default:
		return Decision{Url: u, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: delay}
	}
}

// bestMatchLength returns the length of the longest pattern in rules that
// matches path, and whether any pattern matched at all.
func bestMatchLength(rules []pathRule, path string) (int, bool) {
	matched := false
	best := 0
	for _, rule := range rules {
		if !patternMatches(rule.Prefix(), path) {
			continue
		}
		matched = true
		if n := len(rule.Prefix()); n > best {
			best = n
		}
	}
	return best, matched
}

var (
	patternRegexCacheMu sync.Mutex
	patternRegexCache   = map[string]*regexp.Regexp{}
)

// patternMatches reports whether a robots.txt Allow/Disallow pattern matches
// path. "*" matches any run of characters; a trailing "$" anchors the
// pattern to the end of path. Without "$" the pattern matches as a prefix.
//
// Decide (and now Sitemaps) may run concurrently across a crawl batch, so
// the compiled-pattern cache is guarded by a mutex rather than left as a
// bare map.
func patternMatches(pattern, path string) bool {
	patternRegexCacheMu.Lock()
	re, ok := patternRegexCache[pattern]
	if !ok {
		re = compilePattern(pattern)
		patternRegexCache[pattern] = re
	}
	patternRegexCacheMu.Unlock()
	return re.MatchString(path)
}

func compilePattern(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	body := pattern
	if anchored {
		body = strings.TrimSuffix(body, "$")
	}

	segments := strings.Split(body, "*")
	var sb strings.Builder
	sb.WriteString("^")
	for i, segment := range segments {
		if i > 0 {
			sb.WriteString(".*")
		}
		sb.WriteString(regexp.QuoteMeta(segment))
	}
	if anchored {
		sb.WriteString("$")
	}
	return regexp.MustCompile(sb.String())
}
