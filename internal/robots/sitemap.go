package robots

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sitescope/crawlcore/internal/metadata"
)

/*
Sitemap discovery

Responsibilities:
- Probe robots-declared sitemaps, then a fixed list of default locations
- Follow sitemap index files recursively (bounded depth and fan-out)
- Decode gzip-compressed sitemaps
- Parse urlset, sitemap-index, and plain-text/feed flavors
- Cap the total number of discovered URLs
- Sample a diverse subset when a site exposes more URLs than we will crawl
*/

const (
	sitemapMaxURLs        = 5000
	sitemapMaxIndexDepth  = 5
	sitemapMaxChildren    = 20
	sitemapFetchTimeout   = 10 * time.Second
	sitemapMaxRedirects   = 5
	sitemapDiverseSamples = 50
)

// defaultSitemapLocations are probed when robots.txt declares no sitemap.
var defaultSitemapLocations = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml.gz",
	"/sitemaps.xml",
	"/sitemap1.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/sitemap/sitemap.xml",
	"/sitemaps/sitemap.xml",
	"/wp-sitemap.xml",
}

// urlsetXML mirrors the sitemaps.org urlset document.
type urlsetXML struct {
	XMLName xml.Name  `xml:"urlset"`
	URLs    []urlXML  `xml:"url"`
}

type urlXML struct {
	Loc string `xml:"loc"`
}

// sitemapIndexXML mirrors the sitemaps.org sitemapindex document.
type sitemapIndexXML struct {
	XMLName  xml.Name   `xml:"sitemapindex"`
	Sitemaps []locOnlyXML `xml:"sitemap"`
}

type locOnlyXML struct {
	Loc string `xml:"loc"`
}

// SitemapDiscovery is the outcome of probing a host for sitemaps.
type SitemapDiscovery struct {
	URLs   []string
	Source string
	Errors []string
}

// SitemapFetcher fetches and parses sitemap documents over HTTP.
type SitemapFetcher struct {
	httpClient *http.Client
	userAgent  string
	sink       metadata.MetadataSink
}

// NewSitemapFetcher builds a SitemapFetcher that follows up to
// sitemapMaxRedirects redirects and refuses to chase more than that.
func NewSitemapFetcher(sink metadata.MetadataSink, userAgent string) *SitemapFetcher {
	return &SitemapFetcher{
		httpClient: &http.Client{
			Timeout: sitemapFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= sitemapMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", sitemapMaxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
		sink:      sink,
	}
}

// Discover probes declaredSitemaps (from robots.txt) and, failing those, the
// default sitemap locations for scheme://host, returning a deduplicated,
// capped set of page URLs.
func (f *SitemapFetcher) Discover(ctx context.Context, scheme, host string, declaredSitemaps []string) SitemapDiscovery {
	candidates := make([]string, 0, len(declaredSitemaps)+len(defaultSitemapLocations))
	candidates = append(candidates, declaredSitemaps...)
	for _, loc := range defaultSitemapLocations {
		candidates = append(candidates, fmt.Sprintf("%s://%s%s", scheme, host, loc))
	}

	discovery := SitemapDiscovery{}
	seen := map[string]struct{}{}
	visitedSitemaps := map[string]struct{}{}

	for _, candidate := range candidates {
		if len(discovery.URLs) >= sitemapMaxURLs {
			break
		}
		urls, source, err := f.collect(ctx, candidate, 0, visitedSitemaps)
		if err != nil {
			discovery.Errors = append(discovery.Errors, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		if len(urls) == 0 {
			continue
		}
		if discovery.Source == "" {
			discovery.Source = source
		}
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			discovery.URLs = append(discovery.URLs, u)
			if len(discovery.URLs) >= sitemapMaxURLs {
				break
			}
		}
		// Stop at the first candidate that actually yields URLs: a
		// sitemap index recurses into its own children already.
		if len(discovery.URLs) > 0 {
			break
		}
	}

	return discovery
}

// collect fetches one sitemap document (index or urlset) and returns the
// page URLs it contributes, recursing into index children up to
// sitemapMaxIndexDepth.
func (f *SitemapFetcher) collect(ctx context.Context, sitemapURL string, depth int, visited map[string]struct{}) ([]string, string, error) {
	if depth > sitemapMaxIndexDepth {
		return nil, "", fmt.Errorf("sitemap index depth exceeded")
	}
	if _, ok := visited[sitemapURL]; ok {
		return nil, "", nil
	}
	visited[sitemapURL] = struct{}{}

	body, contentType, err := f.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, "", err
	}

	if idx, ok := parseSitemapIndex(body); ok {
		var urls []string
		children := idx.Sitemaps
		if len(children) > sitemapMaxChildren {
			children = children[:sitemapMaxChildren]
		}
		for _, child := range children {
			loc := strings.TrimSpace(html.UnescapeString(child.Loc))
			if loc == "" {
				continue
			}
			childURLs, _, childErr := f.collect(ctx, loc, depth+1, visited)
			if childErr != nil {
				continue
			}
			urls = append(urls, childURLs...)
			if len(urls) >= sitemapMaxURLs {
				break
			}
		}
		return urls, sitemapURL, nil
	}

	if set, ok := parseURLSet(body); ok {
		return set, sitemapURL, nil
	}

	if urls := parseTextOrFeedSitemap(body, contentType); len(urls) > 0 {
		return urls, sitemapURL, nil
	}

	return nil, "", fmt.Errorf("unrecognized sitemap format")
}

// fetch retrieves sitemapURL and transparently gunzips it when the server
// (or the .gz extension) indicates compression.
func (f *SitemapFetcher) fetch(ctx context.Context, sitemapURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml,text/plain,*/*")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if f.sink != nil {
		f.sink.RecordFetch(sitemapURL, resp.StatusCode, time.Since(start), resp.Header.Get("Content-Type"), 0, 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	const maxSize = 10 * 1024 * 1024
	reader := io.Reader(io.LimitReader(resp.Body, maxSize))

	if resp.Header.Get("Content-Encoding") == "gzip" || strings.HasSuffix(sitemapURL, ".gz") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, "", fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func parseSitemapIndex(body []byte) (sitemapIndexXML, bool) {
	var idx sitemapIndexXML
	if err := xml.Unmarshal(body, &idx); err != nil {
		return sitemapIndexXML{}, false
	}
	if len(idx.Sitemaps) == 0 {
		return sitemapIndexXML{}, false
	}
	return idx, true
}

func parseURLSet(body []byte) ([]string, bool) {
	var set urlsetXML
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, false
	}
	if len(set.URLs) == 0 {
		return nil, false
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(html.UnescapeString(u.Loc))
		if loc == "" {
			continue
		}
		if len(urls) >= sitemapMaxURLs {
			break
		}
		urls = append(urls, loc)
	}
	return urls, len(urls) > 0
}

// parseTextOrFeedSitemap handles the plain-text sitemap flavor (one URL per
// line) and a best-effort RSS/Atom fallback (bare <link> elements).
func parseTextOrFeedSitemap(body []byte, contentType string) []string {
	text := string(body)
	if strings.Contains(contentType, "xml") && strings.Contains(text, "<link>") {
		var urls []string
		rest := text
		for {
			start := strings.Index(rest, "<link>")
			if start == -1 {
				break
			}
			rest = rest[start+len("<link>"):]
			end := strings.Index(rest, "</link>")
			if end == -1 {
				break
			}
			loc := strings.TrimSpace(html.UnescapeString(rest[:end]))
			if loc != "" {
				urls = append(urls, loc)
			}
			rest = rest[end:]
			if len(urls) >= sitemapMaxURLs {
				break
			}
		}
		return urls
	}

	var urls []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := url.ParseRequestURI(line); err != nil {
			continue
		}
		urls = append(urls, line)
		if len(urls) >= sitemapMaxURLs {
			break
		}
	}
	return urls
}

// SampleDiverse picks at most limit URLs from urls, favoring breadth across
// first path segments over raw order: the homepage (if present) always
// comes first, then URLs are taken round-robin by first path segment so a
// sitemap dominated by one section doesn't crowd out the rest.
func SampleDiverse(urls []string, limit int) []string {
	if len(urls) <= limit {
		return urls
	}

	buckets := map[string][]string{}
	var order []string
	var homepage string

	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		segment := firstPathSegment(parsed.Path)
		if segment == "" && homepage == "" {
			homepage = u
			continue
		}
		if _, ok := buckets[segment]; !ok {
			order = append(order, segment)
		}
		buckets[segment] = append(buckets[segment], u)
	}

	sample := make([]string, 0, limit)
	if homepage != "" {
		sample = append(sample, homepage)
	}

	for len(sample) < limit {
		progressed := false
		for _, segment := range order {
			if len(sample) >= limit {
				break
			}
			bucket := buckets[segment]
			if len(bucket) == 0 {
				continue
			}
			sample = append(sample, bucket[0])
			buckets[segment] = bucket[1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}

	return sample
}

func firstPathSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.Index(trimmed, "/"); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}
