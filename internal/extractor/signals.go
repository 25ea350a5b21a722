package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitescope/crawlcore/internal/record"
	"github.com/sitescope/crawlcore/pkg/urlutil"
)

/*
Signal extraction

Responsibilities, independent of how the page was fetched:
- Resolve the page's title through a priority chain (og:title, twitter:title,
  h1, document title, h2, URL-derived) with special-casing for the root URL
  and known anti-bot interstitial titles
- Collect meta/content signals: description, robots, canonical, og:title,
  h1 text, h2 count, word count, framework hint
- Enumerate outbound links (including pagination/"next" links), resolved
  against the page's own URL, carrying their link text and verbatim href
- Classify the page by a path-substring heuristic

This is deliberately decoupled from the browser-driving fetcher: it only
needs the final HTML and the page's URL.
*/

// interstitialTitlePhrases are substrings of <title>/og:title that indicate
// an anti-bot challenge page rather than real content; when present the
// title priority chain falls back to a URL-derived title instead.
var interstitialTitlePhrases = []string{
	"just a moment",
	"checking your browser",
	"please wait",
}

// Link is an outbound link discovered on a page.
type Link struct {
	URL       url.URL
	Text      string // visible anchor text, or the title attribute if empty
	RawHref   string // verbatim href as written in the document
	IsNext    bool   // true for <link rel="next"> and recognizable "next page" anchors
}

// PageSignals is everything the signal extractor derives from one fetched
// document.
type PageSignals struct {
	Title   string
	Signals record.Signals
	Links   []Link
}

// ExtractSignals parses html (the page's stabilized outerHTML) relative to
// pageURL and derives title, meta signals, and outbound links.
func ExtractSignals(pageURL url.URL, html []byte) (PageSignals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return PageSignals{}, err
	}

	signals := extractMetaSignals(doc)
	title := resolveTitle(doc, pageURL, signals)
	links := extractLinks(doc, pageURL)

	return PageSignals{Title: title, Signals: signals, Links: links}, nil
}

func extractMetaSignals(doc *goquery.Document) record.Signals {
	s := record.Signals{Robots: "index,follow"}

	if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		s.Description = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="robots"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		s.Robots = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		s.Canonical = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		s.OGTitle = strings.TrimSpace(v)
	}
	s.H1 = strings.TrimSpace(doc.Find("h1").First().Text())
	s.H2Count = doc.Find("h2").Length()
	s.WordCount = len(strings.Fields(doc.Find("body").Text()))
	s.Framework = detectFramework(doc)

	return s
}

func detectFramework(doc *goquery.Document) string {
	html, _ := doc.Find("html").Html()
	switch {
	case doc.Find("#__next").Length() > 0 || strings.Contains(html, "__NEXT_DATA__"):
		return "nextjs"
	case doc.Find("[data-reactroot]").Length() > 0 || doc.Find("#root").Length() > 0:
		return "react"
	case doc.Find("[data-v-app]").Length() > 0 || doc.Find("#app").Length() > 0:
		return "vue"
	case doc.Find("[ng-app]").Length() > 0 || doc.Find("app-root").Length() > 0:
		return "angular"
	default:
		return "unknown"
	}
}

// resolveTitle implements the title priority chain.
//
// Non-root URLs: og:title -> twitter:title -> h1 -> document title -> h2 ->
// URL-derived. For the root URL (path "/" with no hash), document title is
// preferred over og:title. A known interstitial phrase in whatever the
// chain would otherwise pick forces a fallback to the URL-derived title.
// A caller-supplied link title (from the referring page's anchor text)
// always wins over all of this and is applied by the scheduler, not here.
func resolveTitle(doc *goquery.Document, pageURL url.URL, signals record.Signals) string {
	docTitle := strings.TrimSpace(doc.Find("title").First().Text())
	twitterTitle, _ := doc.Find(`meta[name="twitter:title"]`).Attr("content")
	twitterTitle = strings.TrimSpace(twitterTitle)

	isRoot := pageURL.Path == "" || pageURL.Path == "/"
	isRoot = isRoot && pageURL.Fragment == ""

	var chain []string
	if isRoot {
		chain = []string{docTitle, signals.OGTitle, twitterTitle, signals.H1, secondH2(doc)}
	} else {
		chain = []string{signals.OGTitle, twitterTitle, signals.H1, docTitle, secondH2(doc)}
	}

	for _, candidate := range chain {
		if candidate == "" {
			continue
		}
		if isInterstitial(candidate) {
			return titleFromURL(pageURL)
		}
		return candidate
	}

	return titleFromURL(pageURL)
}

func secondH2(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("h2").First().Text())
}

func isInterstitial(title string) bool {
	lower := strings.ToLower(title)
	for _, phrase := range interstitialTitlePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// titleFromURL derives a human title from the last non-empty path segment:
// dashes/underscores become spaces, and the result is title-cased.
func titleFromURL(u url.URL) string {
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
	return titleCase(last)
}

// titleCase upper-cases the first letter of each space-separated word.
// strings.Title is deprecated (it doesn't handle Unicode word boundaries
// correctly); URL path segments are ASCII slugs, so this simpler version
// is both correct here and dependency-free.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// extractLinks enumerates <a href> and <link rel="next"> elements, resolving
// each href against pageURL. Hash-fragment-only hrefs are not skipped here
// (they resolve to pageURL plus a fragment); the scheduler's link acceptance
// filter (not this package) decides admission.
func extractLinks(doc *goquery.Document, pageURL url.URL) []Link {
	var links []Link

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.TrimSpace(href) == "" {
			return
		}
		resolved, parseErr := urlutil.Resolve(pageURL, href)
		if parseErr != nil {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			text, _ = sel.Attr("title")
		}
		links = append(links, Link{
			URL:     resolved,
			Text:    strings.TrimSpace(text),
			RawHref: href,
			IsNext:  isNextLink(sel, text),
		})
	})

	doc.Find(`link[rel="next"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, parseErr := urlutil.Resolve(pageURL, href)
		if parseErr != nil {
			return
		}
		links = append(links, Link{URL: resolved, RawHref: href, IsNext: true})
	})

	return links
}

func isNextLink(sel *goquery.Selection, text string) bool {
	if rel, ok := sel.Attr("rel"); ok && strings.Contains(strings.ToLower(rel), "next") {
		return true
	}
	lower := strings.ToLower(text)
	return lower == "next" || strings.Contains(lower, "next page") || strings.Contains(lower, "»")
}

// Classify applies the path-substring classification heuristic.
func Classify(u url.URL) string {
	path := strings.ToLower(u.Path)
	switch {
	case strings.Contains(path, "/blog") || strings.Contains(path, "/article") || strings.Contains(path, "/post"):
		return "article"
	case strings.Contains(path, "/product") || strings.Contains(path, "/shop"):
		return "product"
	case strings.Contains(path, "/learn") || strings.Contains(path, "/tutorial") || strings.Contains(path, "/guide"):
		return "article"
	default:
		return "page"
	}
}

// PathDepth returns the number of non-empty path segments, used by the
// sitemap tree builder and issue detector.
func PathDepth(u url.URL) int {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	n := 0
	for _, s := range segments {
		if s != "" {
			n++
		}
	}
	return n
}
