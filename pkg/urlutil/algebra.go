package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// threeLabelSuffixes lists the recognized two-label public suffixes whose
// registrable domain takes three labels instead of two (e.g. "example.co.uk",
// not "co.uk").
var threeLabelSuffixes = map[string]bool{
	"co.uk":  true,
	"com.au": true,
	"com.br": true,
	"co.za":  true,
	"com.mx": true,
	"co.jp":  true,
}

// Parse turns a raw string into an absolute http(s) URL. Anything else —
// mailto, tel, javascript, data, a protocol-relative reference with no base
// to resolve against, or a string that doesn't parse at all — fails.
func Parse(raw string) (url.URL, *ParseError) {
	u, err := url.Parse(raw)
	if err != nil {
		return url.URL{}, &ParseError{Raw: raw, Cause: ErrCauseMalformed, Message: err.Error()}
	}
	scheme := lowerASCII(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return url.URL{}, &ParseError{Raw: raw, Cause: ErrCauseUnknownScheme, Message: fmt.Sprintf("scheme %q is not http(s)", u.Scheme)}
	}
	if u.Host == "" {
		return url.URL{}, &ParseError{Raw: raw, Cause: ErrCauseMissingHost, Message: "url has no host"}
	}
	u.Scheme = scheme
	u.Host = lowerASCII(u.Host)
	return *u, nil
}

// Resolve resolves href against base per RFC 3986, starting from base as the
// current page's URL (not the site root). Go's net/url already implements
// RFC 3986 §5 reference resolution (absolute URLs, protocol-relative
// references, absolute paths, and relative paths against the base's own
// path) via ResolveReference, so this wraps it and then enforces the same
// http(s)-only constraint as Parse.
func Resolve(base url.URL, href string) (url.URL, *ParseError) {
	ref, err := url.Parse(href)
	if err != nil {
		return url.URL{}, &ParseError{Raw: href, Cause: ErrCauseMalformed, Message: err.Error()}
	}

	resolved := base.ResolveReference(ref)

	scheme := lowerASCII(resolved.Scheme)
	if scheme != "http" && scheme != "https" {
		return url.URL{}, &ParseError{Raw: href, Cause: ErrCauseUnknownScheme, Message: fmt.Sprintf("scheme %q is not http(s)", resolved.Scheme)}
	}
	if resolved.Host == "" {
		return url.URL{}, &ParseError{Raw: href, Cause: ErrCauseMissingHost, Message: "url has no host"}
	}
	resolved.Scheme = scheme
	resolved.Host = lowerASCII(resolved.Host)
	return *resolved, nil
}

// Normalize strips the query string always, and strips the hash unless
// preserveHash is true or the hash is itself a hash route (#/...). Trailing
// slash is left alone: some servers 404 without it, so only canonical()
// (the VisitedSet key) strips it.
func Normalize(u url.URL, preserveHash bool) url.URL {
	n := u
	n.Scheme = lowerASCII(n.Scheme)
	n.Host = lowerASCII(n.Host)
	n.RawQuery = ""
	n.ForceQuery = false
	if !preserveHash && !IsHashRoute(u) {
		n.Fragment = ""
		n.RawFragment = ""
	}
	return n
}

// BaseOf returns the canonical form of u with any non-route hash removed.
// A hash route is part of the page identity (client-side routing); a plain
// hash fragment is not.
func BaseOf(u url.URL) url.URL {
	n := Normalize(u, IsHashRoute(u))
	n.Path = stripTrailingSlash(n.Path)
	return n
}

// Canonical is the string form of BaseOf(u). This is the VisitedSet key.
func Canonical(u url.URL) string {
	b := BaseOf(u)
	return b.String()
}

// SameSite reports whether a and b share a registrable domain. Registrable
// domain is the last two labels of the hostname, except for the recognized
// two-label public suffixes (co.uk, com.au, com.br, co.za, com.mx, co.jp),
// for which three labels are taken. This is deliberately looser than
// hostname equality so that www.example.com and about.example.com are
// treated as the same crawl scope.
func SameSite(a, b url.URL) bool {
	return registrableDomain(a.Hostname()) == registrableDomain(b.Hostname())
}

func registrableDomain(host string) string {
	host = lowerASCII(host)
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if threeLabelSuffixes[lastTwo] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// IsHashRoute reports whether u's fragment begins with "/", i.e. is a
// client-side-router path such as "#/docs/intro" rather than an in-page
// anchor.
func IsHashRoute(u url.URL) bool {
	return strings.HasPrefix(u.Fragment, "/")
}

// IsHashFragment reports whether u has a non-empty fragment that is not a
// hash route.
func IsHashFragment(u url.URL) bool {
	return u.Fragment != "" && !IsHashRoute(u)
}
