package issues

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sitescope/crawlcore/internal/record"
	"github.com/sitescope/crawlcore/internal/sitemaptree"
)

var digitSegmentRe = regexp.MustCompile(`^[a-z]+(_|-)?\d+$`)

// Detect runs every detector over records and tree and returns the
// aggregate report.
func Detect(records []record.PageRecord, tree sitemaptree.Tree) Report {
	var report Report

	detectDepth(records, tree, &report)
	detectDuplication(records, &report)
	detectHierarchy(tree, &report)
	detectCrawlWaste(records, &report)
	detectSEO(records, &report)

	return report
}

// detectDepth flags individual pages deeper than maxReasonableDepth and
// records the crawl's aggregate max depth.
func detectDepth(records []record.PageRecord, tree sitemaptree.Tree, report *Report) {
	for _, rec := range records {
		if rec.IsError() {
			continue
		}
		if rec.Depth > maxReasonableDepth {
			report.add(CategoryDepth, "excessive_page_depth", rec.URL,
				fmt.Sprintf("depth %d exceeds %d", rec.Depth, maxReasonableDepth))
		}
	}
	if tree.MaxDepth > maxReasonableDepth {
		report.add(CategoryDepth, "excessive_tree_depth", "",
			fmt.Sprintf("tree max depth %d exceeds %d", tree.MaxDepth, maxReasonableDepth))
	}
}

// detectDuplication flags all-digit terminal segments (pagination/ID-like
// paths worth collapsing) and titles that repeat across distinct paths.
func detectDuplication(records []record.PageRecord, report *Report) {
	titleToPaths := map[string][]string{}

	for _, rec := range records {
		if rec.IsError() {
			continue
		}
		if parsed, err := url.Parse(rec.URL); err == nil {
			if seg := lastSegment(parsed.Path); seg != "" && (strings.Trim(seg, "0123456789") == "" || digitSegmentRe.MatchString(seg)) {
				report.add(CategoryDuplication, "numeric_terminal_segment", rec.URL,
					fmt.Sprintf("terminal segment %q looks like a pagination/id suffix", seg))
			}
		}
		if rec.Title != "" {
			titleToPaths[rec.Title] = append(titleToPaths[rec.Title], rec.URL)
		}
	}

	for title, paths := range titleToPaths {
		if len(paths) > 1 {
			report.add(CategoryDuplication, "repeated_title", "",
				fmt.Sprintf("title %q repeats across %d pages: %s", title, len(paths), strings.Join(paths, ", ")))
		}
	}
}

func lastSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// detectHierarchy flags an overloaded root (too many first-level sections)
// and flat sections (a first-level node with many descendants but almost
// no internal structure).
func detectHierarchy(tree sitemaptree.Tree, report *Report) {
	if tree.Root == nil {
		return
	}
	if len(tree.Root.Children) > maxFirstLevelSections {
		report.add(CategoryHierarchy, "overloaded_root", "",
			fmt.Sprintf("%d first-level sections exceeds %d", len(tree.Root.Children), maxFirstLevelSections))
	}

	for _, section := range tree.Root.Children {
		descendants := section.SubtreeCount - section.DirectCount
		depth := subtreeMaxDepth(section)
		if descendants > flatSectionDescendants &&
			len(section.Children) > flatSectionDirectChildren &&
			depth <= flatSectionMaxSubDepth {
			report.add(CategoryHierarchy, "flat_section", section.Path,
				fmt.Sprintf("%d descendants across %d direct children with max sub-depth %d", descendants, len(section.Children), depth))
		}
	}
}

func subtreeMaxDepth(n *sitemaptree.Node) int {
	if len(n.Children) == 0 {
		return 0
	}
	best := 0
	for _, child := range n.Children {
		if d := subtreeMaxDepth(child) + 1; d > best {
			best = d
		}
	}
	return best
}

// detectCrawlWaste flags faceted URLs (carried a query string at fetch
// time) and orphaned pages (never referenced as an outbound link by any
// other record).
func detectCrawlWaste(records []record.PageRecord, report *Report) {
	referenced := map[string]bool{}
	for _, rec := range records {
		for _, link := range rec.Links {
			if link == rec.URL {
				continue
			}
			referenced[link] = true
		}
	}

	for _, rec := range records {
		if rec.IsError() {
			continue
		}
		if rec.Signals.HadQueryString {
			report.add(CategoryCrawlWaste, "faceted_url", rec.URL, "URL carried a query string at fetch time")
		}
		if !referenced[rec.URL] && rec.Depth > 0 {
			report.add(CategoryCrawlWaste, "orphaned_page", rec.URL, "not referenced as an outbound link by any other page")
		}
	}
}

// detectSEO flags thin content, noindex pages, and missing canonical tags.
func detectSEO(records []record.PageRecord, report *Report) {
	for _, rec := range records {
		if rec.IsError() {
			continue
		}
		if rec.Signals.WordCount > 0 && rec.Signals.WordCount < thinContentMaxWords {
			report.add(CategorySEO, "thin_content", rec.URL, fmt.Sprintf("%d words", rec.Signals.WordCount))
		}
		if rec.Signals.Noindex() {
			report.add(CategorySEO, "noindex_page", rec.URL, "robots meta contains noindex")
		}
		if rec.Signals.Canonical == "" {
			report.add(CategorySEO, "missing_canonical", rec.URL, "no canonical link tag")
		}
	}
}
