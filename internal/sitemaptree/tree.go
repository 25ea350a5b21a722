package sitemaptree

import (
	"net/url"
	"strings"

	"github.com/sitescope/crawlcore/internal/record"
)

/*
Builder walks a completed crawl's PageRecords and derives the canonical
tree:

- Each record's path is derived from its URL (plus a hash-route suffix
  when the record is a hash route), or from its declared canonical meta
  URL when present.
- Segments are walked from the root, creating nodes on demand.
- The terminal node for a record's path gets its direct_count incremented
  and its indexability set from the record's robots meta ("noindex"
  anywhere under a node makes the node non-indexable).
- After every record is inserted, subtree_count is recomputed bottom-up.

Running Build twice over the same records yields a byte-identical tree:
insertion order does not affect the final counts or indexability.
*/

// Build constructs the canonical tree from records.
func Build(records []record.PageRecord) Tree {
	root := newNode("", "/")
	tree := Tree{Root: root}

	for _, rec := range records {
		if rec.IsError() {
			continue
		}
		path := derivePath(rec)
		segments := splitSegments(path)
		if len(segments) > tree.MaxDepth {
			tree.MaxDepth = len(segments)
		}

		node := root
		acc := ""
		for _, seg := range segments {
			acc += "/" + seg
			child, ok := node.Children[seg]
			if !ok {
				child = newNode(seg, acc)
				node.Children[seg] = child
			}
			node = child
		}

		node.DirectCount++
		if rec.Signals.Noindex() {
			node.ownNoindex = true
		}
		tree.TotalPages++
	}

	recomputeSubtreeCounts(root)
	recomputeIndexability(root)
	return tree
}

// derivePath returns the path this record should be placed at: the
// record's canonical meta URL path when set, else the record's own URL
// path, with a hash-route suffix appended when the record is a hash route.
func derivePath(rec record.PageRecord) string {
	raw := rec.URL
	if rec.Signals.Canonical != "" {
		raw = rec.Signals.Canonical
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "/"
	}

	path := parsed.Path
	if rec.IsHashRoute {
		frag := strings.TrimPrefix(parsed.Fragment, "/")
		path = strings.TrimRight(path, "/") + "/" + frag
	}
	return path
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// recomputeIndexability applies "noindex anywhere ⇒ indexable=false": a
// node is indexable only if none of its own records were noindex and every
// child subtree is indexable.
func recomputeIndexability(n *Node) bool {
	indexable := !n.ownNoindex
	for _, child := range n.Children {
		if !recomputeIndexability(child) {
			indexable = false
		}
	}
	n.Indexable = indexable
	return indexable
}

// recomputeSubtreeCounts walks the tree bottom-up: a node's subtree_count
// is its own direct_count plus the subtree_count of every child.
func recomputeSubtreeCounts(n *Node) int {
	total := n.DirectCount
	for _, child := range n.Children {
		total += recomputeSubtreeCounts(child)
	}
	n.SubtreeCount = total
	return total
}
