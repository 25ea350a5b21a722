// Package sitemaptree builds the canonical site tree from a completed
// crawl's PageRecords: a hierarchy rooted at "/" where each node aggregates
// direct and subtree page counts and propagates indexability.
package sitemaptree

// Node is one path segment in the canonical tree.
type Node struct {
	Segment      string
	Path         string
	Children     map[string]*Node
	DirectCount  int
	SubtreeCount int
	Indexable    bool

	// ownNoindex records whether any record landing directly on this node
	// carried a noindex directive, independent of its children.
	ownNoindex bool
}

func newNode(segment, path string) *Node {
	return &Node{
		Segment:   segment,
		Path:      path,
		Children:  map[string]*Node{},
		Indexable: true,
	}
}

// Tree is the canonical site tree for one crawl.
type Tree struct {
	Root       *Node
	TotalPages int
	MaxDepth   int
}
