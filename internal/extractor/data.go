package extractor

import "golang.org/x/net/html"

// ExtractionResult holds the extraction outcome.
// DocumentRoot is the original parsed HTML document.
// ContentNode is the extracted meaningful content node (semantic container).
type ExtractionResult struct {
	DocumentRoot *html.Node
	ContentNode  *html.Node
}

// ExtractParam tunes the Layer 3 (explicit-chrome-removal + scoring)
// heuristic. Callers normally get these from defaultExtractParam; they are
// only exposed for tests that need to probe the scoring boundary.
type ExtractParam struct {
	// LinkDensityThreshold is the maximum ratio of link text to total text
	// before a scoring penalty applies.
	LinkDensityThreshold float64
	// BodySpecificityBias is the threshold for preferring a child container
	// over <body>: a child is preferred when its score is >= bias * bodyScore.
	BodySpecificityBias float64
}

func defaultExtractParam() ExtractParam {
	return ExtractParam{
		LinkDensityThreshold: 0.80,
		BodySpecificityBias:  0.75,
	}
}
