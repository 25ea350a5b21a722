// Command crawlcore crawls a site starting from one or more seed URLs and
// writes a PageRecord per page visited, along with a canonical sitemap tree
// and an issue report, to its output directory.
package main

import (
	cmd "github.com/sitescope/crawlcore/internal/cli"
)

func main() {
	cmd.Execute()
}
