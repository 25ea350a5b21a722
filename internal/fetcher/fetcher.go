package fetcher

import (
	"context"

	"github.com/sitescope/crawlcore/pkg/failure"
	"github.com/sitescope/crawlcore/pkg/retry"
)

// Fetcher renders a URL in a real browser and returns its stabilized HTML
// plus the signals needed to classify the fetch (status, redirects, wait
// strategy used).
type Fetcher interface {
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)

	// Close releases the underlying browser process. Safe to call once,
	// at shutdown.
	Close()
}
