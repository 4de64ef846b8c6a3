package fetcher

import (
	"context"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

// Fetcher performs a single HTTP GET, classifying the outcome per spec
// §4.5: any content-type is accepted, redirects are bounded, and network
// failures are synthesized into FetchResult-free errors rather than
// returned as partial results.
type Fetcher interface {
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)

	// Shutdown releases the fetcher's shared transport's idle
	// connections. Call once, when no more fetches will be issued.
	Shutdown()
}
