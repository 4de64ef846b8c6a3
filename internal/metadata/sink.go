package metadata

import "time"

// ArtifactKind classifies what RecordArtifact is reporting about, for
// logging/metrics labeling only.
type ArtifactKind string

const (
	ArtifactKindContentBlob ArtifactKind = "content_blob"
	ArtifactKindFrontierLog ArtifactKind = "frontier_log"
)

// MetadataSink is the observability boundary every package in this crawl
// records through. It is never read from and never drives control flow -
// packages call it to report what happened, not to decide what to do next.
type MetadataSink interface {
	// RecordFetch logs a single page fetch attempt.
	RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)

	// RecordAssetFetch logs a fetch of a non-page resource (e.g. robots.txt).
	RecordAssetFetch(fetchURL string, httpStatus int, duration time.Duration, retryCount int)

	// RecordError logs a classified failure for later diagnosis.
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute)

	// RecordArtifact logs that a durable artifact (content blob, frontier
	// segment) was produced.
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// CrawlFinalizer records the terminal summary of a completed crawl, exactly
// once, after all workers have stopped.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration)
}
