package metadata

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

import (
	"log/slog"
	"time"
)

// Recorder is the concrete MetadataSink/CrawlFinalizer backed by structured
// logging. It holds no crawl state of its own - every call is translated
// directly into a log line, never aggregated or read back.
type Recorder struct {
	logger      *slog.Logger
	componentID string
}

// NewRecorder returns a Recorder that tags every log line with componentID
// (e.g. a worker name), so log lines from concurrent workers can be
// attributed without shared state.
func NewRecorder(componentID string) *Recorder {
	return &Recorder{
		logger:      slog.Default(),
		componentID: componentID,
	}
}

// NewRecorderWithLogger is the test/DI constructor for injecting a specific
// *slog.Logger (e.g. one writing to a buffer for assertions).
func NewRecorderWithLogger(componentID string, logger *slog.Logger) *Recorder {
	return &Recorder{
		logger:      logger,
		componentID: componentID,
	}
}

func (r *Recorder) RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.logger.Info("fetch",
		slog.String("component", r.componentID),
		slog.String("url", fetchURL),
		slog.Int("status", httpStatus),
		slog.Duration("duration", duration),
		slog.String("content_type", contentType),
		slog.Int("retry_count", retryCount),
		slog.Int("depth", crawlDepth),
	)
}

func (r *Recorder) RecordAssetFetch(fetchURL string, httpStatus int, duration time.Duration, retryCount int) {
	r.logger.Info("asset_fetch",
		slog.String("component", r.componentID),
		slog.String("url", fetchURL),
		slog.Int("status", httpStatus),
		slog.Duration("duration", duration),
		slog.Int("retry_count", retryCount),
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	args := []any{
		slog.String("component", r.componentID),
		slog.Time("observed_at", observedAt),
		slog.String("package", packageName),
		slog.String("action", action),
		slog.Int("cause", int(cause)),
		slog.String("error", errorString),
	}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Error("crawl_error", args...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	args := []any{
		slog.String("component", r.componentID),
		slog.String("kind", string(kind)),
		slog.String("path", path),
	}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Info("artifact", args...)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration) {
	r.logger.Info("crawl_finished",
		slog.String("component", r.componentID),
		slog.Int("total_pages", totalPages),
		slog.Int("total_errors", totalErrors),
		slog.Int("total_assets", totalAssets),
		slog.Duration("duration", duration),
	)
}

var (
	_ MetadataSink   = (*Recorder)(nil)
	_ CrawlFinalizer = (*Recorder)(nil)
)
