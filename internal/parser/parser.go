// Package parser is the PC module: it consumes fetch results from FQ,
// persists their bodies and visit records through SS, and discovers new
// links for FM to add to the frontier.
package parser

/*
Responsibilities
- Pop one fetch result at a time from FQ
- Persist the body (if any) and the visit record through SS
- Extract outbound links when the content is HTML, scope-filter them,
  and hand them to FM in one batched AddURLs call

Out of scope
- Deciding whether a URL may be fetched (PE's job)
- Claiming or releasing domains (FM's job)
- Parsing anything beyond <a href> link discovery
*/

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/storage"
	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

// FetchQueue is the narrow slice of internal/fetchqueue.Queue PC needs.
type FetchQueue interface {
	BlockingPop(ctx context.Context) (fetchqueue.Record, bool, error)
}

// FrontierManager is the narrow slice of internal/frontier.Manager PC needs.
type FrontierManager interface {
	AddURLs(ctx context.Context, source []url.URL, depth int) error
}

// Storage is the narrow slice of internal/storage.Sink PC needs.
type Storage interface {
	WriteContent(ctx context.Context, body []byte) (storage.ContentWriteResult, error)
	RecordVisit(ctx context.Context, rec storage.VisitedRecord) error
}

// storageAdapter narrows storage.Sink's failure.ClassifiedError returns to
// plain errors, so Storage above stays import-light for fakes in tests.
type storageAdapter struct {
	sink storage.Sink
}

func (a storageAdapter) WriteContent(ctx context.Context, body []byte) (storage.ContentWriteResult, error) {
	result, err := a.sink.WriteContent(ctx, body)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (a storageAdapter) RecordVisit(ctx context.Context, rec storage.VisitedRecord) error {
	if err := a.sink.RecordVisit(ctx, rec); err != nil {
		return err
	}
	return nil
}

// NewStorageAdapter wraps a storage.Sink as a parser.Storage.
func NewStorageAdapter(sink storage.Sink) Storage {
	return storageAdapter{sink: sink}
}

// Worker is one PC goroutine: BlockingPop, persist, extract, repeat, until
// its context is cancelled.
type Worker struct {
	queue        FetchQueue
	fm           FrontierManager
	storage      Storage
	metadataSink metadata.MetadataSink
	allowedHosts []string
}

// NewWorker constructs a Worker. allowedHosts scope-filters discovered
// links per pkg/urlutil.InScope; an empty slice means unrestricted.
func NewWorker(queue FetchQueue, fm FrontierManager, storage Storage, sink metadata.MetadataSink, allowedHosts []string) *Worker {
	return &Worker{
		queue:        queue,
		fm:           fm,
		storage:      storage,
		metadataSink: sink,
		allowedHosts: allowedHosts,
	}
}

// Run pops and processes records until ctx is cancelled. A pop timeout or
// a single record's processing failure never stops the loop; every error
// is logged and the worker moves to the next record.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, ok, err := w.queue.BlockingPop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.recordError(ErrCauseQueuePop, err.Error(), "")
			continue
		}
		if !ok {
			continue
		}
		w.processRecord(ctx, rec)
	}
}

func (w *Worker) processRecord(ctx context.Context, rec fetchqueue.Record) {
	var contentHash, contentPath, visitErrStr string

	if isSuccessStatus(rec.StatusCode) && len(rec.Body) > 0 {
		result, err := w.storage.WriteContent(ctx, rec.Body)
		if err != nil {
			visitErrStr = err.Error()
			w.recordError(ErrCauseStorageWrite, err.Error(), rec.URL)
		} else {
			contentHash = result.SHA()
			contentPath = result.Path()
		}
	}

	visitRec := storage.VisitedRecord{
		URL:         rec.URL,
		Domain:      rec.Domain,
		StatusCode:  rec.StatusCode,
		FetchedAt:   rec.FetchedAt,
		ContentHash: contentHash,
		ContentPath: contentPath,
		Error:       visitErrStr,
	}
	if err := w.storage.RecordVisit(ctx, visitRec); err != nil {
		w.recordError(ErrCauseStorageVisit, err.Error(), rec.URL)
	}

	if !isSuccessStatus(rec.StatusCode) || len(rec.Body) == 0 || !isHTML(rec.ContentType) {
		return
	}

	links, err := extractLinks(rec.FinalURL, rec.Body, w.allowedHosts)
	if err != nil {
		w.recordError(ErrCauseLinkExtract, err.Error(), rec.URL)
		return
	}
	if len(links) == 0 {
		return
	}
	if err := w.fm.AddURLs(ctx, links, rec.Depth+1); err != nil {
		w.recordError(ErrCauseFrontierAdd, err.Error(), rec.URL)
	}
}

func (w *Worker) recordError(cause ParserErrorCause, message, rawURL string) {
	attrs := []metadata.Attribute{}
	if rawURL != "" {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrURL, rawURL))
	}
	w.metadataSink.RecordError(
		time.Now(),
		"parser",
		"Worker.processRecord",
		mapParserErrorToMetadataCause(cause),
		message,
		attrs,
	)
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

// isHTML reports whether contentType names an HTML document, ignoring any
// charset or other parameters.
func isHTML(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "text/html")
}
