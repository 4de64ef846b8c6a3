package parser_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/parser"
	"github.com/rohmanhakim/polite-crawler/internal/storage"
)

type fakeQueue struct {
	mu   sync.Mutex
	recs []fetchqueue.Record
}

func (q *fakeQueue) BlockingPop(ctx context.Context) (fetchqueue.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.recs) == 0 {
		return fetchqueue.Record{}, false, nil
	}
	rec := q.recs[0]
	q.recs = q.recs[1:]
	return rec, true, nil
}

type fakeFrontier struct {
	mu    sync.Mutex
	added []url.URL
	depth int
}

func (f *fakeFrontier) AddURLs(ctx context.Context, source []url.URL, depth int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, source...)
	f.depth = depth
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	written [][]byte
	visits  []storage.VisitedRecord
}

func (s *fakeStorage) WriteContent(ctx context.Context, body []byte) (storage.ContentWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, body)
	return storage.NewContentWriteResult("deadbeef", "content/de/deadbeef.bin", true), nil
}

func (s *fakeStorage) RecordVisit(ctx context.Context, rec storage.VisitedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, rec)
	return nil
}

const htmlBody = `<html><body>
<a href="/a">a</a>
<a href="https://another.com/b">b</a>
<a href="javascript:void(0)">noop</a>
</body></html>`

func TestWorker_ProcessesHTMLRecord_ExtractsLinksAndRecordsVisit(t *testing.T) {
	q := &fakeQueue{recs: []fetchqueue.Record{{
		URL:         "https://example.com/",
		FinalURL:    "https://example.com/",
		Domain:      "example.com",
		Depth:       1,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		FetchedAt:   time.Now(),
		Body:        []byte(htmlBody),
	}}}
	fm := &fakeFrontier{}
	st := &fakeStorage{}
	w := parser.NewWorker(q, fm, st, metadata.NewRecorder("test"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if len(st.written) != 1 {
		t.Fatalf("WriteContent calls = %d, want 1", len(st.written))
	}
	if len(st.visits) != 1 {
		t.Fatalf("RecordVisit calls = %d, want 1", len(st.visits))
	}
	if st.visits[0].ContentHash != "deadbeef" {
		t.Errorf("visit ContentHash = %q, want deadbeef", st.visits[0].ContentHash)
	}
	if len(fm.added) != 2 {
		t.Fatalf("AddURLs source = %d, want 2 (same-host + other-host, in-scope since allowedHosts is empty)", len(fm.added))
	}
	if fm.depth != 2 {
		t.Errorf("AddURLs depth = %d, want 2 (record depth 1 + 1)", fm.depth)
	}
}

func TestWorker_ScopeFiltersLinksToAllowedHosts(t *testing.T) {
	q := &fakeQueue{recs: []fetchqueue.Record{{
		URL:         "https://example.com/",
		FinalURL:    "https://example.com/",
		Domain:      "example.com",
		StatusCode:  200,
		ContentType: "text/html",
		FetchedAt:   time.Now(),
		Body:        []byte(htmlBody),
	}}}
	fm := &fakeFrontier{}
	st := &fakeStorage{}
	w := parser.NewWorker(q, fm, st, metadata.NewRecorder("test"), []string{"example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if len(fm.added) != 1 {
		t.Fatalf("AddURLs source = %d, want 1 (another.com filtered out)", len(fm.added))
	}
	if fm.added[0].Host != "example.com" {
		t.Errorf("added host = %q, want example.com", fm.added[0].Host)
	}
}

func TestWorker_NonHTMLRecord_SkipsLinkExtraction(t *testing.T) {
	q := &fakeQueue{recs: []fetchqueue.Record{{
		URL:         "https://example.com/file.pdf",
		FinalURL:    "https://example.com/file.pdf",
		Domain:      "example.com",
		StatusCode:  200,
		ContentType: "application/pdf",
		FetchedAt:   time.Now(),
		Body:        []byte("%PDF-1.4 ..."),
	}}}
	fm := &fakeFrontier{}
	st := &fakeStorage{}
	w := parser.NewWorker(q, fm, st, metadata.NewRecorder("test"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if len(st.written) != 1 {
		t.Fatalf("WriteContent calls = %d, want 1", len(st.written))
	}
	if len(fm.added) != 0 {
		t.Errorf("AddURLs source = %d, want 0 for non-HTML content", len(fm.added))
	}
}

func TestWorker_ErrorStatus_SkipsWriteAndExtraction_StillRecordsVisit(t *testing.T) {
	q := &fakeQueue{recs: []fetchqueue.Record{{
		URL:         "https://example.com/missing",
		FinalURL:    "https://example.com/missing",
		Domain:      "example.com",
		StatusCode:  404,
		ContentType: "text/html",
		FetchedAt:   time.Now(),
	}}}
	fm := &fakeFrontier{}
	st := &fakeStorage{}
	w := parser.NewWorker(q, fm, st, metadata.NewRecorder("test"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if len(st.written) != 0 {
		t.Errorf("WriteContent calls = %d, want 0 for a 404", len(st.written))
	}
	if len(st.visits) != 1 {
		t.Fatalf("RecordVisit calls = %d, want 1", len(st.visits))
	}
	if len(fm.added) != 0 {
		t.Errorf("AddURLs source = %d, want 0 for a 404", len(fm.added))
	}
}
