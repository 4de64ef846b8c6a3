package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
)

// mockMetadataSink is a test double for metadata.MetadataSink
type mockMetadataSink struct {
	fetchEvents    []fetchEvent
	errorEvents    []errorEvent
	artifactEvents []string
}

type fetchEvent struct {
	fetchUrl    string
	httpStatus  int
	duration    time.Duration
	contentType string
	retryCount  int
	crawlDepth  int
}

type errorEvent struct {
	observedAt  time.Time
	packageName string
	action      string
	cause       metadata.ErrorCause
	details     string
	attrs       []metadata.Attribute
}

func (m *mockMetadataSink) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	m.fetchEvents = append(m.fetchEvents, fetchEvent{
		fetchUrl:    fetchUrl,
		httpStatus:  httpStatus,
		duration:    duration,
		contentType: contentType,
		retryCount:  retryCount,
		crawlDepth:  crawlDepth,
	})
}

func (m *mockMetadataSink) RecordAssetFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	m.fetchEvents = append(m.fetchEvents, fetchEvent{
		fetchUrl:   fetchUrl,
		httpStatus: httpStatus,
		duration:   duration,
		retryCount: retryCount,
	})
}

func (m *mockMetadataSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause metadata.ErrorCause,
	details string,
	attrs []metadata.Attribute,
) {
	m.errorEvents = append(m.errorEvents, errorEvent{
		observedAt:  observedAt,
		packageName: packageName,
		action:      action,
		cause:       cause,
		details:     details,
		attrs:       attrs,
	})
}

func (m *mockMetadataSink) RecordArtifact(kind metadata.ArtifactKind, path string, attrs []metadata.Attribute) {
	m.artifactEvents = append(m.artifactEvents, path)
}

func createTestRetryParam(maxAttempts int) retry.RetryParam {
	return retry.NewRetryParam(
		10*time.Millisecond,
		5*time.Millisecond,
		42,
		maxAttempts,
		timeutil.NewBackoffParam(10*time.Millisecond, 2.0, 100*time.Millisecond),
	)
}

func TestHTTPFetcher_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>Hello World</body></html>"))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if result.Code() != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, result.Code())
	}
	if string(result.Body()) != "<html><body>Hello World</body></html>" {
		t.Errorf("unexpected body: %s", string(result.Body()))
	}
	if result.ContentType() == "" {
		t.Error("expected a non-empty content type")
	}
	if result.FinalURL().String() != fetchUrl.String() {
		t.Errorf("expected final URL %s, got %s", fetchUrl, result.FinalURL())
	}

	if len(sink.fetchEvents) != 1 {
		t.Fatalf("expected 1 fetch event, got %d", len(sink.fetchEvents))
	}
	fetchEvt := sink.fetchEvents[0]
	if fetchEvt.httpStatus != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, fetchEvt.httpStatus)
	}
	if len(sink.errorEvents) != 0 {
		t.Errorf("expected 0 error events, got %d", len(sink.errorEvents))
	}
}

func TestHTTPFetcher_Fetch_AcceptsNonHTMLContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "not html"}`))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	result, err := f.Fetch(context.Background(), 1, param, createTestRetryParam(3))
	if err != nil {
		t.Fatalf("expected non-HTML content to be accepted, got error: %v", err)
	}
	if result.ContentType() != "application/json" {
		t.Errorf("expected content type application/json, got %s", result.ContentType())
	}
}

func TestHTTPFetcher_Fetch_HTTP404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))
	if err != nil {
		t.Fatalf("expected 404 to pass through as a result, got error: %v", err)
	}
	if result.Code() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", result.Code())
	}
}

func TestHTTPFetcher_Fetch_RedirectLimitExceeded(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))
	if err == nil {
		t.Fatal("expected a redirect-limit error, got nil")
	}

	var fetchErr *fetcher.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetcher.FetchError, got %T", err)
	}
	if fetchErr.Cause != fetcher.ErrCauseRedirectLimitExceeded {
		t.Errorf("expected ErrCauseRedirectLimitExceeded, got %s", fetchErr.Cause)
	}
	if fetchErr.SyntheticStatus() != fetcher.StatusGenericError {
		t.Errorf("expected synthetic status %d, got %d", fetcher.StatusGenericError, fetchErr.SyntheticStatus())
	}
}

func TestHTTPFetcher_Fetch_ConnectionErrorSynthesizesStatus(t *testing.T) {
	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	// Port 1 is reserved and nothing listens there, so this reliably
	// fails at connect time without touching the network under test.
	fetchUrl, _ := url.Parse("http://127.0.0.1:1/")
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))
	if err == nil {
		t.Fatal("expected a connection error, got nil")
	}

	var fetchErr *fetcher.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetcher.FetchError, got %T", err)
	}
	if fetchErr.SyntheticStatus() == 0 {
		t.Error("expected a non-zero synthetic status code")
	}
}

func TestHTTPFetcher_Fetch_RecordsPhaseTiming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 10)
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")
	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.Timing().Total <= 0 {
		t.Error("expected a positive total duration")
	}
}

func TestHTTPFetcher_Fetch_ReleasesGlobalSlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := &mockMetadataSink{}
	f := fetcher.NewHTTPFetcher(sink, 1) // global cap = 2
	defer f.Shutdown()

	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if _, err := f.Fetch(ctx, 0, param, createTestRetryParam(1)); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
}
