package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/concurrency"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses

Fetch Semantics

- Any content-type is returned; HTML detection is PC's job, not FE's
- Redirect chains are bounded to 5 hops and the chain is recorded
- All responses are logged with metadata
- Network failures synthesize status codes 900/901/902

The fetcher never parses content; it only returns bytes and metadata.
*/

const (
	maxRedirects    = 5
	requestBudget   = 45 * time.Second
	responseHdrWait = 10 * time.Second
	maxBodyBytes    = 64 << 20
)

// HTTPFetcher is the FE module: a shared *http.Client bounded by a global
// in-flight cap and a per-host cap, instrumented with httptrace phase
// timing.
type HTTPFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	transport    *http.Transport

	globalSem *concurrency.Semaphore
	hostCap   int
	hostSems  sync.Map // map[string]*concurrency.Semaphore
}

// NewHTTPFetcher builds an HTTPFetcher sized for workers concurrent
// crawl workers, per spec §4.5's global cap min(1000, 2*workers) and
// per-host cap max(5, min(20, total/50)).
func NewHTTPFetcher(metadataSink metadata.MetadataSink, workers int) *HTTPFetcher {
	globalCap := workers * 2
	if globalCap > 1000 || globalCap <= 0 {
		globalCap = 1000
	}
	hostCap := globalCap / 50
	if hostCap > 20 {
		hostCap = 20
	}
	if hostCap < 5 {
		hostCap = 5
	}

	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		ResponseHeaderTimeout: responseHdrWait,
		MaxIdleConnsPerHost:   hostCap,
		Proxy:                 http.ProxyFromEnvironment,
	}

	f := &HTTPFetcher{
		metadataSink: metadataSink,
		transport:    transport,
		globalSem:    concurrency.NewSemaphore(globalCap),
		hostCap:      hostCap,
	}
	f.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// fetchTrace is the per-request slot httptrace callbacks and
// CheckRedirect share to accumulate hop history and phase timings.
type fetchTrace struct {
	mu              sync.Mutex
	redirectHistory []string
	dnsStart        time.Time
	dnsDone         time.Duration
	connectStart    time.Time
	connectDone     time.Duration
	tlsStart        time.Time
	tlsDone         time.Duration
	gotFirstByte    time.Duration
}

func (f *HTTPFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return &FetchError{
			Message:   fmt.Sprintf("redirect limit (%d) exceeded", maxRedirects),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}
	if trace, ok := req.Context().Value(traceContextKey{}).(*fetchTrace); ok {
		trace.mu.Lock()
		trace.redirectHistory = append(trace.redirectHistory, via[len(via)-1].URL.String())
		trace.mu.Unlock()
	}
	return nil
}

type traceContextKey struct{}

func (f *HTTPFetcher) hostSemaphore(host string) *concurrency.Semaphore {
	if sem, ok := f.hostSems.Load(host); ok {
		return sem.(*concurrency.Semaphore)
	}
	sem, _ := f.hostSems.LoadOrStore(host, concurrency.NewSemaphore(f.hostCap))
	return sem.(*concurrency.Semaphore)
}

// Shutdown closes the fetcher's idle connections. Call once no further
// fetches will be issued.
func (f *HTTPFetcher) Shutdown() {
	f.transport.CloseIdleConnections()
}

func (h *HTTPFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HTTPFetcher.Fetch"
	startTime := time.Now()

	result, err := h.fetchWithRetry(ctx, fetchParam, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	var retryCount int

	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			retryCount = retryParam.MaxAttempts
		}
		if fe, ok := err.(*FetchError); ok {
			statusCode = fe.SyntheticStatus()
		}
	} else {
		statusCode = result.Code()
		contentType = result.ContentType()
	}

	h.metadataSink.RecordFetch(
		fetchParam.fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		retryCount,
		crawlDepth,
	)

	if err != nil {
		if errors.Is(err, &retry.RetryError{}) {
			h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, err)
		}
		return FetchResult{}, err
	}

	return result, nil
}

func (h *HTTPFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HTTPFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseNetworkFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrField, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HTTPFetcher) fetchWithRetry(ctx context.Context, fetchParam FetchParam, retryParam retry.RetryParam) (FetchResult, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam)
	}

	retried := retry.Retry(retryParam, fetchTask)
	result, retryErr := retried.Value(), retried.Err()

	if retryErr != nil {
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, fetchErr
		}
		return FetchResult{}, retryErr
	}

	return result, nil
}

func (h *HTTPFetcher) performFetch(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	if err := h.globalSem.Acquire(ctx); err != nil {
		return FetchResult{}, &FetchError{Message: "global fetch slot: " + err.Error(), Retryable: true, Cause: ErrCauseTimeout}
	}
	defer h.globalSem.Release()

	hostSem := h.hostSemaphore(fetchParam.fetchUrl.Hostname())
	if err := hostSem.Acquire(ctx); err != nil {
		return FetchResult{}, &FetchError{Message: "per-host fetch slot: " + err.Error(), Retryable: true, Cause: ErrCauseTimeout}
	}
	defer hostSem.Release()

	reqCtx, cancel := context.WithTimeout(ctx, requestBudget)
	defer cancel()

	trace := &fetchTrace{}
	reqCtx = context.WithValue(reqCtx, traceContextKey{}, trace)
	reqCtx = httptrace.WithClientTrace(reqCtx, &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			trace.mu.Lock()
			trace.dnsStart = time.Now()
			trace.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			trace.mu.Lock()
			if !trace.dnsStart.IsZero() {
				trace.dnsDone = time.Since(trace.dnsStart)
			}
			trace.mu.Unlock()
		},
		ConnectStart: func(string, string) {
			trace.mu.Lock()
			trace.connectStart = time.Now()
			trace.mu.Unlock()
		},
		ConnectDone: func(string, string, error) {
			trace.mu.Lock()
			if !trace.connectStart.IsZero() {
				trace.connectDone = time.Since(trace.connectStart)
			}
			trace.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			trace.mu.Lock()
			trace.tlsStart = time.Now()
			trace.mu.Unlock()
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			trace.mu.Lock()
			if !trace.tlsStart.IsZero() {
				trace.tlsDone = time.Since(trace.tlsStart)
			}
			trace.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			trace.mu.Lock()
			trace.gotFirstByte = time.Since(trace.connectStart)
			trace.mu.Unlock()
		},
	})

	started := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fetchParam.fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseGeneric,
		}
	}

	for key, value := range requestHeaders(fetchParam.userAgent) {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return FetchResult{}, fe
		}
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     classifyTransportError(err),
		}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	trace.mu.Lock()
	timing := PhaseTiming{
		DNSLookup:    trace.dnsDone,
		Connect:      trace.connectDone,
		TLSHandshake: trace.tlsDone,
		TTFB:         trace.gotFirstByte,
		Total:        time.Since(started),
	}
	history := append([]string(nil), trace.redirectHistory...)
	trace.mu.Unlock()

	finalURL := fetchParam.fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = *resp.Request.URL
	}

	result := FetchResult{
		url:             fetchParam.fetchUrl,
		finalURL:        finalURL,
		body:            body,
		fetchedAt:       time.Now(),
		redirectHistory: history,
		timing:          timing,
		fetchType:       fetchParam.fetchType,
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			contentType:     resp.Header.Get("Content-Type"),
			responseHeaders: responseHeaders,
		},
	}

	return result, nil
}

// classifyTransportError turns a raw net/http transport error into one of
// the fetcher's retryable causes, used to pick the 901/902 synthetic
// status code.
func classifyTransportError(err error) FetchErrorCause {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrCauseTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCauseTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrCauseConnection
	}
	return ErrCauseNetworkFailure
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Connection":      "keep-alive",
	}
}
