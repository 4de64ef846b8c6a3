package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

// FetchType distinguishes a robots.txt probe from an ordinary page fetch
// so downstream metrics and logging can label them separately, per spec
// §4.8's fetch_type-labeled counters.
type FetchType string

const (
	FetchTypeRobotsTxt FetchType = "robots_txt"
	FetchTypePage      FetchType = "page"
)

// FetchParam is the HTTP boundary's request side: the URL to fetch, the
// User-Agent to present, and which fetch_type bucket the call belongs to.
type FetchParam struct {
	fetchUrl  url.URL
	userAgent string
	fetchType FetchType
}

// NewFetchParam builds a FetchParam for an ordinary page fetch.
func NewFetchParam(fetchUrl url.URL, userAgent string) FetchParam {
	return NewFetchParamWithType(fetchUrl, userAgent, FetchTypePage)
}

// NewFetchParamWithType builds a FetchParam for a specific fetch_type,
// used by the robots fetcher to label its requests "robots_txt".
func NewFetchParamWithType(fetchUrl url.URL, userAgent string, fetchType FetchType) FetchParam {
	return FetchParam{fetchUrl: fetchUrl, userAgent: userAgent, fetchType: fetchType}
}

// PhaseTiming breaks a single fetch down into the phases
// httptrace.ClientTrace observes, used by the duration histograms spec
// §4.8 labels by (phase, fetch_type).
type PhaseTiming struct {
	DNSLookup    time.Duration
	Connect      time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	Total        time.Duration
}

// ResponseMeta holds the parts of an HTTP response FetchResult exposes.
type ResponseMeta struct {
	statusCode      int
	contentType     string
	responseHeaders map[string]string
}

// FetchResult is the HTTP boundary's response side. It carries arbitrary
// content, not just HTML: content-type filtering is the parser consumer's
// job, not the fetcher's.
type FetchResult struct {
	url             url.URL
	finalURL        url.URL
	body            []byte
	meta            ResponseMeta
	fetchedAt       time.Time
	redirectHistory []string
	timing          PhaseTiming
	fetchType       FetchType
}

func (f *FetchResult) URL() url.URL {
	return f.url
}

// FinalURL is the URL actually served, after following redirects.
func (f *FetchResult) FinalURL() url.URL {
	return f.finalURL
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) ContentType() string {
	return f.meta.contentType
}

func (f *FetchResult) SizeByte() uint64 {
	return uint64(len(f.body))
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

func (f *FetchResult) FetchedAt() time.Time {
	return f.fetchedAt
}

// RedirectHistory lists the hops followed to reach FinalURL, oldest first.
func (f *FetchResult) RedirectHistory() []string {
	return f.redirectHistory
}

func (f *FetchResult) Timing() PhaseTiming {
	return f.timing
}

func (f *FetchResult) FetchType() FetchType {
	return f.fetchType
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	return FetchResult{
		url:      url,
		finalURL: url,
		body:     body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:      statusCode,
			contentType:     contentType,
			responseHeaders: responseHeaders,
		},
		fetchType: FetchTypePage,
	}
}
