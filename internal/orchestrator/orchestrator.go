// Package orchestrator is the OR module: it owns the worker pool that
// drives the FM -> PE -> FE -> FQ pipeline, the parser-process supervisor,
// and the periodic metrics/FD export loop, per spec §4.8.
package orchestrator

/*
Responsibilities
- Run the worker loop of spec §4.8 across a configurable pool of
  goroutines, each claiming one domain at a time from FM
- Supervise cmd/parserd subprocesses, restarting them on unexpected exit
- Export metrics and a file-descriptor breakdown every metrics interval
- Honor context cancellation: a worker finishes or abandons its current
  claim at its next suspension point, never mid fetch

Out of scope
- Deciding whether a URL is allowed (PE's job)
- Extracting links or persisting content (PC/SS's job)
- The claim protocol itself (FM's job)
*/

import (
	"context"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/storage"
	"github.com/rohmanhakim/polite-crawler/internal/telemetry"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

// idlePoll bounds how long a worker sleeps before re-checking FM after an
// empty claim, so it still notices context cancellation promptly.
const idlePoll = 50 * time.Millisecond

// FrontierManager is the narrow slice of internal/frontier.Manager the
// worker loop needs.
type FrontierManager interface {
	Claim(ctx context.Context) (frontier.Claimed, bool, error)
	Release(ctx context.Context, host string, nextFetchTime time.Time) error
	Size(ctx context.Context) (int64, error)
}

// Politeness is the narrow slice of internal/politeness.Politeness the
// worker loop needs.
type Politeness interface {
	IsURLAllowed(u url.URL) (bool, error)
	CanFetchDomainNow(ctx context.Context, host string) (bool, error)
	RecordFetchAttempt(ctx context.Context, host string) error
	RecordFetchSuccess(host string)
	RecordFetchFailure(host string)
	GetCrawlDelay(host string) (time.Duration, error)
}

// FetchQueue is the narrow slice of internal/fetchqueue.Queue the worker
// loop needs.
type FetchQueue interface {
	Push(ctx context.Context, rec fetchqueue.Record) error
	Len(ctx context.Context) (int64, error)
}

// Storage is the narrow slice of internal/storage.Sink OR needs directly,
// to record a visit for a URL that PE disallowed before it ever reaches FE.
type Storage interface {
	RecordVisit(ctx context.Context, rec storage.VisitedRecord) failure.ClassifiedError
}

// KVCPool is the narrow slice of internal/kvc.Client's admission-pool
// introspection telemetry needs; both the text and binary clients satisfy it.
type KVCPool interface {
	PoolInUse() int
	PoolCapacity() int
}

// Telemetry is the narrow slice of internal/telemetry.Exporter OR reports
// crawl progress through.
type Telemetry interface {
	RecordFetch(fetchType, errorType string)
	ObservePhaseDuration(phase, fetchType string, d time.Duration)
	IncPagesTotal()
	SetFrontierSize(n int64)
	SetQueueDepth(n int64)
	SetActiveWorkers(n int)
	SetKVCPool(client string, inUse, capacity int)
	SetMemoryBytes(bytes uint64)
	SetFDBreakdown(b telemetry.FDBreakdown)
}

// FDStats abstracts the OS-specific file-descriptor census (spec §5) so
// platforms without /proc degrade to a zero breakdown instead of failing
// to build; see fdstats_linux.go and fdstats_other.go.
type FDStats interface {
	Collect(dataDir string, redisPort, metricsPort int) telemetry.FDBreakdown
}

// Params constructs an Orchestrator. Every collaborator is a narrow
// interface so the worker loop can run against fakes in tests.
type Params struct {
	FrontierManager FrontierManager
	Politeness      Politeness
	Fetcher         fetcher.Fetcher
	FetchQueue      FetchQueue
	Storage         Storage
	MetadataSink    metadata.MetadataSink
	Telemetry       Telemetry
	// FDStats is optional; nil selects the platform default.
	FDStats FDStats

	KVText   KVCPool
	KVBinary KVCPool

	UserAgent       string
	DataDir         string
	RedisPort       int
	MetricsPort     int
	WorkerCount     int
	MetricsInterval time.Duration
	RetryParam      retry.RetryParam

	// Supervisor is optional; nil runs without a parser-process
	// supervisor (used by tests and by cmd/parserd's own in-process
	// worker pool, which has no subprocesses of its own to supervise).
	Supervisor *ParserSupervisor
}

// Orchestrator is the OR module: the worker pool, parser supervisor, and
// metrics/FD export loop described in spec §4.8.
type Orchestrator struct {
	fm           FrontierManager
	pe           Politeness
	fe           fetcher.Fetcher
	fq           FetchQueue
	ss           Storage
	metadataSink metadata.MetadataSink
	telemetry    Telemetry
	fdStats      FDStats
	supervisor   *ParserSupervisor

	kvText   KVCPool
	kvBinary KVCPool

	userAgent       string
	dataDir         string
	redisPort       int
	metricsPort     int
	workerCount     int
	metricsInterval time.Duration
	retryParam      retry.RetryParam

	activeWorkers atomic.Int64
}

// New constructs an Orchestrator from p.
func New(p Params) *Orchestrator {
	fdStats := p.FDStats
	if fdStats == nil {
		fdStats = newPlatformFDStats()
	}
	workerCount := p.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	metricsInterval := p.MetricsInterval
	if metricsInterval <= 0 {
		metricsInterval = 60 * time.Second
	}

	return &Orchestrator{
		fm:              p.FrontierManager,
		pe:              p.Politeness,
		fe:              p.Fetcher,
		fq:              p.FetchQueue,
		ss:              p.Storage,
		metadataSink:    p.MetadataSink,
		telemetry:       p.Telemetry,
		fdStats:         fdStats,
		supervisor:      p.Supervisor,
		kvText:          p.KVText,
		kvBinary:        p.KVBinary,
		userAgent:       p.UserAgent,
		dataDir:         p.DataDir,
		redisPort:       p.RedisPort,
		metricsPort:     p.MetricsPort,
		workerCount:     workerCount,
		metricsInterval: metricsInterval,
		retryParam:      p.RetryParam,
	}
}

// Run starts the worker pool, the metrics loop, and (if configured) the
// parser supervisor, and blocks until ctx is cancelled and every goroutine
// has returned. Callers that want a shutdown grace period should derive
// ctx from context.WithTimeout (or equivalent) themselves, per spec §7 -
// Run itself has no opinion on how long "graceful" should last.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(o.workerCount)
	for i := 0; i < o.workerCount; i++ {
		go func() {
			defer wg.Done()
			o.runWorker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.runMetricsLoop(ctx)
	}()

	if o.supervisor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.supervisor.Run(ctx)
		}()
	}

	wg.Wait()
}

// ActiveWorkers reports how many worker goroutines currently hold a
// claimed domain, for tests and ad-hoc inspection outside the metrics loop.
func (o *Orchestrator) ActiveWorkers() int64 {
	return o.activeWorkers.Load()
}

func (o *Orchestrator) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, ok, err := o.fm.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.recordError(ErrCauseClaimFailure, err.Error(), "")
			if !sleepCtx(ctx, idlePoll) {
				return
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, idlePoll) {
				return
			}
			continue
		}

		o.activeWorkers.Add(1)
		o.processClaim(ctx, claimed)
		o.activeWorkers.Add(-1)
	}
}

// processClaim implements spec §4.8's worker-loop pseudocode: the release
// back to FM happens via defer, exactly once, regardless of which branch
// below returns.
func (o *Orchestrator) processClaim(ctx context.Context, claimed frontier.Claimed) {
	defer o.release(ctx, claimed.Host)

	parsed, err := url.Parse(claimed.URL)
	if err != nil {
		o.recordError(ErrCausePolicyFailure, err.Error(), claimed.URL)
		return
	}

	allowed, err := o.pe.IsURLAllowed(*parsed)
	if err != nil {
		o.recordError(ErrCausePolicyFailure, err.Error(), claimed.URL)
	}
	if !allowed {
		o.recordDisallowed(ctx, claimed)
		return
	}

	canFetch, err := o.pe.CanFetchDomainNow(ctx, claimed.Host)
	if err != nil {
		o.recordError(ErrCausePolicyFailure, err.Error(), claimed.URL)
		return
	}
	if !canFetch {
		// Rare ready-set drift: the score said eligible, the domain row
		// disagrees. Release still fires via defer; no fetch happens.
		return
	}

	if err := o.pe.RecordFetchAttempt(ctx, claimed.Host); err != nil {
		o.recordError(ErrCausePolicyFailure, err.Error(), claimed.URL)
	}

	o.fetchAndEnqueue(ctx, claimed, *parsed)
}

func (o *Orchestrator) recordDisallowed(ctx context.Context, claimed frontier.Claimed) {
	rec := storage.VisitedRecord{
		URL:        claimed.URL,
		Domain:     claimed.Host,
		StatusCode: -1,
		FetchedAt:  time.Now(),
		Error:      "disallowed",
	}
	if err := o.ss.RecordVisit(ctx, rec); err != nil {
		o.recordError(ErrCauseVisitRecord, err.Error(), claimed.URL)
	}
}

func (o *Orchestrator) fetchAndEnqueue(ctx context.Context, claimed frontier.Claimed, parsed url.URL) {
	fetchParam := fetcher.NewFetchParam(parsed, o.userAgent)
	result, ferr := o.fe.Fetch(ctx, claimed.Depth, fetchParam, o.retryParam)

	rec := fetchqueue.Record{
		URL:       claimed.URL,
		FinalURL:  claimed.URL,
		Domain:    claimed.Host,
		Depth:     claimed.Depth,
		FetchedAt: time.Now(),
	}

	if ferr != nil {
		statusCode := fetcher.StatusGenericError
		errType := "generic error"
		if fe, ok := ferr.(*fetcher.FetchError); ok {
			statusCode = fe.SyntheticStatus()
			errType = string(fe.Cause)
		}
		rec.StatusCode = statusCode
		o.telemetry.RecordFetch(string(fetcher.FetchTypePage), errType)
		o.pe.RecordFetchFailure(claimed.Host)
	} else {
		rec.FinalURL = result.FinalURL().String()
		rec.StatusCode = result.Code()
		rec.ContentType = result.ContentType()
		rec.ContentBytes = int64(result.SizeByte())
		rec.FetchedAt = result.FetchedAt()
		rec.Body = result.Body()

		o.telemetry.RecordFetch(string(fetcher.FetchTypePage), "")
		timing := result.Timing()
		o.telemetry.ObservePhaseDuration("dns_lookup", string(fetcher.FetchTypePage), timing.DNSLookup)
		o.telemetry.ObservePhaseDuration("connect", string(fetcher.FetchTypePage), timing.Connect)
		o.telemetry.ObservePhaseDuration("total", string(fetcher.FetchTypePage), timing.Total)
		o.pe.RecordFetchSuccess(claimed.Host)
	}

	if err := o.fq.Push(ctx, rec); err != nil {
		o.recordError(ErrCauseQueuePush, err.Error(), claimed.URL)
		return
	}
	o.telemetry.IncPagesTotal()
}

func (o *Orchestrator) release(ctx context.Context, host string) {
	delay, err := o.pe.GetCrawlDelay(host)
	if err != nil {
		o.recordError(ErrCausePolicyFailure, err.Error(), "")
	}
	if err := o.fm.Release(ctx, host, time.Now().Add(delay)); err != nil {
		o.recordError(ErrCauseReleaseFailure, err.Error(), "")
	}
}

func (o *Orchestrator) recordError(cause OrchestratorErrorCause, message, rawURL string) {
	attrs := []metadata.Attribute{}
	if rawURL != "" {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrURL, rawURL))
	}
	o.metadataSink.RecordError(
		time.Now(),
		"orchestrator",
		"Orchestrator.processClaim",
		mapOrchestratorErrorToMetadataCause(cause),
		message,
		attrs,
	)
}

func (o *Orchestrator) runMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(o.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.exportMetrics(ctx)
		}
	}
}

func (o *Orchestrator) exportMetrics(ctx context.Context) {
	if size, err := o.fm.Size(ctx); err != nil {
		o.recordError(ErrCauseMetricsExport, err.Error(), "")
	} else {
		o.telemetry.SetFrontierSize(size)
	}

	if depth, err := o.fq.Len(ctx); err != nil {
		o.recordError(ErrCauseMetricsExport, err.Error(), "")
	} else {
		o.telemetry.SetQueueDepth(depth)
	}

	o.telemetry.SetActiveWorkers(int(o.activeWorkers.Load()))

	if o.kvText != nil {
		o.telemetry.SetKVCPool("text", o.kvText.PoolInUse(), o.kvText.PoolCapacity())
	}
	if o.kvBinary != nil {
		o.telemetry.SetKVCPool("binary", o.kvBinary.PoolInUse(), o.kvBinary.PoolCapacity())
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	o.telemetry.SetMemoryBytes(mem.Sys)

	o.telemetry.SetFDBreakdown(o.fdStats.Collect(o.dataDir, o.redisPort, o.metricsPort))
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
// It reports whether the sleep completed normally (false means ctx was
// cancelled and the caller should stop looping).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
