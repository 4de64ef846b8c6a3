// Package politeness decides whether and when a URL may be crawled,
// combining robots.txt policy, a manual exclusion list, and per-domain
// fetch timing bookkeeping persisted in KVC.
package politeness

/*
Responsibilities

- Decide whether a URL is crawlable right now
- Keep domain:<host>'s next_fetch_time consistent across workers
- Resolve the effective crawl delay for a host (robots.txt vs minimum)
*/

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/kvc"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/robots"
	"github.com/rohmanhakim/polite-crawler/pkg/limiter"
)

const defaultMinDelay = 70 * time.Second

// defaultJitter bounds the random spread GetCrawlDelay adds on top of the
// robots-informed delay, so many domains released around the same instant
// don't all come due at exactly the same millisecond.
const defaultJitter = 2 * time.Second

// Politeness is the PE module: it owns one CachedRobot (backed by a
// KVC-persisted cache so policy is shared across processes), the manual
// exclusion set loaded once at startup, and a ConcurrentRateLimiter that
// layers jitter and per-host backoff on top of the robots/min-delay floor.
type Politeness struct {
	kv       *kvc.Client
	robot    robots.CachedRobot
	minDelay time.Duration
	excluded map[string]struct{}
	rl       *limiter.ConcurrentRateLimiter
}

// Option configures a Politeness instance at construction.
type Option func(*Politeness)

// WithMinDelay overrides the default 70s minimum per-domain delay.
func WithMinDelay(d time.Duration) Option {
	return func(p *Politeness) {
		if d > 0 {
			p.minDelay = d
		}
	}
}

// WithExcludedHosts marks hosts as manually excluded at startup, short
// circuiting IsURLAllowed to false regardless of robots.txt.
func WithExcludedHosts(hosts []string) Option {
	return func(p *Politeness) {
		for _, h := range hosts {
			p.excluded[strings.ToLower(h)] = struct{}{}
		}
	}
}

// New constructs a Politeness bound to kv for domain state and sink for
// robots-fetch observability.
func New(kv *kvc.Client, userAgent string, sink metadata.MetadataSink, opts ...Option) *Politeness {
	p := &Politeness{
		kv:       kv,
		minDelay: defaultMinDelay,
		excluded: make(map[string]struct{}),
	}
	p.robot = robots.NewCachedRobot(sink)
	p.robot.InitWithCache(userAgent, newKVCRobotsCache(kv))

	for _, opt := range opts {
		opt(p)
	}

	p.rl = limiter.NewConcurrentRateLimiter()
	p.rl.SetBaseDelay(p.minDelay)
	p.rl.SetJitter(defaultJitter)

	return p
}

// IsExcluded reports whether host is on the manual exclusion list.
func (p *Politeness) IsExcluded(host string) bool {
	_, excluded := p.excluded[strings.ToLower(host)]
	return excluded
}

// IsURLAllowed returns false iff u's host is manually excluded, or
// robots.txt for that host disallows u for the configured user-agent.
func (p *Politeness) IsURLAllowed(u url.URL) (bool, error) {
	if p.IsExcluded(u.Hostname()) {
		return false, nil
	}

	decision, err := p.robot.Decide(u)
	if err != nil {
		return false, &PolitenessError{Message: err.Error(), Retryable: true, Cause: ErrCauseRobotsFailure}
	}
	return decision.Allowed, nil
}

// CanFetchDomainNow returns true iff wall-clock time has reached
// domain:<host>'s next_fetch_time (absent means never fetched, so true).
func (p *Politeness) CanFetchDomainNow(ctx context.Context, host string) (bool, error) {
	raw, err := p.kv.HGet(ctx, domainKey(host), "next_fetch_time")
	if err != nil {
		if isMissingField(err) {
			return true, nil
		}
		return false, &PolitenessError{Message: err.Error(), Retryable: true, Cause: ErrCauseKVCFailure}
	}

	nextFetchMs, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil {
		return true, nil
	}
	return time.Now().UnixMilli() >= nextFetchMs, nil
}

// RecordFetchAttempt sets next_fetch_time = now + min_delay for host.
// The orchestrator calls it directly, just before fetching a claimed URL.
func (p *Politeness) RecordFetchAttempt(ctx context.Context, host string) error {
	next := time.Now().Add(p.minDelay).UnixMilli()
	if err := p.kv.HSet(ctx, domainKey(host), "next_fetch_time", next); err != nil {
		return &PolitenessError{Message: err.Error(), Retryable: true, Cause: ErrCauseKVCFailure}
	}
	if p.rl != nil {
		p.rl.MarkLastFetchAsNow(host)
	}
	return nil
}

// RecordFetchSuccess clears host's backoff state after a successful fetch,
// so a single transient failure doesn't keep inflating its delay forever.
func (p *Politeness) RecordFetchSuccess(host string) {
	if p.rl != nil {
		p.rl.ResetBackoff(host)
	}
}

// RecordFetchFailure grows host's backoff delay exponentially, called by
// the orchestrator after a failed fetch so a misbehaving or overloaded
// host is backed away from harder than a clean fetch would warrant.
func (p *Politeness) RecordFetchFailure(host string) {
	if p.rl != nil {
		p.rl.Backoff(host)
	}
}

// GetCrawlDelay returns the effective per-host delay: the larger of
// robots.txt's Crawl-delay and the configured minimum, widened by the
// rate limiter's jitter and any accumulated backoff for host.
func (p *Politeness) GetCrawlDelay(host string) (time.Duration, error) {
	decision, err := p.robot.Decide(url.URL{Scheme: "https", Host: host, Path: "/"})
	floor := p.minDelay
	var robotsErr error
	if err != nil {
		robotsErr = &PolitenessError{Message: err.Error(), Retryable: true, Cause: ErrCauseRobotsFailure}
	} else if decision.CrawlDelay > floor {
		floor = decision.CrawlDelay
	}

	if p.rl == nil {
		return floor, robotsErr
	}

	p.rl.SetCrawlDelay(host, floor)
	if resolved := p.rl.ResolveDelay(host); resolved > floor {
		return resolved, robotsErr
	}
	return floor, robotsErr
}

func isMissingField(err error) bool {
	// go-redis surfaces a missing hash field as redis.Nil, which the KVC
	// client classifies into a non-retryable ErrCauseBadResponse.
	kvcErr, ok := err.(*kvc.KVCError)
	return ok && kvcErr.Cause == kvc.ErrCauseBadResponse
}
