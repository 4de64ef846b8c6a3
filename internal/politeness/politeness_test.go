package politeness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rohmanhakim/polite-crawler/internal/kvc"
	"github.com/rohmanhakim/polite-crawler/pkg/limiter"
)

func TestPoliteness_IsExcluded(t *testing.T) {
	p := &Politeness{
		minDelay: defaultMinDelay,
		excluded: map[string]struct{}{"blocked.example.com": {}},
	}

	assert.True(t, p.IsExcluded("blocked.example.com"))
	assert.True(t, p.IsExcluded("BLOCKED.example.com"))
	assert.False(t, p.IsExcluded("allowed.example.com"))
}

func TestWithMinDelay(t *testing.T) {
	p := &Politeness{minDelay: defaultMinDelay, excluded: map[string]struct{}{}}
	WithMinDelay(120 * time.Second)(p)
	assert.Equal(t, 120*time.Second, p.minDelay)

	// zero/negative values are ignored, keeping the previous delay.
	WithMinDelay(0)(p)
	assert.Equal(t, 120*time.Second, p.minDelay)
}

func TestWithExcludedHosts(t *testing.T) {
	p := &Politeness{minDelay: defaultMinDelay, excluded: map[string]struct{}{}}
	WithExcludedHosts([]string{"A.example.com", "b.example.com"})(p)

	assert.True(t, p.IsExcluded("a.example.com"))
	assert.True(t, p.IsExcluded("b.example.com"))
}

func TestHostFromCacheKey(t *testing.T) {
	assert.Equal(t, "example.com", hostFromCacheKey("https://example.com/robots.txt"))
	assert.Equal(t, "example.com", hostFromCacheKey("http://EXAMPLE.com/robots.txt"))
}

func TestDomainKey(t *testing.T) {
	assert.Equal(t, "domain:example.com", domainKey("example.com"))
}

func TestRecordFetchSuccessAndFailure_NilLimiterIsSafe(t *testing.T) {
	p := &Politeness{minDelay: defaultMinDelay, excluded: map[string]struct{}{}}

	assert.NotPanics(t, func() {
		p.RecordFetchFailure("example.com")
		p.RecordFetchSuccess("example.com")
	})
}

func TestRecordFetchFailure_GrowsBackoffUntilSuccessResets(t *testing.T) {
	p := &Politeness{
		minDelay: defaultMinDelay,
		excluded: map[string]struct{}{},
		rl:       limiter.NewConcurrentRateLimiter(),
	}

	p.RecordFetchFailure("flaky.example.com")
	p.RecordFetchFailure("flaky.example.com")

	timings := p.rl.GetHostTimings()
	timing := timings["flaky.example.com"]
	assert.Equal(t, 2, timing.BackoffCount())
	assert.Greater(t, timing.BackOffDelay(), time.Duration(0))

	p.RecordFetchSuccess("flaky.example.com")
	timings = p.rl.GetHostTimings()
	assert.Equal(t, 0, timings["flaky.example.com"].BackoffCount())
}

func TestIsMissingField(t *testing.T) {
	assert.True(t, isMissingField(&kvc.KVCError{Cause: kvc.ErrCauseBadResponse}))
	assert.False(t, isMissingField(&kvc.KVCError{Cause: kvc.ErrCauseTimeout}))
	assert.False(t, isMissingField(nil))
}
