package frontier_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/frontierfiles"
)

// fakeKV is an in-memory stand-in for internal/kvc.Client narrow enough to
// exercise the FM claim protocol without a Redis server.
type fakeKV struct {
	mu     sync.Mutex
	hashes map[string]map[string]any
	zset   map[string]float64
	filter map[string]struct{}
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		hashes: make(map[string]map[string]any),
		zset:   make(map[string]float64),
		filter: make(map[string]struct{}),
	}
}

func (f *fakeKV) HMGet(ctx context.Context, key string, fields ...string) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hashes[key]
	out := make([]any, len(fields))
	for i, field := range fields {
		if h == nil {
			continue
		}
		out[i] = h[field]
	}
	return out, nil
}

func (f *fakeKV) HSet(ctx context.Context, key string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]any)
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		field, _ := values[i].(string)
		h[field] = values[i+1]
	}
	return nil
}

func (f *fakeKV) HSetNX(ctx context.Context, key, field string, value any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]any)
		f.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (f *fakeKV) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]any)
		f.hashes[key] = h
	}
	var cur int64
	switch v := h[field].(type) {
	case int64:
		cur = v
	case int:
		cur = int64(v)
	}
	cur += delta
	h[field] = cur
	return cur, nil
}

func (f *fakeKV) ZAdd(ctx context.Context, key string, score float64, member any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	host, _ := member.(string)
	f.zset[host] = score
	return nil
}

func (f *fakeKV) ZPopMin(ctx context.Context, key string) (string, float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.zset) == 0 {
		return "", 0, false, nil
	}
	var bestHost string
	var bestScore float64
	first := true
	for host, score := range f.zset {
		if first || score < bestScore {
			bestHost, bestScore, first = host, score, false
		}
	}
	delete(f.zset, bestHost)
	return bestHost, bestScore, true, nil
}

func (f *fakeKV) ZCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zset)), nil
}

func (f *fakeKV) FilterAdd(ctx context.Context, name string, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter[name+":"+string(key)] = struct{}{}
	return nil
}

func (f *fakeKV) FilterExists(ctx context.Context, name string, key []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.filter[name+":"+string(key)]
	return ok, nil
}

// fakeFileStore is an in-memory stand-in for internal/frontierfiles.Store.
type fakeFileStore struct {
	mu      sync.Mutex
	records map[string][]frontierfiles.Record
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{records: make(map[string][]frontierfiles.Record)}
}

func (s *fakeFileStore) Append(host string, records []frontierfiles.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[host] = append(s.records[host], records...)
	return int64(len(records)), nil
}

func (s *fakeFileStore) ReadOne(host string, offset int64) (*frontierfiles.Record, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[host]
	if offset < 0 || offset >= int64(len(recs)) {
		return nil, offset, false, nil
	}
	rec := recs[offset]
	return &rec, offset + 1, true, nil
}

func (s *fakeFileStore) PathFor(host string) string {
	return "frontier/" + host
}

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return *u
}

func TestManager_AddURLs_SeedsReadyQueueOnFirstSeenHost(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	urls := []url.URL{mustURL(t, "https://example.com/a"), mustURL(t, "https://example.com/b")}
	if err := m.AddURLs(ctx, urls, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Size() = %d, want 1 (one host seeded)", size)
	}
}

func TestManager_AddURLs_DedupsViaFilter(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	dup := mustURL(t, "https://example.com/a")
	if err := m.AddURLs(ctx, []url.URL{dup}, 0); err != nil {
		t.Fatalf("AddURLs (first): %v", err)
	}
	if err := m.AddURLs(ctx, []url.URL{dup}, 0); err != nil {
		t.Fatalf("AddURLs (second): %v", err)
	}

	if got := len(ff.records["example.com"]); got != 1 {
		t.Fatalf("frontier file has %d records, want 1 (second add should be deduped)", got)
	}
}

func TestManager_AddURLs_RejectsNonHTTPScheme(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	urls := []url.URL{mustURL(t, "ftp://example.com/a"), mustURL(t, "mailto:a@example.com")}
	if err := m.AddURLs(ctx, urls, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size() = %d, want 0 (non-http(s) URLs must be rejected)", size)
	}
}

func TestManager_Claim_ReturnsURLsInPerDomainFileOrder(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	urls := []url.URL{
		mustURL(t, "https://example.com/1"),
		mustURL(t, "https://example.com/2"),
		mustURL(t, "https://example.com/3"),
	}
	if err := m.AddURLs(ctx, urls, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		claimed, ok, err := m.Claim(ctx)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if !ok {
			t.Fatalf("Claim() ok = false on iteration %d, want true", i)
		}
		got = append(got, claimed.URL)
		if err := m.Release(ctx, claimed.Host, time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	want := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claim order = %v, want %v", got, want)
		}
	}
}

func TestManager_Claim_EmptyFrontierReturnsNotOK(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	_, ok, err := m.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("Claim() ok = true on an empty frontier, want false")
	}
}

func TestManager_Claim_SingleClaimPerDomain(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	urls := []url.URL{mustURL(t, "https://example.com/1"), mustURL(t, "https://example.com/2")}
	if err := m.AddURLs(ctx, urls, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}

	claimed, ok, err := m.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if claimed.Host != "example.com" {
		t.Fatalf("Host = %q, want example.com", claimed.Host)
	}

	// example.com is now out of the ready queue until Release.
	_, ok, err = m.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("Claim() returned a second URL before Release, want false")
	}
}

func TestManager_Release_RespectsNextFetchTime(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/1")}, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}
	claimed, ok, err := m.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	if err := m.Release(ctx, claimed.Host, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Release: %v", err)
	}

	_, ok, err = m.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("Claim() returned a not-yet-eligible host, want false")
	}

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Size() = %d, want 1 (host reinserted at its future eligibility time)", size)
	}
}

func TestManager_Release_DrainedDomainIsNotReinserted(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/1")}, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}
	claimed, ok, err := m.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	if err := m.Release(ctx, claimed.Host, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Release: %v", err)
	}

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size() = %d, want 0 (a fully drained frontier file must not be reinserted)", size)
	}
}

func TestManager_AddURLs_ReaddsDrainedHostWhenNewURLsArrive(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/1")}, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}
	claimed, ok, err := m.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if err := m.Release(ctx, claimed.Host, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// example.com is now drained: no unread bytes, absent from domains:ready.
	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size() = %d, want 0 once drained", size)
	}

	// PC discovers another same-domain link after the drain.
	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/2")}, 1); err != nil {
		t.Fatalf("AddURLs (post-drain): %v", err)
	}

	size, err = m.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Size() = %d, want 1 (a drained host must be readmitted once it has unread bytes again)", size)
	}

	claimed2, ok, err := m.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("Claim() ok = false after readmission, want true")
	}
	if claimed2.URL != "https://example.com/2" {
		t.Fatalf("Claim() URL = %q, want https://example.com/2", claimed2.URL)
	}
}

func TestManager_AddURLs_FrontierSizeAccumulatesAcrossCalls(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/1")}, 0); err != nil {
		t.Fatalf("AddURLs (first): %v", err)
	}
	firstFields, err := kv.HMGet(ctx, "domain:example.com", "frontier_size")
	if err != nil {
		t.Fatalf("HMGet: %v", err)
	}
	first, _ := firstFields[0].(int64)

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/2")}, 0); err != nil {
		t.Fatalf("AddURLs (second): %v", err)
	}
	secondFields, err := kv.HMGet(ctx, "domain:example.com", "frontier_size")
	if err != nil {
		t.Fatalf("HMGet: %v", err)
	}
	second, _ := secondFields[0].(int64)

	if second <= first {
		t.Fatalf("frontier_size after second AddURLs = %d, want strictly greater than after the first (%d): HSET would silently regress it under concurrent callers", second, first)
	}
}

func TestManager_Claim_ExcludedDomainIsSkipped(t *testing.T) {
	kv := newFakeKV()
	ff := newFakeFileStore()
	m := frontier.New(kv, ff)
	ctx := context.Background()

	if err := m.AddURLs(ctx, []url.URL{mustURL(t, "https://example.com/1")}, 0); err != nil {
		t.Fatalf("AddURLs: %v", err)
	}
	if err := kv.HSet(ctx, "domain:example.com", "is_excluded", int64(1)); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	_, ok, err := m.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("Claim() returned a URL for an excluded domain, want false")
	}
}
