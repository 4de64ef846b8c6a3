package frontier

/*
Frontier Manager (FM) Responsibilities
- Produce the next URL to fetch with strict at-most-one-worker-per-domain
  semantics and per-domain FIFO order
- Advance each domain's read cursor in Frontier Files as URLs are claimed
- Know nothing about:
	- fetching
	- link extraction
	- storage

It is a claim-protocol module over KVC + FF, not an in-process queue: no
frontier.go)
*/

import (
	"context"
	"crypto/sha256"
	"net/url"
	"strconv"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/frontierfiles"
	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

// KVC is the narrow slice of internal/kvc.Client the frontier manager
// needs, extracted as an interface so FM's claim protocol can be tested
// against a fake without a Redis server.
type KVC interface {
	HMGet(ctx context.Context, key string, fields ...string) ([]any, error)
	HSet(ctx context.Context, key string, values ...any) error
	HSetNX(ctx context.Context, key, field string, value any) (bool, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member any) error
	ZPopMin(ctx context.Context, key string) (member string, score float64, ok bool, err error)
	ZCard(ctx context.Context, key string) (int64, error)

	// FilterAdd/FilterExists back the approximate-membership filter spec
	// §4.4 step 2-3 uses to drop already-seen URL fingerprints before they
	// ever reach a frontier file.
	FilterAdd(ctx context.Context, name string, key []byte) error
	FilterExists(ctx context.Context, name string, key []byte) (bool, error)
}

const urlFilterName = "urls:seen"

// FileStore is the slice of internal/frontierfiles.Store the frontier
// manager needs.
type FileStore interface {
	Append(host string, records []frontierfiles.Record) (int64, error)
	ReadOne(host string, offset int64) (*frontierfiles.Record, int64, bool, error)
	PathFor(host string) string
}

const readyQueueKey = "domains:ready"

// Manager implements the FM claim protocol of spec section 4.4: atomic
// claim of the next eligible domain, advancing its frontier read cursor,
// and releasing it back to the ready queue with an updated eligibility
// time.
type Manager struct {
	kv KVC
	ff FileStore
}

// New constructs a Manager over kv and ff.
func New(kv KVC, ff FileStore) *Manager {
	return &Manager{kv: kv, ff: ff}
}

// Claimed is what Claim hands back to a worker: a URL ready to fetch, its
// domain (so the caller can later call Release), and its crawl depth.
type Claimed struct {
	URL   string
	Host  string
	Depth int
}

// Claim runs the atomic claim protocol. ok is false when the frontier is
// currently empty (no ready domain) or the only ready domain has nothing
// left to read; callers should treat both as "try again shortly", not an
// error.
func (m *Manager) Claim(ctx context.Context) (claimed Claimed, ok bool, err error) {
	for {
		host, score, popped, err := m.kv.ZPopMin(ctx, readyQueueKey)
		if err != nil {
			return Claimed{}, false, err
		}
		if !popped {
			return Claimed{}, false, nil
		}

		now := float64(time.Now().UnixMilli())
		if score > now {
			// Not yet eligible: reinsert and let the caller decide whether
			// to poll again or back off (policy lives in the orchestrator).
			if err := m.kv.ZAdd(ctx, readyQueueKey, score, host); err != nil {
				return Claimed{}, false, err
			}
			return Claimed{}, false, nil
		}

		fields, err := m.kv.HMGet(ctx, domainKey(host), "frontier_offset", "frontier_size", "is_excluded")
		if err != nil {
			return Claimed{}, false, err
		}
		offset := parseInt64Field(fields, 0)
		size := parseInt64Field(fields, 1)
		excluded := parseInt64Field(fields, 2) != 0

		if excluded {
			// Manually excluded hosts never come back on their own; leave
			// the drained flag untouched and try the next ready domain.
			continue
		}
		if offset >= size {
			// No more unread URLs for this host right now. Mark it drained
			// so a later AddURLs for this host knows to reinsert it into
			// domains:ready instead of assuming it's already there.
			if err := m.kv.HSet(ctx, domainKey(host), "frontier_drained", int64(1)); err != nil {
				return Claimed{}, false, err
			}
			continue
		}

		rec, newOffset, found, err := m.ff.ReadOne(host, offset)
		if err != nil {
			return Claimed{}, false, err
		}
		if !found {
			continue
		}

		if err := m.kv.HSet(ctx, domainKey(host), "frontier_offset", newOffset); err != nil {
			return Claimed{}, false, err
		}

		return Claimed{URL: rec.URL, Host: host, Depth: rec.Depth}, true, nil
	}
}

// Release reinserts host into the ready queue at its next-eligible time
// iff it still has unread bytes, per spec step 8. Every Claim caller must
// call Release exactly once, typically via defer, whether the fetch
// succeeded or failed.
func (m *Manager) Release(ctx context.Context, host string, nextFetchTime time.Time) error {
	fields, err := m.kv.HMGet(ctx, domainKey(host), "frontier_offset", "frontier_size")
	if err != nil {
		return err
	}
	offset := parseInt64Field(fields, 0)
	size := parseInt64Field(fields, 1)

	if offset >= size {
		// Drained: mark it so a later AddURLs for this host reinserts it
		// into domains:ready instead of assuming it's still a member.
		return m.kv.HSet(ctx, domainKey(host), "frontier_drained", int64(1))
	}
	return m.kv.ZAdd(ctx, readyQueueKey, float64(nextFetchTime.UnixMilli()), host)
}

// AddURLs implements the add-URLs protocol used by seed ingest and PC:
// normalize, fingerprint-dedup against the approximate-membership filter,
// append to FF, and seed the ready queue the first time a host is seen.
// URLs with a non-http(s) scheme or an empty host are silently rejected,
// per spec §4.4 step 1.
func (m *Manager) AddURLs(ctx context.Context, source []url.URL, depth int) error {
	byHost := make(map[string][]frontierfiles.Record)
	hostOrder := make([]string, 0)

	for _, u := range source {
		canon := urlutil.Canonicalize(u)
		if canon.Scheme != "http" && canon.Scheme != "https" {
			continue
		}
		host := canon.Hostname()
		if host == "" || containsControlChars(canon.String()) {
			continue
		}

		fingerprint := sha256.Sum256([]byte(canon.String()))
		seen, err := m.kv.FilterExists(ctx, urlFilterName, fingerprint[:])
		if err != nil {
			return err
		}
		if seen {
			// Approximate-membership filter says "probably already queued";
			// per spec §4.4 step 6 this is an accepted, documented false
			// positive risk (<=1%), not an error.
			continue
		}
		if err := m.kv.FilterAdd(ctx, urlFilterName, fingerprint[:]); err != nil {
			return err
		}

		if _, seenHost := byHost[host]; !seenHost {
			hostOrder = append(hostOrder, host)
		}
		byHost[host] = append(byHost[host], frontierfiles.Record{URL: canon.String(), Depth: depth})
	}

	for _, host := range hostOrder {
		records := byHost[host]
		bytesWritten, err := m.ff.Append(host, records)
		if err != nil {
			return err
		}

		firstSeen, err := m.kv.HSetNX(ctx, domainKey(host), "file_path", m.ff.PathFor(host))
		if err != nil {
			return err
		}
		// HINCRBY rather than HSET: AddURLs can run concurrently for the
		// same host from many producer-consumer goroutines, and an
		// absolute-size HSET built from this call's Append result would
		// race with another call's, silently regressing frontier_size.
		if _, err := m.kv.HIncrBy(ctx, domainKey(host), "frontier_size", bytesWritten); err != nil {
			return err
		}
		if _, err := m.kv.HSetNX(ctx, domainKey(host), "is_seeded", int64(0)); err != nil {
			return err
		}
		if firstSeen {
			if err := m.kv.HSetNX(ctx, domainKey(host), "frontier_offset", int64(0)); err != nil {
				return err
			}
		}

		if err := m.readmitIfNeeded(ctx, host, firstSeen); err != nil {
			return err
		}
	}
	return nil
}

// readmitIfNeeded reinserts host into domains:ready when this AddURLs call
// is the one giving it unread bytes again: either host has never been seen
// before (firstSeen), or it was previously drained to zero unread bytes and
// marked as such by Claim/Release. A host that is merely claimed or already
// waiting in the ready queue is left untouched, since Claim pops it out of
// domains:ready for the duration of a claim without ever setting
// frontier_drained.
func (m *Manager) readmitIfNeeded(ctx context.Context, host string, firstSeen bool) error {
	fields, err := m.kv.HMGet(ctx, domainKey(host), "frontier_drained", "next_fetch_time")
	if err != nil {
		return err
	}
	drained := parseInt64Field(fields, 0) != 0
	if !firstSeen && !drained {
		return nil
	}

	score := float64(time.Now().UnixMilli())
	if nextFetchTime := parseInt64Field(fields, 1); nextFetchTime > 0 {
		score = float64(nextFetchTime)
	}
	if err := m.kv.ZAdd(ctx, readyQueueKey, score, host); err != nil {
		return err
	}
	if drained {
		if err := m.kv.HSet(ctx, domainKey(host), "frontier_drained", int64(0)); err != nil {
			return err
		}
	}
	return nil
}

// containsControlChars reports whether s has any ASCII control character,
// rejected per spec §4.4 step 1.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// Size reports the number of domains currently in the ready queue, used
// by telemetry's frontier-size gauge.
func (m *Manager) Size(ctx context.Context) (int64, error) {
	return m.kv.ZCard(ctx, readyQueueKey)
}

func domainKey(host string) string {
	return "domain:" + host
}

func parseInt64Field(fields []any, i int) int64 {
	if i >= len(fields) || fields[i] == nil {
		return 0
	}
	switch v := fields[i].(type) {
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
