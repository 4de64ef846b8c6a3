package robots

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before fetch

Robots checks occur after a host is claimed, just before each URL is
fetched; URLs are not filtered when they enter the frontier.
*/

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/robots/cache"
)

// robotState holds the mutable parts of CachedRobot behind a pointer so the
// struct itself stays comparable (tests compare it against a zero value).
type robotState struct {
	fetcher *RobotsFetcher
}

// CachedRobot is the concrete Politeness-facing robots.txt decision maker:
// fetch, cache, and evaluate allow/disallow/crawl-delay for a URL.
type CachedRobot struct {
	sink  metadata.MetadataSink
	state *robotState
}

// NewCachedRobot constructs a CachedRobot bound to sink. Init or
// InitWithCache must be called before Decide.
func NewCachedRobot(sink metadata.MetadataSink) CachedRobot {
	return CachedRobot{sink: sink}
}

// Init prepares the robot with an in-memory robots.txt cache, sufficient
// for a single crawl process.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache prepares the robot with a caller-supplied cache, letting
// callers share a cache across robots or back it with something other than
// memory (e.g. a KVC-backed adapter).
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.state = &robotState{
		fetcher: NewRobotsFetcher(r.sink, userAgent, c),
	}
}

// Decide fetches (or reuses the cached) robots.txt for u's host and reports
// whether u may be crawled. It tries http before https, and any fetch
// failure on both schemes degrades to an empty ruleSet (allow all) rather
// than propagating an error: a host with a broken or unreachable
// robots.txt must not block the rest of the crawl.
func (r CachedRobot) Decide(u url.URL) (Decision, error) {
	if r.state == nil || r.state.fetcher == nil {
		return Decision{}, &RobotsError{
			Message:   "robot not initialized: call Init or InitWithCache first",
			Retryable: false,
			Cause:     ErrCausePreFetchFailure,
		}
	}

	result, ferr := r.fetchWithSchemeFallback(u.Host)
	if ferr != nil {
		if r.sink != nil {
			r.sink.RecordError(
				time.Now(),
				"robots",
				"decide",
				mapRobotsErrorToMetadataCause(ferr),
				ferr.Error(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrHost, u.Host)},
			)
		}
		return decideFromRuleSet(u, ruleSet{}), nil
	}

	rs := MapResponseToRuleSet(result.Response, r.state.fetcher.UserAgent(), result.FetchedAt)
	return decideFromRuleSet(u, rs), nil
}

// fetchWithSchemeFallback tries http://host/robots.txt first, then
// https://host/robots.txt if the http attempt fails. It returns the last
// error if both attempts fail.
func (r CachedRobot) fetchWithSchemeFallback(host string) (RobotsFetchResult, *RobotsError) {
	var lastErr *RobotsError
	for _, scheme := range [...]string{"http", "https"} {
		result, ferr := r.state.fetcher.Fetch(context.Background(), scheme, host)
		if ferr == nil {
			return result, nil
		}
		lastErr = ferr
	}
	return RobotsFetchResult{}, lastErr
}

func decideFromRuleSet(u url.URL, rs ruleSet) Decision {
	crawlDelay := time.Duration(0)
	if d := rs.CrawlDelay(); d != nil {
		crawlDelay = *d
	}

	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: crawlDelay}
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: crawlDelay}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	allowLen, allowMatch := bestMatchLen(rs.allowRules, path)
	disallowLen, disallowMatch := bestMatchLen(rs.disallowRules, path)

	switch {
	case !allowMatch && !disallowMatch:
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: crawlDelay}
	case allowMatch && (!disallowMatch || allowLen >= disallowLen):
		return Decision{Url: u, Allowed: true, Reason: AllowedByRobots, CrawlDelay: crawlDelay}
	default:
		return Decision{Url: u, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: crawlDelay}
	}
}

// bestMatchLen returns the length of the longest rule pattern among rules
// that match path, and whether any rule matched at all.
func bestMatchLen(rules []pathRule, path string) (int, bool) {
	best := -1
	matched := false
	for _, rule := range rules {
		if pathMatches(rule.prefix, path) {
			matched = true
			if l := len(rule.prefix); l > best {
				best = l
			}
		}
	}
	return best, matched
}

// pathMatches implements the robots.txt path-matching grammar: '*' matches
// any run of characters, and a trailing '$' anchors the match to the end
// of path. Rules without either are plain prefix matches.
func pathMatches(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")
	segments := strings.Split(pattern, "*")

	pos := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		idx := strings.Index(path[pos:], seg)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(seg)
	}

	if anchored {
		return pos == len(path)
	}
	return true
}
