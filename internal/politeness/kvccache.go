package politeness

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/kvc"
)

const robotsTTL = 24 * time.Hour

// kvcRobotsCache adapts internal/kvc to the robots package's cache.Cache
// port, persisting robots.txt bodies in each host's domain:<host> hash
// (fields robots_body, robots_expires) instead of only in-process memory,
// so every worker process (and every PC process) sees the same cached
// policy for a host rather than re-fetching it once per process.
type kvcRobotsCache struct {
	kv *kvc.Client
}

func newKVCRobotsCache(kv *kvc.Client) *kvcRobotsCache {
	return &kvcRobotsCache{kv: kv}
}

// hostFromCacheKey recovers the bare host from the "scheme://host/robots.txt"
// key the robots package constructs, since domain state is keyed by host
// alone regardless of scheme.
func hostFromCacheKey(key string) string {
	u, err := url.Parse(key)
	if err != nil {
		return key
	}
	return strings.ToLower(u.Host)
}

func (c *kvcRobotsCache) Get(key string) (string, bool) {
	host := hostFromCacheKey(key)
	ctx := context.Background()

	fields, err := c.kv.HMGet(ctx, domainKey(host), "robots_body", "robots_expires")
	if err != nil || len(fields) != 2 || fields[0] == nil || fields[1] == nil {
		return "", false
	}

	body, ok := fields[0].(string)
	if !ok || body == "" {
		return "", false
	}
	expiresStr, ok := fields[1].(string)
	if !ok {
		return "", false
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return "", false
	}
	if time.Now().Unix() >= expires {
		return "", false
	}
	return body, true
}

func (c *kvcRobotsCache) Put(key string, value string) {
	host := hostFromCacheKey(key)
	expires := time.Now().Add(robotsTTL).Unix()
	_ = c.kv.HMSet(context.Background(), domainKey(host), map[string]any{
		"robots_body":    value,
		"robots_expires": expires,
	})
}

func domainKey(host string) string {
	return "domain:" + host
}
