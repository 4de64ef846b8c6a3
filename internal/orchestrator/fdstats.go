package orchestrator

import (
	"strings"

	"github.com/rohmanhakim/polite-crawler/internal/telemetry"
)

// newPlatformFDStats selects the FDStats implementation for the running
// GOOS: fdstats_linux.go reads /proc/self/fd; fdstats_other.go (every other
// GOOS) always reports a zero breakdown rather than failing to build or
// panicking at runtime, per spec §5's requirement that the orchestrator
// expose this census without assuming any particular platform.
func newPlatformFDStats() FDStats {
	return newOSFDStats()
}

// classifyTarget buckets one open file descriptor's resolved target
// (either a "socket:[inode]"/"pipe:[inode]" pseudo-path or a regular file
// path) into the breakdown categories spec §5 names. portOf, when the
// target is a socket, is the local port a /proc/net/{tcp,tcp6} inode
// lookup resolved, or 0 if it could not be resolved.
func classifyTarget(target string, portOf int, dataDir string, redisPort, metricsPort int) string {
	switch {
	case strings.HasPrefix(target, "socket:["):
		switch {
		case redisPort != 0 && portOf == redisPort:
			return "kvc"
		case metricsPort != 0 && portOf == metricsPort:
			return "prometheus"
		default:
			// Every other socket this process holds is an outbound HTTP(S)
			// fetch connection: KVC and the metrics listener are the only
			// other ports this crawl ever binds or dials deliberately.
			return "http"
		}
	case strings.HasPrefix(target, "pipe:["):
		return "pipe"
	case dataDir != "" && strings.HasPrefix(target, dataDir):
		return "frontier"
	default:
		return "other"
	}
}

func addToBreakdown(b *telemetry.FDBreakdown, category string) {
	switch category {
	case "kvc":
		b.KVCSockets++
	case "http":
		b.HTTPSockets++
	case "frontier":
		b.FrontierFiles++
	case "prometheus":
		b.PrometheusFiles++
	case "pipe":
		b.Pipes++
	default:
		b.Other++
	}
}
