//go:build !linux

package orchestrator

import "github.com/rohmanhakim/polite-crawler/internal/telemetry"

// osFDStats degrades to a zero breakdown on platforms without /proc; the
// FD-hygiene testable property (spec §8.6) is validated on Linux in CI,
// not on every GOOS this module happens to build for.
type osFDStats struct{}

func newOSFDStats() FDStats {
	return osFDStats{}
}

func (osFDStats) Collect(dataDir string, redisPort, metricsPort int) telemetry.FDBreakdown {
	return telemetry.FDBreakdown{}
}
