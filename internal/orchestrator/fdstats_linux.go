//go:build linux

package orchestrator

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/rohmanhakim/polite-crawler/internal/telemetry"
)

// osFDStats collects the FD breakdown from /proc/self/fd on Linux, the
// only platform this crawl is expected to run steady-state workloads on.
type osFDStats struct{}

func newOSFDStats() FDStats {
	return osFDStats{}
}

// Collect walks /proc/self/fd, resolving each descriptor's target with
// os.Readlink, and for sockets, resolving the owning local port via
// /proc/net/tcp and /proc/net/tcp6. A descriptor this process cannot read
// (already closed between listing and readlink, a transient race under
// load) is silently skipped rather than failing the whole census.
func (osFDStats) Collect(dataDir string, redisPort, metricsPort int) telemetry.FDBreakdown {
	var breakdown telemetry.FDBreakdown

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return breakdown
	}

	inodeToPort := socketInodeToLocalPort()

	for _, entry := range entries {
		target, err := os.Readlink("/proc/self/fd/" + entry.Name())
		if err != nil {
			continue
		}

		port := 0
		if inode, ok := socketInode(target); ok {
			port = inodeToPort[inode]
		}

		category := classifyTarget(target, port, dataDir, redisPort, metricsPort)
		addToBreakdown(&breakdown, category)
	}

	return breakdown
}

// socketInode extracts the inode number from a "socket:[12345]" readlink
// target, reporting ok=false for anything else.
func socketInode(target string) (string, bool) {
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return "", false
	}
	return target[len("socket:[") : len(target)-1], true
}

// socketInodeToLocalPort builds a map from socket inode (as it appears in
// a /proc/self/fd readlink target) to the local port that socket is bound
// or connected from, by scanning /proc/net/tcp and /proc/net/tcp6. Both
// files list one open socket per line; column 2 is "local_addr:port_hex"
// and the inode is the 10th whitespace-separated field.
func socketInodeToLocalPort() map[string]int {
	result := make(map[string]int)
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Scan() // header line
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 10 {
				continue
			}
			localAddr := fields[1]
			inode := fields[9]

			parts := strings.Split(localAddr, ":")
			if len(parts) != 2 {
				continue
			}
			portNum, err := strconv.ParseInt(parts[1], 16, 32)
			if err != nil {
				continue
			}
			result[inode] = int(portNum)
		}
		f.Close()
	}
	return result
}
