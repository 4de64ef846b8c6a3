package telemetry

// FDBreakdown is the typed file-descriptor census spec §5 requires the
// orchestrator to collect and export every metrics interval: KVC sockets,
// HTTP/HTTPS sockets, frontier file handles, the Prometheus listener's own
// sockets, pipes, and everything else that doesn't fit a named bucket.
type FDBreakdown struct {
	KVCSockets      int
	HTTPSockets     int
	FrontierFiles   int
	PrometheusFiles int
	Pipes           int
	Other           int
}

// Total is the sum across every bucket, the figure the FD-hygiene
// testable property (spec §8.6) bounds over time.
func (b FDBreakdown) Total() int {
	return b.KVCSockets + b.HTTPSockets + b.FrontierFiles + b.PrometheusFiles + b.Pipes + b.Other
}
