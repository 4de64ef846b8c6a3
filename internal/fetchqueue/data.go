package fetchqueue

import "time"

// Record is the binary-framed tuple FE producers push and PC consumers
// pop, spec §4.6.
type Record struct {
	URL          string
	FinalURL     string
	Domain       string
	Depth        int
	StatusCode   int
	ContentType  string
	ContentBytes int64
	FetchedAt    time.Time
	// Body holds the fetched response bytes themselves, so PC can hand
	// them to storage.Sink.WriteContent without re-fetching. ContentBytes
	// remains the size FE observed at fetch time even if Body is later
	// dropped (e.g. for non-2xx responses FE chooses not to forward).
	Body []byte
}
