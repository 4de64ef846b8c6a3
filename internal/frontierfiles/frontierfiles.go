// Package frontierfiles implements the append-only per-domain URL logs the
// frontier manager reads sequentially by byte offset. Each domain gets one
// file; the only authoritative length is the frontier_size field kept in
// KVC, so a reader never trusts os.Stat past what its caller already knows
// was durably appended.
package frontierfiles

/*
Responsibilities

- Append url<TAB>depth records to a domain's frontier file
- Read exactly one record at a caller-given byte offset
- Never rewrite a byte once written
*/

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rohmanhakim/polite-crawler/pkg/fileutil"
)

// Record is one frontier entry: a URL discovered at depth hops from a seed.
type Record struct {
	URL   string
	Depth int
}

// Store roots all frontier files under baseDir/frontier/<bucket>/<host>.frontier.
type Store struct {
	baseDir string
}

// NewStore returns a Store rooted at baseDir. baseDir is created lazily on
// first Append.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// bucketFor returns the two-hex-character directory prefix for host, taken
// from the SHA-256 of host, keeping any single directory's file count low
// without needing a second index structure.
func bucketFor(host string) string {
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:1])
}

// PathFor returns the on-disk path for host's frontier file, exported so
// the frontier manager can record it verbatim as domain:<host>'s file_path.
func (s *Store) PathFor(host string) string {
	return filepath.Join(s.baseDir, "frontier", bucketFor(host), host+".frontier")
}

func formatRecord(r Record) string {
	return fmt.Sprintf("%s\t%d\n", r.URL, r.Depth)
}

// Append writes records to host's frontier file in order, creating the file
// and its bucket directory if needed, and returns the number of bytes this
// call wrote (0 when records is empty). The caller (FM's add-URLs protocol)
// folds this delta into domain:<host>'s frontier_size with HINCRBY, so
// concurrent Append calls for the same host accumulate correctly instead of
// racing on an absolute size read back from the filesystem.
func (s *Store) Append(host string, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	path := s.PathFor(host)
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return 0, &FrontierFilesError{Message: err.Error(), Retryable: true, Cause: ErrCauseIO}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, &FrontierFilesError{Message: err.Error(), Retryable: true, Cause: ErrCauseIO}
	}
	defer f.Close()

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(formatRecord(r))
	}

	payload := sb.String()
	if _, err := f.WriteString(payload); err != nil {
		return 0, &FrontierFilesError{Message: err.Error(), Retryable: true, Cause: ErrCauseIO}
	}

	return int64(len(payload)), nil
}

// ReadOne opens host's frontier file at offset and reads exactly one
// record, returning the record and the offset immediately past it. ok is
// false iff offset is at or past the file's current size (the caller
// compares against KVC's frontier_size before calling this, per the FM
// claim protocol, so this is a defensive re-check, not the primary guard).
func (s *Store) ReadOne(host string, offset int64) (rec *Record, newOffset int64, ok bool, err error) {
	path := s.PathFor(host)
	f, openErr := os.Open(path)
	if os.IsNotExist(openErr) {
		return nil, offset, false, nil
	}
	if openErr != nil {
		return nil, offset, false, &FrontierFilesError{Message: openErr.Error(), Retryable: true, Cause: ErrCauseIO}
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return nil, offset, false, &FrontierFilesError{Message: statErr.Error(), Retryable: true, Cause: ErrCauseIO}
	}
	if offset >= info.Size() {
		return nil, offset, false, nil
	}

	if _, seekErr := f.Seek(offset, 0); seekErr != nil {
		return nil, offset, false, &FrontierFilesError{Message: seekErr.Error(), Retryable: true, Cause: ErrCauseIO}
	}

	reader := bufio.NewReader(f)
	line, readErr := reader.ReadString('\n')
	if readErr != nil && line == "" {
		return nil, offset, false, &FrontierFilesError{Message: readErr.Error(), Retryable: true, Cause: ErrCauseIO}
	}

	line = strings.TrimSuffix(line, "\n")
	parts := strings.SplitN(line, "\t", 2)
	if len(parts) != 2 {
		return nil, offset, false, &FrontierFilesError{
			Message:   fmt.Sprintf("malformed frontier record at offset %d in %s", offset, path),
			Retryable: false,
			Cause:     ErrCauseCorruptRecord,
		}
	}

	depth, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return nil, offset, false, &FrontierFilesError{
			Message:   fmt.Sprintf("malformed depth field at offset %d in %s: %v", offset, path, convErr),
			Retryable: false,
			Cause:     ErrCauseCorruptRecord,
		}
	}

	return &Record{URL: parts[0], Depth: depth}, offset + int64(len(line)+1), true, nil
}
