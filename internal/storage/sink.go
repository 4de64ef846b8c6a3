// Package storage is the SS module: content-addressed persistence of
// fetched bytes plus per-URL visit bookkeeping in KVC.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/fileutil"
	"github.com/rohmanhakim/polite-crawler/pkg/hashutil"
)

/*
Responsibilities
- Persist fetched bytes content-addressed by SHA-256
- Record one visited:<urlsha256> hash per crawled URL
- Ensure deterministic, idempotent writes

Output Characteristics
- Stable directory layout: content/<sha[:2]>/<sha>.bin
- Writing the same bytes twice is a no-op past the first write
- visited:<urlsha256> is overwritten on every call, last writer wins
*/

// KVC is the narrow slice of internal/kvc.Client the storage service
// needs to persist visit records.
type KVC interface {
	HMSet(ctx context.Context, key string, fields map[string]any) error
}

// Sink is the SS module's public contract.
type Sink interface {
	WriteContent(ctx context.Context, body []byte) (ContentWriteResult, failure.ClassifiedError)
	RecordVisit(ctx context.Context, rec VisitedRecord) failure.ClassifiedError
}

// LocalSink persists content to a local content-addressed directory tree
// and visit records to KVC.
type LocalSink struct {
	metadataSink metadata.MetadataSink
	kv           KVC
	dataDir      string
}

// NewLocalSink constructs a LocalSink rooted at dataDir.
func NewLocalSink(metadataSink metadata.MetadataSink, kv KVC, dataDir string) LocalSink {
	return LocalSink{metadataSink: metadataSink, kv: kv, dataDir: dataDir}
}

func visitedKey(rawURL string) string {
	sha, _ := hashutil.HashBytes([]byte(rawURL), hashutil.HashAlgoSHA256)
	return "visited:" + sha
}

func contentPathFor(dataDir, sha string) string {
	bucket := sha
	if len(bucket) > 2 {
		bucket = sha[:2]
	}
	return filepath.Join(dataDir, "content", bucket, sha+".bin")
}

// WriteContent hashes body with SHA-256 and writes it to
// content/<sha[:2]>/<sha>.bin via a temp-file-then-rename, unless a file
// with that hash already exists, in which case the write is a no-op and
// IsNew is false.
func (s *LocalSink) WriteContent(ctx context.Context, body []byte) (ContentWriteResult, failure.ClassifiedError) {
	result, err := s.writeContent(body)
	if err != nil {
		var storageError *StorageError
		errors.As(err, &storageError)
		s.metadataSink.RecordError(
			time.Now(),
			"storage",
			"LocalSink.WriteContent",
			mapStorageErrorToMetadataCause(storageError),
			err.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrWritePath, storageError.Path)},
		)
		return ContentWriteResult{}, storageError
	}

	if result.IsNew() {
		s.metadataSink.RecordArtifact(
			metadata.ArtifactKindContentBlob,
			result.Path(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrWritePath, result.Path()),
				metadata.NewAttr(metadata.AttrField, result.SHA()),
			},
		)
	}
	return result, nil
}

func (s *LocalSink) writeContent(body []byte) (ContentWriteResult, failure.ClassifiedError) {
	sha, err := hashutil.HashBytes(body, hashutil.HashAlgoSHA256)
	if err != nil {
		return ContentWriteResult{}, &StorageError{
			Message: err.Error(), Retryable: false, Cause: ErrCauseHashComputationFailed,
		}
	}

	fullPath := contentPathFor(s.dataDir, sha)
	if _, statErr := os.Stat(fullPath); statErr == nil {
		return NewContentWriteResult(sha, fullPath, false), nil
	}

	dir := filepath.Dir(fullPath)
	if err := fileutil.EnsureDir(dir); err != nil {
		var fileErr *fileutil.FileError
		cause, retryable := ErrCauseWriteFailure, false
		if errors.As(err, &fileErr) && fileErr.Cause == fileutil.ErrCausePathError {
			cause, retryable = ErrCausePathError, true
		}
		return ContentWriteResult{}, &StorageError{Message: err.Error(), Retryable: retryable, Cause: cause, Path: dir}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ContentWriteResult{}, &StorageError{Message: err.Error(), Retryable: false, Cause: ErrCauseWriteFailure, Path: dir}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ContentWriteResult{}, writeErr(err, tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ContentWriteResult{}, writeErr(err, tmpPath)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return ContentWriteResult{}, writeErr(err, fullPath)
	}

	return NewContentWriteResult(sha, fullPath, true), nil
}

func writeErr(err error, path string) *StorageError {
	cause, retryable := ErrCauseWriteFailure, false
	if errors.Is(err, syscall.ENOSPC) {
		cause, retryable = ErrCauseDiskFull, true
	}
	return &StorageError{Message: err.Error(), Retryable: retryable, Cause: cause, Path: path}
}

// RecordVisit persists rec to KVC's visited:<urlsha256> hash. Calling it
// twice for the same URL is idempotent: the hash is simply overwritten.
func (s *LocalSink) RecordVisit(ctx context.Context, rec VisitedRecord) failure.ClassifiedError {
	fields := map[string]any{
		"url":          rec.URL,
		"domain":       rec.Domain,
		"status_code":  strconv.Itoa(rec.StatusCode),
		"fetched_at":   rec.FetchedAt.Format(time.RFC3339),
		"content_hash": rec.ContentHash,
		"content_path": rec.ContentPath,
		"error":        rec.Error,
	}
	if err := s.kv.HMSet(ctx, visitedKey(rec.URL), fields); err != nil {
		storageErr := &StorageError{
			Message:   fmt.Sprintf("record visit for %s: %v", rec.URL, err),
			Retryable: true,
			Cause:     ErrCauseVisitedRecordFailure,
		}
		s.metadataSink.RecordError(
			time.Now(),
			"storage",
			"LocalSink.RecordVisit",
			mapStorageErrorToMetadataCause(storageErr),
			storageErr.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, rec.URL)},
		)
		return storageErr
	}
	return nil
}
