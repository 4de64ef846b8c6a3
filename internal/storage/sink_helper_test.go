package storage_test

import (
	"context"
	"errors"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
)

var errHMSet = errors.New("simulated HMSet failure")

// metadataSinkMock is a mock for metadata.MetadataSink
type metadataSinkMock struct {
	recordErrorCalled      bool
	recordErrorObservedAt  time.Time
	recordErrorPackageName string
	recordErrorAction      string
	recordErrorCause       metadata.ErrorCause
	recordErrorDetails     string
	recordErrorAttrs       []metadata.Attribute
	recordFetchCalled      bool
	recordAssetFetchCalled bool
	recordArtifactCalled   bool
	recordArtifactKind     metadata.ArtifactKind
	recordArtifactPath     string
	recordArtifactAttrs    []metadata.Attribute
}

func (m *metadataSinkMock) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause metadata.ErrorCause,
	details string,
	attrs []metadata.Attribute,
) {
	m.recordErrorCalled = true
	m.recordErrorObservedAt = observedAt
	m.recordErrorPackageName = packageName
	m.recordErrorAction = action
	m.recordErrorCause = cause
	m.recordErrorDetails = details
	m.recordErrorAttrs = attrs
}

func (m *metadataSinkMock) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	m.recordFetchCalled = true
}

func (m *metadataSinkMock) RecordAssetFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	m.recordAssetFetchCalled = true
}

func (m *metadataSinkMock) RecordArtifact(kind metadata.ArtifactKind, path string, attrs []metadata.Attribute) {
	m.recordArtifactCalled = true
	m.recordArtifactKind = kind
	m.recordArtifactPath = path
	m.recordArtifactAttrs = attrs
}

// fakeVisitedKVC is an in-memory stand-in for storage.KVC.
type fakeVisitedKVC struct {
	hashes map[string]map[string]any
	failOn string // if non-empty, HMSet for this key fails once
}

func newFakeVisitedKVC() *fakeVisitedKVC {
	return &fakeVisitedKVC{hashes: make(map[string]map[string]any)}
}

func (f *fakeVisitedKVC) HMSet(ctx context.Context, key string, fields map[string]any) error {
	if f.failOn != "" && key == f.failOn {
		f.failOn = ""
		return errHMSet
	}
	f.hashes[key] = fields
	return nil
}
