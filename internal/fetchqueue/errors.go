package fetchqueue

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type FetchQueueErrorCause string

const (
	ErrCauseEncodeFailure FetchQueueErrorCause = "record encode failure"
	ErrCauseDecodeFailure FetchQueueErrorCause = "record decode failure"
	ErrCauseQueueFailure  FetchQueueErrorCause = "queue operation failure"
)

type FetchQueueError struct {
	Message   string
	Retryable bool
	Cause     FetchQueueErrorCause
}

func (e *FetchQueueError) Error() string {
	return fmt.Sprintf("fetch queue error: %s: %s", e.Cause, e.Message)
}

func (e *FetchQueueError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchQueueError) IsRetryable() bool {
	return e.Retryable
}
