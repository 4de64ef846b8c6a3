package frontierfiles

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type FrontierFilesErrorCause string

const (
	ErrCauseIO            FrontierFilesErrorCause = "io failure"
	ErrCauseCorruptRecord FrontierFilesErrorCause = "corrupt record"
)

type FrontierFilesError struct {
	Message   string
	Retryable bool
	Cause     FrontierFilesErrorCause
}

func (e *FrontierFilesError) Error() string {
	return fmt.Sprintf("frontier files error: %s: %s", e.Cause, e.Message)
}

func (e *FrontierFilesError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FrontierFilesError) IsRetryable() bool {
	return e.Retryable
}
