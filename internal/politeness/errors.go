package politeness

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type PolitenessErrorCause string

const (
	ErrCauseKVCFailure     PolitenessErrorCause = "kvc failure"
	ErrCauseRobotsFailure  PolitenessErrorCause = "robots fetch failure"
	ErrCauseInvalidDomain  PolitenessErrorCause = "invalid domain"
)

type PolitenessError struct {
	Message   string
	Retryable bool
	Cause     PolitenessErrorCause
}

func (e *PolitenessError) Error() string {
	return fmt.Sprintf("politeness error: %s: %s", e.Cause, e.Message)
}

func (e *PolitenessError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *PolitenessError) IsRetryable() bool {
	return e.Retryable
}
