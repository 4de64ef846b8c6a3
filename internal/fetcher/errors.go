package fetcher

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type FetchErrorCause string

const (
	ErrCauseTimeout               FetchErrorCause = "timeout"
	ErrCauseConnection            FetchErrorCause = "connection error"
	ErrCauseNetworkFailure        FetchErrorCause = "network issues"
	ErrCauseReadResponseBodyError FetchErrorCause = "failed to read response body"
	ErrCauseRedirectLimitExceeded FetchErrorCause = "reached redirect limit"
	ErrCauseRequestPageForbidden  FetchErrorCause = "forbidden"
	ErrCauseRequestTooMany        FetchErrorCause = "too many requests"
	ErrCauseRequest5xx            FetchErrorCause = "5xx"
	ErrCauseRepeated403           FetchErrorCause = "repeated 403s"
	ErrCauseGeneric               FetchErrorCause = "generic error"
)

// Synthetic status codes spec §4.5 asks FE to emit when no real HTTP
// status is available, so downstream stages can treat errors uniformly
// alongside 1xx-5xx responses.
const (
	StatusGenericError    = 900
	StatusConnectionError = 901
	StatusTimeoutError    = 902
)

type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher error: %s", e.Cause)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable returns whether this error is retryable
func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// SyntheticStatus maps a FetchError's cause to one of the 900/901/902
// synthetic status codes spec §4.5 defines.
func (e *FetchError) SyntheticStatus() int {
	switch e.Cause {
	case ErrCauseTimeout:
		return StatusTimeoutError
	case ErrCauseConnection, ErrCauseNetworkFailure:
		return StatusConnectionError
	default:
		return StatusGenericError
	}
}

// mapFetchErrorToMetadataCause maps fetcher-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapFetchErrorToMetadataCause(err *FetchError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout, ErrCauseConnection, ErrCauseNetworkFailure:
		return metadata.CauseNetworkFailure
	case ErrCauseRequestTooMany, ErrCauseRepeated403:
		return metadata.CausePolicyDisallow
	default:
		return metadata.CauseUnknown
	}
}
