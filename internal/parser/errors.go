package parser

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type ParserErrorCause string

const (
	ErrCauseQueuePop     ParserErrorCause = "fetch queue pop failure"
	ErrCauseLinkExtract  ParserErrorCause = "link extraction failure"
	ErrCauseFrontierAdd  ParserErrorCause = "frontier add-urls failure"
	ErrCauseStorageWrite ParserErrorCause = "content write failure"
	ErrCauseStorageVisit ParserErrorCause = "visit record failure"
)

// ParserError is PC's observational error type: every cause here is
// recoverable by design (the worker logs and moves on to the next
// record), so it is never returned from Run, only passed to RecordError.
type ParserError struct {
	Message string
	Cause   ParserErrorCause
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("parser error: %s: %s", e.Cause, e.Message)
}

func (e *ParserError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}

func mapParserErrorToMetadataCause(cause ParserErrorCause) metadata.ErrorCause {
	switch cause {
	case ErrCauseQueuePop:
		return metadata.CauseNetworkFailure
	case ErrCauseLinkExtract:
		return metadata.CauseContentInvalid
	case ErrCauseFrontierAdd, ErrCauseStorageWrite, ErrCauseStorageVisit:
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}
