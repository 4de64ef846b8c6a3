package orchestrator

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type OrchestratorErrorCause string

const (
	ErrCauseClaimFailure    OrchestratorErrorCause = "frontier claim failure"
	ErrCauseReleaseFailure  OrchestratorErrorCause = "frontier release failure"
	ErrCausePolicyFailure   OrchestratorErrorCause = "politeness decision failure"
	ErrCauseQueuePush       OrchestratorErrorCause = "fetch queue push failure"
	ErrCauseVisitRecord     OrchestratorErrorCause = "disallowed visit record failure"
	ErrCauseParserProcess   OrchestratorErrorCause = "parser process failure"
	ErrCauseMetricsExport   OrchestratorErrorCause = "metrics export failure"
)

// OrchestratorError is the worker loop's and supervisor's classified
// failure type, following the same {Message, Retryable, Cause} shape every
// other module in this crawl uses.
type OrchestratorError struct {
	Message   string
	Retryable bool
	Cause     OrchestratorErrorCause
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator error: %s: %s", e.Cause, e.Message)
}

func (e *OrchestratorError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *OrchestratorError) IsRetryable() bool {
	return e.Retryable
}

// mapOrchestratorErrorToMetadataCause maps the worker loop's local error
// semantics to the canonical metadata.ErrorCause table. Observational
// only, per metadata's own rule: it must never drive control flow.
func mapOrchestratorErrorToMetadataCause(cause OrchestratorErrorCause) metadata.ErrorCause {
	switch cause {
	case ErrCauseClaimFailure, ErrCauseReleaseFailure, ErrCauseQueuePush:
		return metadata.CauseNetworkFailure
	case ErrCausePolicyFailure:
		return metadata.CausePolicyDisallow
	case ErrCauseVisitRecord:
		return metadata.CauseStorageFailure
	case ErrCauseParserProcess, ErrCauseMetricsExport:
		return metadata.CauseUnknown
	default:
		return metadata.CauseUnknown
	}
}
