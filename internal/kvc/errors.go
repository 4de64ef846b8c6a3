package kvc

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type KVCErrorCause string

const (
	ErrCauseConnection    KVCErrorCause = "connection failure"
	ErrCauseTimeout       KVCErrorCause = "operation timeout"
	ErrCauseBadResponse   KVCErrorCause = "unexpected response shape"
	ErrCausePoolExhausted KVCErrorCause = "pool exhausted"
)

type KVCError struct {
	Message   string
	Retryable bool
	Cause     KVCErrorCause
}

func (e *KVCError) Error() string {
	return fmt.Sprintf("kvc error: %s: %s", e.Cause, e.Message)
}

func (e *KVCError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *KVCError) IsRetryable() bool {
	return e.Retryable
}
