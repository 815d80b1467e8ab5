// Package errs defines the error taxonomy of the analysis pipeline.
//
// Every failure surfaced to a task record carries a Kind so callers can
// distinguish fatal parse/report failures from recoverable per-unit ones
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind string

const (
	KindUnsupportedFormat          Kind = "unsupported_format"
	KindCorruptDocument            Kind = "corrupt_document"
	KindExternalServiceUnavailable Kind = "external_service_unavailable"
	KindRateLimitExceeded          Kind = "rate_limit_exceeded"
	KindMalformedModelResponse     Kind = "malformed_model_response"
	KindReportGeneration           Kind = "report_generation_error"
	KindTimeout                    Kind = "timeout"
	KindCancelled                  Kind = "cancelled"
	KindInternal                   Kind = "internal"
)

// Error is a classified pipeline error
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors map to
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether a failure of this kind is recovered locally
// (retry, fallback, or unit degradation) instead of failing the task.
func (k Kind) Recoverable() bool {
	switch k {
	case KindExternalServiceUnavailable, KindRateLimitExceeded, KindMalformedModelResponse:
		return true
	}
	return false
}
