package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified failure in the moderation pipeline.
type ErrorCode string

const (
	ErrConnectionFailed  ErrorCode = "connection_failed"
	ErrAPIError          ErrorCode = "api_error"
	ErrEmptyResponse     ErrorCode = "empty_response"
	ErrTruncatedOutput   ErrorCode = "truncated_output"
	ErrInvalidAIResponse ErrorCode = "invalid_ai_response"
	ErrInvalidDecision   ErrorCode = "invalid_decision"
	ErrInvalidEnvelope   ErrorCode = "invalid_envelope"
	ErrMissingCredential ErrorCode = "missing_credential"
	ErrProcessingError   ErrorCode = "processing_error"
)

// ClassificationError is a structured error for classification failures.
// Every failure in the classification path is wrapped in one of these; the
// dispatch layer logs it and leaves the comment retryable, so a
// ClassificationError never propagates as a crash.
type ClassificationError struct {
	Code    ErrorCode
	Model   string
	Message string

	// RawText holds the raw model output for response-shape failures, kept
	// for operator diagnosis.
	RawText string

	// StructuredErr and FallbackErr record both parse attempts when the
	// structured decode and the heuristic fallback both failed.
	StructuredErr error
	FallbackErr   error

	Duration time.Duration
	Cause    error
}

func (e *ClassificationError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Model, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClassificationError) Unwrap() error {
	return e.Cause
}

// NewClassificationError builds a ClassificationError with the given code.
func NewClassificationError(code ErrorCode, model, message string) *ClassificationError {
	return &ClassificationError{Code: code, Model: model, Message: message}
}

// ClassifyError inspects an error and returns a *ClassificationError with the
// appropriate code. A nil error yields nil. Errors that already carry a code
// pass through unchanged.
func ClassifyError(err error, model string) *ClassificationError {
	if err == nil {
		return nil
	}

	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce
	}

	out := &ClassificationError{
		Model: model,
		Cause: err,
	}

	// Timeouts on the outbound call are connection failures per the failure
	// taxonomy, never crashes.
	if errors.Is(err, context.DeadlineExceeded) {
		out.Code = ErrConnectionFailed
		out.Message = "request timed out"
		return out
	}
	if errors.Is(err, context.Canceled) {
		out.Code = ErrConnectionFailed
		out.Message = "request cancelled"
		return out
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "broken pipe"):
		out.Code = ErrConnectionFailed
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"):
		out.Code = ErrAPIError
	default:
		out.Code = ErrProcessingError
	}
	out.Message = msg
	return out
}

// CodeOf extracts the error code from err, or ErrProcessingError when err
// carries no code.
func CodeOf(err error) ErrorCode {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrProcessingError
}

// IsErrorRetryable reports whether the error is transient per the error code
// registry. Unknown codes default to non-retryable.
func IsErrorRetryable(err error) bool {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		if info, ok := ErrorCodeRegistry[ce.Code]; ok {
			return info.Retryable
		}
	}
	return false
}
