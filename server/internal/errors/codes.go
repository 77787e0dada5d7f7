// Package errors defines the error codes returned by the HTTP API.
// Package errors 定义 HTTP API 返回的错误码。
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hrygo/brandpulse/store"
)

// ErrorCode classifies a failure for clients and logs.
type ErrorCode string

const (
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeServiceUnavailable indicates a component was not configured or failed to start.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeAgentExecutionFailed indicates agent execution failure.
	ErrCodeAgentExecutionFailed ErrorCode = "AGENT_EXECUTION_FAILED"
	// ErrCodeStoreUnavailable indicates the analytics store cannot be reached.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeBusy indicates every agent run slot is taken.
	ErrCodeBusy ErrorCode = "BUSY"
	// ErrCodeContextCanceled indicates the client went away.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// AIError carries a code and a client-safe message. Cause is only logged.
type AIError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AIError) Unwrap() error {
	return e.Cause
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *AIError {
	return &AIError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AIError {
	return &AIError{Code: ErrCodeInvalidArgument, Message: msg}
}

// ServiceUnavailable creates a service unavailable error.
func ServiceUnavailable(msg string) *AIError {
	return &AIError{Code: ErrCodeServiceUnavailable, Message: msg}
}

// StoreUnavailable creates a store unavailable error.
func StoreUnavailable(cause error) *AIError {
	return &AIError{Code: ErrCodeStoreUnavailable, Message: "analytics store unavailable", Cause: cause}
}

// Busy creates an error for a saturated run pool.
func Busy(msg string) *AIError {
	return &AIError{Code: ErrCodeBusy, Message: msg}
}

// Wrap wraps an existing error with a code and a client-safe message.
func Wrap(cause error, code ErrorCode, msg string) *AIError {
	return &AIError{Code: code, Message: msg, Cause: cause}
}

// Classify maps store and context failures onto error codes.
// An error that is already an AIError keeps its code; anything else becomes fallback.
func Classify(err error, fallback ErrorCode, msg string) *AIError {
	var aiErr *AIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &aiErr):
		return aiErr
	case errors.Is(err, store.ErrStoreUnavailable):
		return StoreUnavailable(err)
	case errors.Is(err, store.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "the analytics query took too long")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeContextCanceled, "request canceled")
	default:
		return Wrap(err, fallback, msg)
	}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AIError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code
	}
	return defaultCode
}

// HTTPStatus maps an error code to the HTTP status returned to clients.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeServiceUnavailable, ErrCodeStoreUnavailable, ErrCodeBusy:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeContextCanceled:
		// nginx's "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error body shared by every route.
func (e *AIError) Body() map[string]string {
	return map[string]string{
		"status":  "error",
		"message": e.Message,
	}
}
