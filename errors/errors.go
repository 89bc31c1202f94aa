// Package errors defines the typed failures surfaced by the RPC layer.
//
// Every failure is an *AppError carrying a machine-readable Code so callers can
// pick a policy per kind: retry on Timeout, never retry on RemoteExecution.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AppError is the unified error type of the RPC layer.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// DetailUnsent marks a failure raised before the request reached the broker.
const DetailUnsent = "unsent"

// MarkUnsent records that the request never reached the broker and returns
// the receiver.
func (e *AppError) MarkUnsent() *AppError {
	return e.WithDetail(DetailUnsent, true)
}

// New creates an AppError with retryability derived from the code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: IsRetryableCode(code)}
}

// Connectivity reports that the broker cannot be reached or the connection was lost.
func Connectivity(reason string) *AppError {
	return &AppError{
		Code: ErrCodeConnectivity, Message: fmt.Sprintf("broker unavailable: %s", reason),
		Retryable: true, Details: map[string]any{"reason": reason},
	}
}

// Protocol reports a malformed or unusable response.
func Protocol(message string) *AppError {
	return &AppError{Code: ErrCodeProtocol, Message: message}
}

// Timeout reports that no reply arrived within the wait window.
func Timeout(queue string, after time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("no reply from %s within %s", queue, after),
		Retryable: true, Details: map[string]any{"queue": queue, "timeout": after.String()},
	}
}

// RemoteExecution carries a handler's own failure message verbatim.
func RemoteExecution(message string) *AppError {
	return &AppError{Code: ErrCodeRemoteExecution, Message: message}
}

// UnmatchedResponse reports a reply with no pending call.
func UnmatchedResponse(correlationID string) *AppError {
	return &AppError{
		Code: ErrCodeUnmatchedResponse, Message: "no pending call for reply",
		Details: map[string]any{"correlation_id": correlationID},
	}
}

// InvalidInput reports a payload that failed validation.
func InvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsUnsent reports whether err is a Connectivity failure raised before the
// request was published. Running such a request elsewhere cannot run it twice.
func IsUnsent(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Code != ErrCodeConnectivity {
		return false
	}
	unsent, _ := appErr.Details[DetailUnsent].(bool)
	return unsent
}

func IsConnectivity(err error) bool      { return Code(err) == ErrCodeConnectivity }
func IsProtocol(err error) bool          { return Code(err) == ErrCodeProtocol }
func IsTimeout(err error) bool           { return Code(err) == ErrCodeTimeout }
func IsRemoteExecution(err error) bool   { return Code(err) == ErrCodeRemoteExecution }
func IsUnmatchedResponse(err error) bool { return Code(err) == ErrCodeUnmatchedResponse }
func IsInvalidInput(err error) bool      { return Code(err) == ErrCodeInvalidInput }
