package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	// ErrCodeConnectivity: the broker cannot be reached or the connection was lost.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY_FAILURE"
	// ErrCodeProtocol: a response body could not be decoded or carried no result.
	ErrCodeProtocol ErrorCode = "PROTOCOL_FAILURE"
	// ErrCodeTimeout: no reply arrived within the wait window.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRemoteExecution: the handler ran and reported failure.
	ErrCodeRemoteExecution ErrorCode = "REMOTE_EXECUTION_FAILURE"
	// ErrCodeUnmatchedResponse: a reply arrived for no pending call.
	ErrCodeUnmatchedResponse ErrorCode = "UNMATCHED_RESPONSE"
	// ErrCodeInvalidInput: a request payload failed validation.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectivity:      true,
	ErrCodeTimeout:           true,
	ErrCodeProtocol:          false,
	ErrCodeRemoteExecution:   false,
	ErrCodeUnmatchedResponse: false,
	ErrCodeInvalidInput:      false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
