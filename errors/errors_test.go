package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestKindsAreDistinct(t *testing.T) {
	cases := []struct {
		err       *AppError
		code      ErrorCode
		retryable bool
	}{
		{Connectivity("broker unreachable"), ErrCodeConnectivity, true},
		{Protocol("bad body"), ErrCodeProtocol, false},
		{Timeout("llm", 10 * time.Millisecond), ErrCodeTimeout, true},
		{RemoteExecution("bad audio"), ErrCodeRemoteExecution, false},
		{UnmatchedResponse("abc"), ErrCodeUnmatchedResponse, false},
		{InvalidInput("text is required"), ErrCodeInvalidInput, false},
	}
	for _, c := range cases {
		if c.err.Code != c.code {
			t.Fatalf("expect code %s, got %s", c.code, c.err.Code)
		}
		if c.err.Retryable != c.retryable {
			t.Fatalf("%s: expect retryable=%v", c.code, c.retryable)
		}
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("gateway: %w", Timeout("asr", time.Second))
	if !IsTimeout(err) {
		t.Fatal("expect wrapped timeout to be detected")
	}
	if IsRemoteExecution(err) || IsConnectivity(err) {
		t.Fatal("timeout must not match other kinds")
	}
	if Code(stderrors.New("plain")) != "" {
		t.Fatal("plain errors carry no code")
	}
}

func TestRemoteExecutionKeepsMessage(t *testing.T) {
	err := RemoteExecution("bad audio")
	if err.Message != "bad audio" {
		t.Fatalf("expect verbatim message, got %q", err.Message)
	}
}

func TestCauseUnwraps(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Connectivity("publish failed").WithCause(cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expect cause to unwrap")
	}
}

func TestIsUnsent(t *testing.T) {
	if !IsUnsent(fmt.Errorf("call: %w", Connectivity("publish failed").MarkUnsent())) {
		t.Fatal("expect marked connectivity failure to be unsent")
	}
	if IsUnsent(Connectivity("connection lost")) {
		t.Fatal("unmarked connectivity failure may have been published")
	}
	if IsUnsent(Timeout("asr_tasks", time.Second).MarkUnsent()) {
		t.Fatal("only connectivity failures count as unsent")
	}
}
