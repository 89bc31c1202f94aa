// Package message defines the envelopes exchanged between callers and workers.
//
// Request is the "envelope" for every RPC call. Its body travels as a flat JSON
// object, {"action": ..., <action fields>}, while the correlation id and the
// reply address ride on the transport message properties:
//
//	caller ──Request{action, payload}──→ work queue ──→ worker
//	caller ←──Response{status, result|error}── reply queue ←── worker
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the outcome carried by a Response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Request carries one RPC request.
//
//   - Action selects the handler operation (e.g. "transcribe_file").
//   - Payload holds the action-specific fields as a JSON object.
//   - CorrelationID and ReplyTo are transport-level properties, not part of the body.
type Request struct {
	Action        Action
	Payload       json.RawMessage
	CorrelationID string
	ReplyTo       string
}

// NewRequest marshals payload and wraps it in a Request for action.
// A nil payload produces an empty object.
func NewRequest(action Action, payload any) (*Request, error) {
	if payload == nil {
		return &Request{Action: action, Payload: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	return &Request{Action: action, Payload: raw}, nil
}

// MarshalJSON flattens Payload and Action into one object.
func (r Request) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(r.Payload) > 0 && string(r.Payload) != "null" {
		if err := json.Unmarshal(r.Payload, &fields); err != nil {
			return nil, fmt.Errorf("request payload must be a JSON object: %w", err)
		}
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return nil, err
	}
	fields["action"] = action
	return json.Marshal(fields)
}

// UnmarshalJSON splits the flat body back into Action and Payload.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("request body is null")
	}
	if raw, ok := fields["action"]; ok {
		if err := json.Unmarshal(raw, &r.Action); err != nil {
			return fmt.Errorf("decode action: %w", err)
		}
		delete(fields, "action")
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// Decode unmarshals the payload into v.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Payload, v)
}

// Response carries the outcome of one request.
// Result is meaningful when Status is "ok", Error when it is "error".
type Response struct {
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK builds a success response around an already-encoded result.
func OK(result json.RawMessage) *Response {
	return &Response{Status: StatusOK, Result: result}
}

// Fail builds an error response.
func Fail(msg string) *Response {
	return &Response{Status: StatusError, Error: msg}
}

// Empty reports whether a response carries no usable result: nothing, null,
// an empty string, or an object or array with nothing but whitespace inside.
// Every action returns at least one field or element when it succeeds.
func (r *Response) Empty() bool {
	b := bytes.TrimSpace(r.Result)
	switch string(b) {
	case "", "null", `""`:
		return true
	}
	n := len(b)
	if n >= 2 && (b[0] == '{' && b[n-1] == '}' || b[0] == '[' && b[n-1] == ']') {
		return len(bytes.TrimSpace(b[1:n-1])) == 0
	}
	return false
}
