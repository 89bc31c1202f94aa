// Package gateway exposes the ASR and LLM operations as typed Go calls.
//
// Each call builds and validates a request envelope and sends it over the
// broker. When the broker is unavailable, or the call is lost to a
// connectivity failure before any reply, the bound handler runs in-process
// instead (unless fallback is switched off). Either way the outcome goes
// through the same interpretation:
//
//	status "error"          → REMOTE_EXECUTION_FAILURE with the handler's message
//	status "ok", no result  → PROTOCOL_FAILURE
//	status "ok"             → result decoded into the operation's type
//
// Calls are never retried.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"mq-rpc/errors"
	"mq-rpc/logger"
	"mq-rpc/message"
	"mq-rpc/observe"
	"mq-rpc/server"
)

// Caller sends a request to a work queue and waits for its reply.
// *broker.Manager implements it.
type Caller interface {
	IsAvailable() bool
	Call(ctx context.Context, queue string, req *message.Request, timeout time.Duration) (*message.Response, error)
}

// Option configures a gateway.
type Option func(*core)

// WithFallback enables or disables in-process execution. Enabled by default.
func WithFallback(enabled bool) Option {
	return func(c *core) { c.fallback = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *core) { c.log = l.WithComponent("gateway") }
}

// WithMetrics counts fallback executions.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *core) { c.metrics = m }
}

// CallOption tunes a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the broker's default wait for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

type core struct {
	caller     Caller
	queue      string
	capability message.Capability
	local      server.Handler
	fallback   bool
	log        *logger.Logger
	metrics    *observe.Metrics
}

func newCore(caller Caller, queue string, capability message.Capability, local server.Handler, opts []Option) *core {
	c := &core{
		caller:     caller,
		queue:      queue,
		capability: capability,
		local:      local,
		fallback:   true,
		log:        logger.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends one action and returns the raw result of a successful response.
func (c *core) do(ctx context.Context, action message.Action, payload any, opts []CallOption) (json.RawMessage, error) {
	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	if payload != nil {
		if err := message.Validate(payload); err != nil {
			return nil, err
		}
	}
	req, err := message.NewRequest(action, payload)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	resp, err := c.send(ctx, req, co.timeout)
	if err != nil {
		return nil, err
	}
	return c.interpret(resp)
}

func (c *core) send(ctx context.Context, req *message.Request, timeout time.Duration) (*message.Response, error) {
	if c.caller == nil || !c.caller.IsAvailable() {
		if c.canFallback() {
			return c.runLocal(ctx, req, "broker unavailable"), nil
		}
		if c.caller == nil {
			return nil, errors.Connectivity("no broker configured")
		}
		// Fails fast with the manager's own reason.
		return c.caller.Call(ctx, c.queue, req, timeout)
	}

	// Only a request that never reached the broker may run locally; once
	// published a worker may already be running it.
	resp, err := c.caller.Call(ctx, c.queue, req, timeout)
	if err != nil && errors.IsUnsent(err) && c.canFallback() {
		return c.runLocal(ctx, req, err.Error()), nil
	}
	return resp, err
}

func (c *core) canFallback() bool {
	return c.fallback && c.local != nil
}

func (c *core) runLocal(ctx context.Context, req *message.Request, reason string) *message.Response {
	c.log.Debug("running in-process", map[string]interface{}{
		logger.FieldAction: string(req.Action),
		logger.FieldReason: reason,
	})
	if c.metrics != nil {
		c.metrics.RecordFallback(ctx, string(c.capability))
	}
	return server.Invoke(ctx, c.local, req)
}

func (c *core) interpret(resp *message.Response) (json.RawMessage, error) {
	if resp.Status != message.StatusOK {
		msg := resp.Error
		if msg == "" {
			msg = taskLabel(c.capability) + " task failed"
		}
		return nil, errors.RemoteExecution(msg)
	}
	if resp.Empty() {
		return nil, errors.Protocol("handler declared success but returned nothing usable")
	}
	return resp.Result, nil
}

func taskLabel(c message.Capability) string {
	if c == message.CapabilityASR {
		return "ASR"
	}
	return "LLM"
}

// call runs one action and decodes its result into T.
func call[T any](ctx context.Context, c *core, action message.Action, payload any, opts []CallOption) (T, error) {
	var out T
	raw, err := c.do(ctx, action, payload, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Protocol("decode " + string(action) + " result: " + err.Error()).WithCause(err)
	}
	return out, nil
}
