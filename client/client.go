// Package client correlates requests and replies over a broker that has no
// native RPC.
//
// Every call gets a fresh correlation id. Its result slot is registered in the
// pending map BEFORE the request is published, so a reply can never arrive for
// an id that is not yet known. The reply consumer hands each reply to Resolve,
// which routes it to the waiting caller by id:
//
//	caller-1 ──Call(id=a)──┐
//	caller-2 ──Call(id=b)──┼──→ work queue ──→ workers
//	caller-3 ──Call(id=c)──┘
//
//	reply consumer: ←── reply(id=b) → pending[b] slot → caller-2 wakes up
//
// A slot is removed the instant it resolves (reply, timeout, cancellation or
// FailAll), so no call is ever resolved twice.
package client

import (
	"context"
	"sync"
	"time"

	"mq-rpc/codec"
	"mq-rpc/errors"
	"mq-rpc/logger"
	"mq-rpc/message"
	"mq-rpc/observe"
	"mq-rpc/transport"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a call made with a zero timeout.
const DefaultTimeout = 30 * time.Second

// PendingCall is one outstanding request waiting for its reply.
type PendingCall struct {
	ID        string
	Queue     string
	CreatedAt time.Time
	Deadline  time.Time

	slot chan result // buffered(1): the resolver never blocks
}

type result struct {
	resp *message.Response
	err  error
}

// Tracker owns the pending map. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*PendingCall

	codec   codec.Codec
	log     *logger.Logger
	metrics *observe.Metrics
	newID   func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCodec sets the codec requests are encoded with. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(t *Tracker) { t.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.log = l.WithComponent("client") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithIDGenerator replaces the UUIDv4 correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		pending: make(map[string]*PendingCall),
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		log:     logger.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Call publishes req to queue and waits for the matching reply on replyTo.
//
// The returned Response may carry status "error"; interpreting it is up to
// the caller. Failures are *errors.AppError: Connectivity when publishing
// fails (marked unsent), Timeout when no reply arrives in time, Protocol when the reply
// cannot be decoded. A canceled ctx returns ctx.Err().
func (t *Tracker) Call(ctx context.Context, pub transport.Publisher, queue, replyTo string, req *message.Request, timeout time.Duration) (*message.Response, error) {
	start := time.Now()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, errors.Protocol("encode request").WithCause(err)
	}

	// Register the slot BEFORE publishing (avoid racing the reply consumer).
	call := t.register(queue, start, timeout)
	req.CorrelationID = call.ID
	req.ReplyTo = replyTo

	err = pub.Publish(ctx, queue, transport.Publishing{
		ContentType:   t.codec.ContentType(),
		CorrelationID: call.ID,
		ReplyTo:       replyTo,
		Persistent:    true,
		Body:          body,
	})
	if err != nil {
		t.remove(call.ID)
		t.record(ctx, queue, "connectivity", start)
		return nil, errors.Connectivity("publish failed").WithCause(err).WithDetail("queue", queue).MarkUnsent()
	}
	t.log.Debug("request published", map[string]interface{}{
		logger.FieldCorrelationID: call.ID,
		logger.FieldQueue:         queue,
		logger.FieldAction:        string(req.Action),
		"size":                    len(body),
		logger.FieldPending:       t.Pending(),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-call.slot:
		return t.finish(ctx, queue, start, r)

	case <-timer.C:
		if !t.remove(call.ID) {
			// The reply won the race; its result is already in the slot.
			return t.finish(ctx, queue, start, <-call.slot)
		}
		t.log.Warn("rpc timed out", map[string]interface{}{
			logger.FieldCorrelationID: call.ID,
			logger.FieldQueue:         queue,
			logger.FieldDuration:      time.Since(start).Milliseconds(),
			logger.FieldPending:       t.Pending(),
		})
		t.record(ctx, queue, "timeout", start)
		return nil, errors.Timeout(queue, timeout).WithDetail(logger.FieldCorrelationID, call.ID)

	case <-ctx.Done():
		if !t.remove(call.ID) {
			return t.finish(ctx, queue, start, <-call.slot)
		}
		t.record(ctx, queue, "canceled", start)
		return nil, ctx.Err()
	}
}

func (t *Tracker) finish(ctx context.Context, queue string, start time.Time, r result) (*message.Response, error) {
	switch {
	case r.err != nil:
		t.record(ctx, queue, outcome(r.err), start)
	case r.resp.Status == message.StatusError:
		t.record(ctx, queue, "remote_error", start)
	default:
		t.record(ctx, queue, "ok", start)
	}
	return r.resp, r.err
}

func outcome(err error) string {
	switch {
	case errors.IsConnectivity(err):
		return "connectivity"
	case errors.IsProtocol(err):
		return "protocol"
	}
	return "error"
}

// Resolve routes one reply delivery to its pending call.
//
// A reply without a correlation id, or for an id with no pending call (a late
// reply after a timeout, a duplicate), is logged and dropped; the returned
// error says why. A body that cannot be decoded resolves the call with a
// Protocol failure.
func (t *Tracker) Resolve(d transport.Delivery) error {
	if d.CorrelationID == "" {
		t.log.Warn("reply without correlation id dropped")
		return errors.Protocol("reply without correlation id")
	}

	call, ok := t.take(d.CorrelationID)
	if !ok {
		t.log.Warn("unmatched reply dropped", map[string]interface{}{
			logger.FieldCorrelationID: d.CorrelationID,
		})
		if t.metrics != nil {
			t.metrics.UnmatchedReplies.Add(context.Background(), 1)
		}
		return errors.UnmatchedResponse(d.CorrelationID)
	}

	cdc, err := codec.ForContentType(d.ContentType)
	if err != nil {
		call.slot <- result{err: errors.Protocol("undecodable reply").WithCause(err)}
		return nil
	}
	var resp message.Response
	if err := cdc.Decode(d.Body, &resp); err != nil {
		call.slot <- result{err: errors.Protocol("undecodable reply").WithCause(err)}
		return nil
	}
	if resp.Status != message.StatusOK && resp.Status != message.StatusError {
		call.slot <- result{err: errors.Protocol("reply has unknown status").WithDetail("status", string(resp.Status))}
		return nil
	}
	call.slot <- result{resp: &resp}
	return nil
}

// FailAll resolves every pending call with err and returns how many there were.
func (t *Tracker) FailAll(err error) int {
	t.mu.Lock()
	calls := t.pending
	t.pending = make(map[string]*PendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.slot <- result{err: err}
	}
	if n := len(calls); n > 0 {
		if t.metrics != nil {
			t.metrics.PendingCalls.Add(context.Background(), int64(-n))
		}
		t.log.Warn("failed pending calls", map[string]interface{}{
			logger.FieldPending: n,
			logger.FieldError:   err.Error(),
		})
	}
	return len(calls)
}

// Pending returns the number of outstanding calls.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Has reports whether id is an outstanding call.
func (t *Tracker) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

func (t *Tracker) register(queue string, now time.Time, timeout time.Duration) *PendingCall {
	call := &PendingCall{
		Queue:     queue,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		slot:      make(chan result, 1),
	}
	t.mu.Lock()
	for {
		call.ID = t.newID()
		if _, taken := t.pending[call.ID]; !taken {
			break
		}
	}
	t.pending[call.ID] = call
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PendingCalls.Add(context.Background(), 1)
	}
	return call
}

// take removes and returns the call for id.
func (t *Tracker) take(id string) (*PendingCall, bool) {
	t.mu.Lock()
	call, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok && t.metrics != nil {
		t.metrics.PendingCalls.Add(context.Background(), -1)
	}
	return call, ok
}

// remove drops the call for id. It returns false if someone else already did.
func (t *Tracker) remove(id string) bool {
	_, ok := t.take(id)
	return ok
}

func (t *Tracker) record(ctx context.Context, queue, outcome string, start time.Time) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordCall(context.WithoutCancel(ctx), queue, outcome, time.Since(start).Seconds())
}
