// Package server implements the worker side: a dispatch loop per work queue
// that turns every consumed request into exactly one reply.
//
// Request processing pipeline:
//
//	delivery → Codec.Decode (by content type) → Middleware Chain → Handler
//	  → Codec.Encode (same content type) → publish to ReplyTo → Ack
//
// The loop is strictly sequential. Together with a consumer prefetch of 1 the
// broker never hands a worker a second job before the first is acknowledged.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"mq-rpc/codec"
	"mq-rpc/errors"
	"mq-rpc/logger"
	"mq-rpc/message"
	"mq-rpc/middleware"
	"mq-rpc/observe"
	"mq-rpc/transport"
)

// Handler executes one request. The result is marshaled into the reply; an
// error becomes {"status":"error"} with the error's message.
type Handler func(ctx context.Context, req *message.Request) (any, error)

// Invoke runs h and wraps the outcome in a Response. It never panics.
// The in-process fallback path calls it directly, so a fallback result has
// exactly the shape a worker would have replied with.
func Invoke(ctx context.Context, h Handler, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = message.Fail(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	result, err := h(ctx, req)
	if err != nil {
		return message.Fail(errorMessage(err))
	}

	var raw json.RawMessage
	switch v := result.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		if raw, err = json.Marshal(v); err != nil {
			return message.Fail(fmt.Sprintf("encode result: %v", err))
		}
	}
	return message.OK(raw)
}

// errorMessage strips the code prefix from AppErrors; callers see the
// handler's own wording.
func errorMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// replyTimeout bounds the reply publish, which must survive shutdown of the
// loop's own context.
const replyTimeout = 5 * time.Second

// Worker consumes one work queue.
type Worker struct {
	queue       string
	handler     Handler
	chain       middleware.HandlerFunc
	middlewares []middleware.Middleware
	pub         transport.Publisher
	jobCtx      context.Context
	log         *logger.Logger
	metrics     *observe.Metrics
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l *logger.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithJobContext runs handlers on ctx instead of the context given to Run.
// Canceling Run's context then only stops taking deliveries; the job in
// flight keeps running until ctx is canceled.
func WithJobContext(ctx context.Context) WorkerOption {
	return func(w *Worker) { w.jobCtx = ctx }
}

// WithMiddleware appends middlewares, applied in the order given.
func WithMiddleware(mws ...middleware.Middleware) WorkerOption {
	return func(w *Worker) { w.middlewares = append(w.middlewares, mws...) }
}

// NewWorker creates a worker for queue that answers through pub.
func NewWorker(queue string, h Handler, pub transport.Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:   queue,
		handler: h,
		pub:     pub,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("server").WithFields(map[string]interface{}{logger.FieldQueue: queue})
	w.build()
	return w
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (w *Worker) Use(mw middleware.Middleware) {
	w.middlewares = append(w.middlewares, mw)
	w.build()
}

// build wraps the handler once (not per request):
// Chain(A, B, C)(h) → A(B(C(h))).
func (w *Worker) build() {
	h := w.handler
	w.chain = middleware.Chain(w.middlewares...)(func(ctx context.Context, req *message.Request) *message.Response {
		return Invoke(ctx, h, req)
	})
}

// Queue returns the consumed queue name.
func (w *Worker) Queue() string { return w.queue }

// Run handles deliveries one at a time until the channel closes (returns nil)
// or ctx is canceled (returns ctx.Err()). A delivery received after ctx is
// canceled is left unsettled for the broker to redeliver.
func (w *Worker) Run(ctx context.Context, deliveries <-chan transport.Delivery) error {
	w.log.Info("worker started")
	defer w.log.Info("worker stopped")
	jobCtx := w.jobCtx
	if jobCtx == nil {
		jobCtx = ctx
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Handle(jobCtx, d)
		}
	}
}

// Handle processes a single delivery: decode → handler → reply → ack.
func (w *Worker) Handle(ctx context.Context, d transport.Delivery) {
	start := time.Now()
	fields := map[string]interface{}{logger.FieldCorrelationID: d.CorrelationID}

	// Step 1: decode. Without a request there is nothing to reply to.
	cdc, err := codec.ForContentType(d.ContentType)
	var req message.Request
	if err == nil {
		err = cdc.Decode(d.Body, &req)
	}
	if err != nil {
		fields[logger.FieldError] = err.Error()
		w.log.Error("undecodable request dropped", fields)
		w.settle(d, true)
		w.record(ctx, "dropped", 0)
		return
	}
	req.CorrelationID = d.CorrelationID
	req.ReplyTo = d.ReplyTo
	fields[logger.FieldAction] = string(req.Action)

	// Step 2: run the chain. Errors and panics come back as error responses.
	resp := w.chain(ctx, &req)
	status := string(resp.Status)

	// Step 3: reply with the same correlation id and content type.
	if d.ReplyTo == "" {
		w.log.Warn("request without reply address", fields)
		w.settle(d, true)
		w.record(ctx, status, time.Since(start).Seconds())
		return
	}
	body, err := cdc.Encode(resp)
	if err != nil {
		body, err = cdc.Encode(message.Fail(fmt.Sprintf("encode response: %v", err)))
		if err != nil {
			fields[logger.FieldError] = err.Error()
			w.log.Error("reply could not be encoded", fields)
			w.settle(d, false)
			w.record(ctx, "dropped", time.Since(start).Seconds())
			return
		}
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	err = w.pub.Publish(pubCtx, d.ReplyTo, transport.Publishing{
		ContentType:   cdc.ContentType(),
		CorrelationID: d.CorrelationID,
		Body:          body,
	})
	if err != nil {
		fields[logger.FieldError] = err.Error()
		w.log.Error("reply publish failed", fields)
		w.settle(d, false)
		w.record(ctx, "dropped", time.Since(start).Seconds())
		return
	}

	// Step 4: ack only after the reply is out.
	w.settle(d, true)
	w.record(ctx, status, time.Since(start).Seconds())
}

// settle acks, or rejects without requeue.
func (w *Worker) settle(d transport.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nack(false)
	}
	if err != nil {
		w.log.Warn("delivery settle failed", map[string]interface{}{
			logger.FieldCorrelationID: d.CorrelationID,
			logger.FieldError:         err.Error(),
		})
	}
}

func (w *Worker) record(ctx context.Context, status string, seconds float64) {
	if w.metrics != nil {
		w.metrics.RecordJob(context.WithoutCancel(ctx), w.queue, status, seconds)
	}
}
