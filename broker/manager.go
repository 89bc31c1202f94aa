// Package broker owns the broker connection of one process.
//
// A Manager opens one connection with two channels:
//
//	producer channel (prefetch 10): publishes requests and replies,
//	                                consumes the exclusive reply queue (auto-ack)
//	consumer channel (prefetch 1):  consumes the durable ASR and LLM work queues,
//	                                one sequential worker loop per queue
//
// Callers go through Call, which fails fast unless the manager is Ready. Any
// loss (connection, reply stream, a failed publish) disables the manager and
// fails every pending call at once; only an explicit Start brings it back.
package broker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mq-rpc/client"
	"mq-rpc/codec"
	"mq-rpc/errors"
	"mq-rpc/logger"
	"mq-rpc/message"
	"mq-rpc/middleware"
	"mq-rpc/observe"
	"mq-rpc/registry"
	"mq-rpc/server"
	"mq-rpc/transport"

	"github.com/google/uuid"
)

// Defaults for Options.
const (
	DefaultASRQueue         = "asr_tasks"
	DefaultLLMQueue         = "llm_tasks"
	DefaultRPCTimeout       = 120 * time.Second
	DefaultProducerPrefetch = 10
	DefaultConsumerPrefetch = 1
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultRegistryTTL      = 10
)

// Options configures a Manager.
type Options struct {
	URL      string
	ASRQueue string
	LLMQueue string

	// DefaultTimeout applies to calls made with a zero timeout.
	DefaultTimeout time.Duration

	ProducerPrefetch int
	ConsumerPrefetch int

	// Codec encodes outgoing requests. Workers answer in the request's codec.
	Codec codec.CodecType

	// ShutdownTimeout bounds how long Close waits for in-flight jobs.
	ShutdownTimeout time.Duration

	// RegistryTTL is the lease of worker presence entries, in seconds.
	RegistryTTL int64
	Version     string
}

func (o *Options) applyDefaults() {
	if o.ASRQueue == "" {
		o.ASRQueue = DefaultASRQueue
	}
	if o.LLMQueue == "" {
		o.LLMQueue = DefaultLLMQueue
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultRPCTimeout
	}
	if o.ProducerPrefetch <= 0 {
		o.ProducerPrefetch = DefaultProducerPrefetch
	}
	if o.ConsumerPrefetch <= 0 {
		o.ConsumerPrefetch = DefaultConsumerPrefetch
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.RegistryTTL <= 0 {
		o.RegistryTTL = DefaultRegistryTTL
	}
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.baseLog = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRegistry announces the worker loops in reg while the manager is Ready.
func WithRegistry(reg registry.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithMiddleware wraps both worker handlers, applied in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Manager) { m.middlewares = append(m.middlewares, mws...) }
}

// session holds the resources of one Start. A new Start creates a new session.
type session struct {
	id         uint64
	conn       transport.Conn
	producer   transport.Channel
	consumer   transport.Channel
	replyQueue string
	cancel     context.CancelFunc // stops the loops
	jobCtx     context.Context    // handlers run on this
	cancelJobs context.CancelFunc
	workers    sync.WaitGroup
	registered []registration
}

type registration struct {
	queue string
	id    string
}

// Manager is the process-wide broker connection. Construct one at bootstrap
// and inject it; it is safe for concurrent use.
type Manager struct {
	dialer      transport.Dialer
	opts        Options
	baseLog     *logger.Logger
	log         *logger.Logger
	metrics     *observe.Metrics
	registry    registry.Registry
	middlewares []middleware.Middleware
	tracker     *client.Tracker
	instanceID  string

	lifecycle sync.Mutex // serializes Start and Close

	mu      sync.Mutex
	state   State
	reason  string
	sess    *session
	nextID  uint64
	loops   sync.WaitGroup // watchers and reply loops of all sessions
}

// New creates an Uninitialized manager. Nothing is dialed until Start.
func New(dialer transport.Dialer, opts Options, options ...Option) *Manager {
	opts.applyDefaults()
	m := &Manager{
		dialer:     dialer,
		opts:       opts,
		baseLog:    logger.Nop(),
		instanceID: uuid.NewString(),
	}
	for _, o := range options {
		o(m)
	}
	m.log = m.baseLog.WithComponent("broker")

	trackerOpts := []client.Option{
		client.WithCodec(codec.GetCodec(opts.Codec)),
		client.WithLogger(m.baseLog),
	}
	if m.metrics != nil {
		trackerOpts = append(trackerOpts, client.WithMetrics(m.metrics))
	}
	m.tracker = client.NewTracker(trackerOpts...)
	return m
}

// ASRQueue returns the ASR work queue name.
func (m *Manager) ASRQueue() string { return m.opts.ASRQueue }

// LLMQueue returns the LLM work queue name.
func (m *Manager) LLMQueue() string { return m.opts.LLMQueue }

// InstanceID identifies this process in the worker registry.
func (m *Manager) InstanceID() string { return m.instanceID }

// State returns the current state and the reason of the last disable or
// failed start, if any.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// IsAvailable reports whether calls can be published right now.
func (m *Manager) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady && m.reason == ""
}

// Pending returns the number of calls waiting for a reply.
func (m *Manager) Pending() int { return m.tracker.Pending() }

// Start connects, declares the queues and starts the reply consumer and one
// worker loop per queue with a non-nil handler. A nil handler leaves that
// queue to other processes.
//
// Start is allowed from Uninitialized and Disabled. On failure every partial
// resource is released, the manager returns to Uninitialized and the error is
// returned.
func (m *Manager) Start(ctx context.Context, asr, llm server.Handler) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateReady, StateConnecting:
		m.mu.Unlock()
		return fmt.Errorf("broker manager already %s", m.state)
	case StateClosed:
		m.mu.Unlock()
		return fmt.Errorf("broker manager is closed")
	}
	m.state = StateConnecting
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	m.log.Info("connecting to broker", map[string]interface{}{
		"asr_queue": m.opts.ASRQueue,
		"llm_queue": m.opts.LLMQueue,
	})

	sess, deliveries, err := m.connect(ctx, id, asr, llm)
	if err != nil {
		m.mu.Lock()
		m.state = StateUninitialized
		m.reason = "start failed: " + err.Error()
		m.mu.Unlock()
		m.log.Error("broker start failed", map[string]interface{}{logger.FieldError: err.Error()})
		return fmt.Errorf("start broker manager: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.jobCtx, sess.cancelJobs = context.WithCancel(context.Background())

	m.mu.Lock()
	m.state = StateReady
	m.reason = ""
	m.sess = sess
	m.mu.Unlock()

	m.run(runCtx, sess, deliveries, asr, llm)
	m.register(ctx, sess, asr, llm)

	m.log.Info("broker manager ready", map[string]interface{}{
		"reply_queue": sess.replyQueue,
		"asr_queue":   m.opts.ASRQueue,
		"llm_queue":   m.opts.LLMQueue,
	})
	return nil
}

type sessionStreams struct {
	replies <-chan transport.Delivery
	asr     <-chan transport.Delivery
	llm     <-chan transport.Delivery
}

// connect performs every broker step of Start. On error nothing is left open.
func (m *Manager) connect(ctx context.Context, id uint64, asr, llm server.Handler) (sess *session, streams sessionStreams, err error) {
	sess = &session{id: id}
	defer func() {
		if err != nil {
			m.teardown(sess, false)
			sess = nil
		}
	}()

	if sess.conn, err = m.dialer.Dial(ctx, m.opts.URL); err != nil {
		return sess, streams, err
	}

	// Producer channel: requests, replies and the reply queue.
	if sess.producer, err = sess.conn.Channel(); err != nil {
		return sess, streams, err
	}
	if err = sess.producer.Qos(m.opts.ProducerPrefetch); err != nil {
		return sess, streams, err
	}
	if sess.replyQueue, err = sess.producer.DeclareQueue(transport.QueueSpec{Exclusive: true, AutoDelete: true}); err != nil {
		return sess, streams, err
	}
	if streams.replies, err = sess.producer.Consume(sess.replyQueue, true); err != nil {
		return sess, streams, err
	}

	// Consumer channel: the work queues, at most ConsumerPrefetch unacked each.
	if sess.consumer, err = sess.conn.Channel(); err != nil {
		return sess, streams, err
	}
	if err = sess.consumer.Qos(m.opts.ConsumerPrefetch); err != nil {
		return sess, streams, err
	}
	for _, q := range []struct {
		name    string
		handler server.Handler
		out     *<-chan transport.Delivery
	}{
		{m.opts.ASRQueue, asr, &streams.asr},
		{m.opts.LLMQueue, llm, &streams.llm},
	} {
		if _, err = sess.consumer.DeclareQueue(transport.QueueSpec{Name: q.name, Durable: true}); err != nil {
			return sess, streams, err
		}
		if q.handler == nil {
			continue
		}
		if *q.out, err = sess.consumer.Consume(q.name, false); err != nil {
			return sess, streams, err
		}
	}
	return sess, streams, nil
}

// run starts the goroutines of a Ready session.
func (m *Manager) run(runCtx context.Context, sess *session, streams sessionStreams, asr, llm server.Handler) {
	// Connection loss.
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		select {
		case err, ok := <-sess.conn.NotifyClose():
			if ok && err != nil {
				m.disable(sess.id, "connection lost: "+err.Error())
			}
		case <-runCtx.Done():
		}
	}()

	// Reply stream.
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		for d := range streams.replies {
			m.tracker.Resolve(d)
		}
		if runCtx.Err() == nil {
			m.disable(sess.id, "reply stream closed")
		}
	}()

	// Worker loops.
	for _, w := range []struct {
		queue    string
		handler  server.Handler
		delivers <-chan transport.Delivery
	}{
		{m.opts.ASRQueue, asr, streams.asr},
		{m.opts.LLMQueue, llm, streams.llm},
	} {
		if w.handler == nil {
			continue
		}
		worker := server.NewWorker(w.queue, w.handler, sess.producer,
			server.WithLogger(m.baseLog),
			server.WithMetrics(m.metrics),
			server.WithMiddleware(m.middlewares...),
			server.WithJobContext(sess.jobCtx),
		)
		sess.workers.Add(1)
		go func() {
			defer sess.workers.Done()
			if err := worker.Run(runCtx, w.delivers); err == nil && runCtx.Err() == nil {
				m.disable(sess.id, "consumer stream closed for "+w.queue)
			}
		}()
	}
}

// register announces this process's worker loops. Failures are logged only.
func (m *Manager) register(ctx context.Context, sess *session, asr, llm server.Handler) {
	if m.registry == nil {
		return
	}
	host, _ := os.Hostname()
	for _, w := range []struct {
		queue      string
		capability message.Capability
		handler    server.Handler
	}{
		{m.opts.ASRQueue, message.CapabilityASR, asr},
		{m.opts.LLMQueue, message.CapabilityLLM, llm},
	} {
		if w.handler == nil {
			continue
		}
		m.mu.Lock()
		live := m.sess == sess
		m.mu.Unlock()
		if !live {
			return
		}
		inst := registry.WorkerInstance{
			ID:         m.instanceID,
			Capability: string(w.capability),
			Host:       host,
			PID:        os.Getpid(),
			Prefetch:   m.opts.ConsumerPrefetch,
			Version:    m.opts.Version,
			StartedAt:  time.Now().UTC(),
		}
		if err := m.registry.Register(ctx, w.queue, inst, m.opts.RegistryTTL); err != nil {
			m.log.Warn("worker registration failed", map[string]interface{}{
				logger.FieldQueue: w.queue,
				logger.FieldError: err.Error(),
			})
			continue
		}
		m.mu.Lock()
		sess.registered = append(sess.registered, registration{queue: w.queue, id: m.instanceID})
		m.mu.Unlock()
	}
}

func (m *Manager) deregister(sess *session) {
	if m.registry == nil {
		return
	}
	m.mu.Lock()
	regs := sess.registered
	sess.registered = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range regs {
		if err := m.registry.Deregister(ctx, r.queue, r.id); err != nil {
			m.log.Warn("worker deregistration failed", map[string]interface{}{
				logger.FieldQueue: r.queue,
				logger.FieldError: err.Error(),
			})
		}
	}
}

// Workers lists the live worker instances consuming queue, across processes.
func (m *Manager) Workers(ctx context.Context, queue string) ([]registry.WorkerInstance, error) {
	if m.registry == nil {
		return nil, fmt.Errorf("no worker registry configured")
	}
	return m.registry.Discover(ctx, queue)
}

// Call publishes req on queue and waits for its reply. A zero timeout uses
// Options.DefaultTimeout.
//
// When the manager is not Ready the call fails immediately with a
// Connectivity error marked unsent. A publish failure disables the manager.
// Calls still pending when the manager is disabled fail with a Connectivity
// error that is not marked: the request may already be running remotely.
func (m *Manager) Call(ctx context.Context, queue string, req *message.Request, timeout time.Duration) (*message.Response, error) {
	m.mu.Lock()
	if m.state != StateReady {
		state, reason := m.state, m.reason
		m.mu.Unlock()
		if reason == "" {
			reason = "manager " + state.String()
		}
		return nil, errors.Connectivity(reason).MarkUnsent()
	}
	sess := m.sess
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	resp, err := m.tracker.Call(ctx, sess.producer, queue, sess.replyQueue, req, timeout)
	if err != nil && errors.IsUnsent(err) {
		m.disable(sess.id, "publish failed: "+err.Error())
	}
	return resp, err
}

// Disable moves a Ready manager to Disabled: channels and connection are torn
// down and every pending call fails with a Connectivity error carrying reason.
func (m *Manager) Disable(reason string) {
	m.mu.Lock()
	var id uint64
	if m.sess != nil {
		id = m.sess.id
	}
	m.mu.Unlock()
	m.disable(id, reason)
}

// disable acts only if session id is still the live one.
func (m *Manager) disable(id uint64, reason string) {
	m.mu.Lock()
	if m.state != StateReady || m.sess == nil || m.sess.id != id {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.sess = nil
	m.state = StateDisabled
	m.reason = reason
	m.mu.Unlock()

	m.log.Warn("broker integration disabled", map[string]interface{}{logger.FieldReason: reason})
	if m.metrics != nil {
		m.metrics.Disables.Add(context.Background(), 1)
	}

	sess.cancel()
	sess.cancelJobs()
	m.teardown(sess, false)
	m.tracker.FailAll(errors.Connectivity(reason))
	m.deregister(sess)
}

// Close tears everything down and makes the manager unusable. It waits (up
// to Options.ShutdownTimeout) for in-flight jobs. Safe to call more than once.
func (m *Manager) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if sess != nil {
		// Stop taking jobs, then let the running ones finish and reply.
		sess.cancel()
		m.deregister(sess)
		if !waitTimeout(&sess.workers, m.opts.ShutdownTimeout) {
			m.log.Warn("in-flight jobs still running at shutdown, canceling them")
		}
		sess.cancelJobs()
		m.teardown(sess, true)
	}
	if n := m.tracker.FailAll(errors.Connectivity("manager closed")); n > 0 {
		m.log.Info("failed pending calls on close", map[string]interface{}{logger.FieldPending: n})
	}
	m.loops.Wait()
	m.log.Info("broker manager closed")
	return nil
}

// teardown releases a session's broker resources. Errors are ignored: the
// connection may already be gone.
func (m *Manager) teardown(sess *session, deleteReplyQueue bool) {
	if sess.producer != nil && deleteReplyQueue && sess.replyQueue != "" {
		sess.producer.DeleteQueue(sess.replyQueue)
	}
	if sess.consumer != nil {
		sess.consumer.Close()
	}
	if sess.producer != nil {
		sess.producer.Close()
	}
	if sess.conn != nil {
		sess.conn.Close()
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
