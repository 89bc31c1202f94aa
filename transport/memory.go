package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process broker with AMQP-like semantics: competing
// consumers, per-consumer prefetch, requeue on channel close and exclusive
// queues that vanish with their connection. The zero value is not usable;
// call NewMemoryBroker.
type MemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]*memQueue
	conns      map[*memConn]struct{}
	dialErr    error
	publishErr error
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		conns:  make(map[*memConn]struct{}),
	}
}

// Dial opens a connection. The url is ignored.
func (b *MemoryBroker) Dial(ctx context.Context, _ string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	c := &memConn{
		broker:   b,
		channels: make(map[*memChannel]struct{}),
		notify:   make(chan error, 1),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// FailDial makes subsequent dials return err. A nil err restores dialing.
func (b *MemoryBroker) FailDial(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// FailPublish makes subsequent publishes return err. A nil err restores publishing.
func (b *MemoryBroker) FailPublish(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Sever drops every open connection as if the broker went away. Each
// connection reports err on NotifyClose.
func (b *MemoryBroker) Sever(err error) {
	b.mu.Lock()
	conns := make([]*memConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(err)
	}
}

// HasQueue reports whether a queue with the given name exists.
func (b *MemoryBroker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// QueueLen returns the number of ready (undelivered) messages in a queue.
func (b *MemoryBroker) QueueLen(name string) int {
	b.mu.Lock()
	q := b.queues[name]
	b.mu.Unlock()
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (b *MemoryBroker) queue(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

func (b *MemoryBroker) removeQueue(q *memQueue) {
	b.mu.Lock()
	if b.queues[q.name] == q {
		delete(b.queues, q.name)
	}
	b.mu.Unlock()
	q.delete()
}

type memMessage struct {
	pub         Publishing
	redelivered bool
}

type memQueue struct {
	name    string
	owner   *memConn
	mu      sync.Mutex
	items   []memMessage
	ready   chan struct{}
	deleted chan struct{}
	once    sync.Once
}

func newMemQueue(name string, owner *memConn) *memQueue {
	return &memQueue{
		name:    name,
		owner:   owner,
		ready:   make(chan struct{}, 1),
		deleted: make(chan struct{}),
	}
}

func (q *memQueue) push(m memMessage, front bool) {
	q.mu.Lock()
	if front {
		q.items = append([]memMessage{m}, q.items...)
	} else {
		q.items = append(q.items, m)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *memQueue) pop() (memMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return memMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// Wake another waiting consumer for the remainder.
		q.signal()
	}
	return m, true
}

func (q *memQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *memQueue) delete() {
	q.once.Do(func() { close(q.deleted) })
}

type memConn struct {
	broker   *MemoryBroker
	mu       sync.Mutex
	closed   bool
	channels map[*memChannel]struct{}
	notify   chan error
}

func (c *memConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := &memChannel{conn: c, done: make(chan struct{})}
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *memConn) NotifyClose() <-chan error { return c.notify }

func (c *memConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *memConn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := make([]*memChannel, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	if cause != nil {
		c.notify <- cause
	}
	for _, ch := range channels {
		ch.Close()
	}

	b := c.broker
	b.mu.Lock()
	delete(b.conns, c)
	var owned []*memQueue
	for _, q := range b.queues {
		if q.owner == c {
			owned = append(owned, q)
		}
	}
	b.mu.Unlock()
	for _, q := range owned {
		b.removeQueue(q)
	}

	close(c.notify)
}

type memChannel struct {
	conn     *memConn
	mu       sync.Mutex
	closed   bool
	prefetch int
	done     chan struct{}
	wg       sync.WaitGroup
}

func (ch *memChannel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *memChannel) Qos(prefetch int) error {
	if prefetch < 0 {
		return fmt.Errorf("invalid prefetch %d", prefetch)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	ch.prefetch = prefetch
	return nil
}

func (ch *memChannel) DeclareQueue(spec QueueSpec) (string, error) {
	if ch.isClosed() {
		return "", ErrClosed
	}
	name := spec.Name
	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	}

	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		if q.owner != nil && q.owner != ch.conn {
			return "", fmt.Errorf("queue %q is exclusive to another connection", name)
		}
		return name, nil
	}
	var owner *memConn
	if spec.Exclusive {
		owner = ch.conn
	}
	b.queues[name] = newMemQueue(name, owner)
	return name, nil
}

func (ch *memChannel) DeleteQueue(name string) error {
	if ch.isClosed() {
		return ErrClosed
	}
	b := ch.conn.broker
	if q := b.queue(name); q != nil {
		b.removeQueue(q)
	}
	return nil
}

func (ch *memChannel) Consume(queue string, autoAck bool) (<-chan Delivery, error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, ErrClosed
	}
	prefetch := ch.prefetch
	ch.wg.Add(1)
	ch.mu.Unlock()

	q := ch.conn.broker.queue(queue)
	if q == nil {
		ch.wg.Done()
		return nil, fmt.Errorf("consume %q: no such queue", queue)
	}

	c := &memConsumer{queue: q, autoAck: autoAck, unacked: make(map[*memAcker]struct{})}
	if !autoAck && prefetch > 0 {
		c.credits = make(chan struct{}, prefetch)
	}
	out := make(chan Delivery)
	go func() {
		defer ch.wg.Done()
		defer close(out)
		c.run(out, ch.done)
	}()
	return out, nil
}

func (ch *memChannel) Publish(ctx context.Context, routingKey string, msg Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch.isClosed() {
		return ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	failure := b.publishErr
	q := b.queues[routingKey]
	b.mu.Unlock()
	if failure != nil {
		return failure
	}
	if q == nil {
		// Unroutable on the default exchange: dropped.
		return nil
	}
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	msg.Body = body
	q.push(memMessage{pub: msg}, false)
	return nil
}

func (ch *memChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	close(ch.done)
	ch.mu.Unlock()

	ch.wg.Wait()

	c := ch.conn
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
	return nil
}

type memConsumer struct {
	queue   *memQueue
	autoAck bool
	credits chan struct{}

	mu      sync.Mutex
	stopped bool
	unacked map[*memAcker]struct{}
}

func (c *memConsumer) run(out chan<- Delivery, done <-chan struct{}) {
	defer c.stop()
	q := c.queue
	for {
		if c.credits != nil {
			select {
			case c.credits <- struct{}{}:
			case <-done:
				return
			case <-q.deleted:
				return
			}
		}

		var m memMessage
		for {
			var ok bool
			if m, ok = q.pop(); ok {
				break
			}
			select {
			case <-q.ready:
			case <-done:
				c.release()
				return
			case <-q.deleted:
				c.release()
				return
			}
		}

		d := Delivery{
			ContentType:   m.pub.ContentType,
			CorrelationID: m.pub.CorrelationID,
			ReplyTo:       m.pub.ReplyTo,
			Redelivered:   m.redelivered,
			Body:          m.pub.Body,
		}
		var acker *memAcker
		if !c.autoAck {
			acker = &memAcker{consumer: c, msg: m}
			c.mu.Lock()
			c.unacked[acker] = struct{}{}
			c.mu.Unlock()
			d.Acker = acker
		}

		select {
		case out <- d:
		case <-done:
			if acker == nil {
				q.push(m, true)
			}
			return
		case <-q.deleted:
			return
		}
	}
}

func (c *memConsumer) release() {
	if c.credits != nil {
		<-c.credits
	}
}

// stop requeues every delivery the consumer never settled.
func (c *memConsumer) stop() {
	c.mu.Lock()
	c.stopped = true
	pending := c.unacked
	c.unacked = nil
	c.mu.Unlock()

	for a := range pending {
		a.msg.redelivered = true
		c.queue.push(a.msg, true)
	}
}

var errSettled = errors.New("transport: delivery already settled")

type memAcker struct {
	consumer *memConsumer
	msg      memMessage
}

func (a *memAcker) settle() error {
	c := a.consumer
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrClosed
	}
	if _, ok := c.unacked[a]; !ok {
		return errSettled
	}
	delete(c.unacked, a)
	c.release()
	return nil
}

func (a *memAcker) Ack() error {
	return a.settle()
}

func (a *memAcker) Nack(requeue bool) error {
	if err := a.settle(); err != nil {
		return err
	}
	if requeue {
		m := a.msg
		m.redelivered = true
		a.consumer.queue.push(m, true)
	}
	return nil
}
