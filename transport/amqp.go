package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDialer connects to RabbitMQ (or any AMQP 0-9-1 broker).
type AMQPDialer struct {
	// Heartbeat is the connection heartbeat interval. Zero uses 10s.
	Heartbeat time.Duration
	// ConnectionName is shown in the broker's management UI.
	ConnectionName string
}

func (d AMQPDialer) Dial(ctx context.Context, url string) (Conn, error) {
	heartbeat := d.Heartbeat
	if heartbeat == 0 {
		heartbeat = 10 * time.Second
	}
	props := amqp.NewConnectionProperties()
	if d.ConnectionName != "" {
		props.SetClientConnectionName(d.ConnectionName)
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: heartbeat, Properties: props})
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("amqp dial: %w", r.err)
		}
		return newAMQPConn(r.conn), nil
	case <-ctx.Done():
		// Close the connection if the dial completes after we gave up.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type amqpConn struct {
	conn   *amqp.Connection
	notify chan error
}

func newAMQPConn(conn *amqp.Connection) *amqpConn {
	c := &amqpConn{conn: conn, notify: make(chan error, 1)}
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		defer close(c.notify)
		// amqp closes the channel without a value on a graceful Close.
		if amqpErr, ok := <-closes; ok && amqpErr != nil {
			c.notify <- amqpErr
		}
	}()
	return c
}

func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &amqpChannel{ch: ch, done: make(chan struct{})}, nil
}

func (c *amqpConn) NotifyClose() <-chan error { return c.notify }

func (c *amqpConn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type amqpChannel struct {
	ch        *amqp.Channel
	done      chan struct{} // closed by Close; releases the consume forwarders
	closeOnce sync.Once
}

func (c *amqpChannel) Qos(prefetch int) error {
	return c.ch.Qos(prefetch, 0, false)
}

func (c *amqpChannel) DeclareQueue(spec QueueSpec) (string, error) {
	q, err := c.ch.QueueDeclare(spec.Name, spec.Durable, spec.AutoDelete, spec.Exclusive, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %q: %w", spec.Name, err)
	}
	return q.Name, nil
}

func (c *amqpChannel) DeleteQueue(name string) error {
	_, err := c.ch.QueueDelete(name, false, false, false)
	return err
}

func (c *amqpChannel) Consume(queue string, autoAck bool) (<-chan Delivery, error) {
	in, err := c.ch.Consume(queue, "", autoAck, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %q: %w", queue, err)
	}
	out := make(chan Delivery)
	go forward(in, out, autoAck, c.done)
	return out, nil
}

// forward converts amqp deliveries until in closes or done is closed. A
// delivery held when done fires stays unacked and is requeued by the broker
// when the channel closes.
func forward(in <-chan amqp.Delivery, out chan<- Delivery, autoAck bool, done <-chan struct{}) {
	defer close(out)
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case d, ok = <-in:
			if !ok {
				return
			}
		case <-done:
			return
		}
		delivery := Delivery{
			ContentType:   d.ContentType,
			CorrelationID: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
			Redelivered:   d.Redelivered,
			Body:          d.Body,
		}
		if !autoAck {
			delivery.Acker = amqpAcker{d}
		}
		select {
		case out <- delivery:
		case <-done:
			return
		}
	}
}

func (c *amqpChannel) Publish(ctx context.Context, routingKey string, msg Publishing) error {
	pub := amqp.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Timestamp:     time.Now(),
		Body:          msg.Body,
	}
	if msg.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	// Default exchange: the routing key is the queue name.
	return c.ch.PublishWithContext(ctx, "", routingKey, false, false, pub)
}

func (c *amqpChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	if c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}

type amqpAcker struct {
	d amqp.Delivery
}

func (a amqpAcker) Ack() error              { return a.d.Ack(false) }
func (a amqpAcker) Nack(requeue bool) error { return a.d.Nack(false, requeue) }
