// Package transport abstracts the message broker behind Conn and Channel.
//
// Two implementations exist: AMQP 0-9-1 (RabbitMQ) for production and an
// in-memory broker for tests and single-process development. Both give the
// same guarantees the RPC layer relies on:
//
//   - named durable queues plus exclusive, auto-deleted reply queues
//   - per-consumer prefetch: at most N unacknowledged deliveries in flight
//   - correlation id and reply address carried as message properties
//
//	producer channel ──Publish(queue)──→ [work queue] ──Consume──→ consumer channel
//	      ↑                                                             │
//	      └──────Consume(reply queue, autoAck) ←──Publish(replyTo)──────┘
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed connection or channel.
var ErrClosed = errors.New("transport: closed")

// Publishing is an outbound message.
type Publishing struct {
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Persistent    bool
	Body          []byte
}

// Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is an inbound message.
// Acker is nil for auto-acknowledged deliveries.
type Delivery struct {
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Redelivered   bool
	Body          []byte
	Acker         Acknowledger
}

// Ack acknowledges the delivery. No-op for auto-acknowledged deliveries.
func (d Delivery) Ack() error {
	if d.Acker == nil {
		return nil
	}
	return d.Acker.Ack()
}

// Nack rejects the delivery. No-op for auto-acknowledged deliveries.
func (d Delivery) Nack(requeue bool) error {
	if d.Acker == nil {
		return nil
	}
	return d.Acker.Nack(requeue)
}

// QueueSpec describes a queue declaration. An empty Name asks the broker to
// generate one.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// Publisher is the part of a Channel that sends messages.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Publishing) error
}

// Channel is a lightweight session on a connection.
type Channel interface {
	Publisher

	// Qos bounds the unacknowledged deliveries of each consumer on this channel.
	Qos(prefetch int) error

	// DeclareQueue creates the queue if needed and returns its name.
	DeclareQueue(spec QueueSpec) (string, error)

	// DeleteQueue removes a queue regardless of consumers or messages.
	DeleteQueue(name string) error

	// Consume starts a consumer. The returned channel is closed when the
	// channel or connection closes.
	Consume(queue string, autoAck bool) (<-chan Delivery, error)

	Close() error
}

// Conn is a broker connection.
type Conn interface {
	Channel() (Channel, error)

	// NotifyClose returns a channel that receives the error of an unexpected
	// connection loss. It is closed without a value on a graceful Close.
	NotifyClose() <-chan error

	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
