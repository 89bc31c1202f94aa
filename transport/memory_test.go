package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func dialChannel(t *testing.T, b *MemoryBroker) (Conn, Channel) {
	t.Helper()
	conn, err := b.Dial(context.Background(), "memory://")
	if err != nil {
		t.Fatal(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		t.Fatal(err)
	}
	return conn, ch
}

func recv(t *testing.T, in <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-in:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func expectNone(t *testing.T, in <-chan Delivery) {
	t.Helper()
	select {
	case d := <-in:
		t.Fatalf("unexpected delivery %q", d.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPublishConsume(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()

	if _, err := ch.DeclareQueue(QueueSpec{Name: "jobs", Durable: true}); err != nil {
		t.Fatal(err)
	}
	err := ch.Publish(context.Background(), "jobs", Publishing{
		ContentType:   "application/json",
		CorrelationID: "c-1",
		ReplyTo:       "replies",
		Body:          []byte(`{"action":"health"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	in, err := ch.Consume("jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	d := recv(t, in)
	if d.CorrelationID != "c-1" || d.ReplyTo != "replies" || d.ContentType != "application/json" {
		t.Fatalf("properties not carried: %+v", d)
	}
	if err := d.Ack(); err != nil {
		t.Fatal(err)
	}
	if err := d.Ack(); err == nil {
		t.Fatal("expect error on double ack")
	}
}

func TestMemoryPrefetchBoundsInFlight(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()

	ch.DeclareQueue(QueueSpec{Name: "jobs", Durable: true})
	for i := 0; i < 3; i++ {
		ch.Publish(context.Background(), "jobs", Publishing{Body: []byte{byte(i)}})
	}

	// prefetch=1：未 ack 之前不会收到第二条
	if err := ch.Qos(1); err != nil {
		t.Fatal(err)
	}
	in, err := ch.Consume("jobs", false)
	if err != nil {
		t.Fatal(err)
	}

	first := recv(t, in)
	expectNone(t, in)
	first.Ack()

	second := recv(t, in)
	if second.Body[0] != 1 {
		t.Fatalf("expect FIFO order, got %v", second.Body)
	}
	second.Ack()
	recv(t, in).Ack()
}

func TestMemoryNackRequeue(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()

	ch.DeclareQueue(QueueSpec{Name: "jobs"})
	ch.Publish(context.Background(), "jobs", Publishing{Body: []byte("x")})
	ch.Qos(1)
	in, _ := ch.Consume("jobs", false)

	d := recv(t, in)
	if d.Redelivered {
		t.Fatal("first delivery marked redelivered")
	}
	d.Nack(true)

	again := recv(t, in)
	if !again.Redelivered || string(again.Body) != "x" {
		t.Fatalf("expect redelivery of x, got %+v", again)
	}
	again.Nack(false)
	expectNone(t, in)
}

func TestMemoryCompetingConsumers(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()
	ch.DeclareQueue(QueueSpec{Name: "jobs"})

	ch2, _ := conn.Channel()
	ch.Qos(1)
	ch2.Qos(1)
	a, _ := ch.Consume("jobs", false)
	c, _ := ch2.Consume("jobs", false)

	ch.Publish(context.Background(), "jobs", Publishing{Body: []byte("1")})
	ch.Publish(context.Background(), "jobs", Publishing{Body: []byte("2")})

	// 两个消费者各持有一条未 ack 的消息
	d1 := recv(t, a)
	d2 := recv(t, c)
	if string(d1.Body) == string(d2.Body) {
		t.Fatal("same message delivered twice")
	}
}

func TestMemoryChannelCloseRequeuesUnacked(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()
	ch.DeclareQueue(QueueSpec{Name: "jobs", Durable: true})
	ch.Publish(context.Background(), "jobs", Publishing{Body: []byte("x")})

	in, _ := ch.Consume("jobs", false)
	recv(t, in)
	ch.Close()

	if n := b.QueueLen("jobs"); n != 1 {
		t.Fatalf("expect message requeued, queue len %d", n)
	}
	if _, ok := <-in; ok {
		t.Fatal("expect delivery channel closed")
	}
}

func TestMemoryExclusiveQueueDeletedWithConnection(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)

	name, err := ch.DeclareQueue(QueueSpec{Exclusive: true, AutoDelete: true})
	if err != nil {
		t.Fatal(err)
	}
	if name == "" || !b.HasQueue(name) {
		t.Fatalf("expect generated queue, got %q", name)
	}

	other, otherCh := dialChannel(t, b)
	defer other.Close()
	if _, err := otherCh.DeclareQueue(QueueSpec{Name: name}); err == nil {
		t.Fatal("expect exclusive queue to be locked to its connection")
	}

	conn.Close()
	if b.HasQueue(name) {
		t.Fatal("exclusive queue survived its connection")
	}
}

func TestMemorySeverNotifies(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	ch.DeclareQueue(QueueSpec{Name: "jobs"})
	in, _ := ch.Consume("jobs", true)

	lost := errors.New("connection reset")
	b.Sever(lost)

	select {
	case err := <-conn.NotifyClose():
		if !errors.Is(err, lost) {
			t.Fatalf("expect %v, got %v", lost, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no close notification")
	}
	if _, ok := <-in; ok {
		t.Fatal("expect consumer closed")
	}
	if err := ch.Publish(context.Background(), "jobs", Publishing{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestMemoryGracefulCloseNotifiesNothing(t *testing.T) {
	b := NewMemoryBroker()
	conn, _ := dialChannel(t, b)
	conn.Close()

	if err, ok := <-conn.NotifyClose(); ok {
		t.Fatalf("expect closed notify channel, got %v", err)
	}
}

func TestMemoryFailDial(t *testing.T) {
	b := NewMemoryBroker()
	refused := errors.New("connection refused")
	b.FailDial(refused)

	if _, err := b.Dial(context.Background(), ""); !errors.Is(err, refused) {
		t.Fatalf("expect %v, got %v", refused, err)
	}
	b.FailDial(nil)
	conn, err := b.Dial(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestMemoryUnroutableDropped(t *testing.T) {
	b := NewMemoryBroker()
	conn, ch := dialChannel(t, b)
	defer conn.Close()

	if err := ch.Publish(context.Background(), "missing", Publishing{Body: []byte("x")}); err != nil {
		t.Fatalf("expect silent drop, got %v", err)
	}
}
