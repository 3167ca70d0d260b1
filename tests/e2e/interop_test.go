package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	rabbit "github.com/rabbitmq/amqp091-go"

	"github.com/otterwire/otterwire/internal/core/amqp"
	"github.com/otterwire/otterwire/internal/transport"
)

func dialClient(t *testing.T, ctx context.Context) *transport.Client {
	t.Helper()
	client, err := transport.Dial(ctx, transport.Options{
		URL:               brokerURL,
		HeartbeatInterval: 10,
	})
	if err != nil {
		t.Fatalf("Failed to connect to broker: %v", err)
	}
	return client
}

func testQueueName() string {
	return "otterwire-e2e-" + uuid.New().String()
}

// Our client publishes; the reference client consumes.
func TestPublishInterop(t *testing.T) {
	requireBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := dialClient(t, ctx)
	defer client.Close(ctx)

	ch, err := client.Channel(ctx)
	if err != nil {
		t.Fatalf("Failed to open channel: %v", err)
	}
	queue := testQueueName()
	if _, err := ch.QueueDeclare(ctx, queue, false, false, false, true, false, nil); err != nil {
		t.Fatalf("Failed to declare queue: %v", err)
	}
	if err := ch.ConfirmSelect(ctx); err != nil {
		t.Fatalf("Failed to enable confirms: %v", err)
	}

	body := []byte("hello from otterwire")
	props := &amqp.BasicProperties{
		ContentType:  amqp.TEXT_PLAIN,
		MessageID:    uuid.New().String(),
		DeliveryMode: amqp.PERSISTENT,
	}
	if err := ch.Publish("", queue, false, false, props, body); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitForAck(t, ctx, client)

	refConn, err := rabbit.Dial(brokerURL)
	if err != nil {
		t.Fatalf("Reference client failed to connect: %v", err)
	}
	defer refConn.Close()
	refCh, err := refConn.Channel()
	if err != nil {
		t.Fatalf("Reference client failed to open channel: %v", err)
	}

	msg, ok, err := refCh.Get(queue, true)
	if err != nil {
		t.Fatalf("Reference client failed to get: %v", err)
	}
	if !ok {
		t.Fatalf("Expected a message on %s", queue)
	}
	if string(msg.Body) != string(body) {
		t.Errorf("Body mismatch: got %q, want %q", msg.Body, body)
	}
	if msg.ContentType != string(amqp.TEXT_PLAIN) {
		t.Errorf("Content type mismatch: got %q", msg.ContentType)
	}
	if msg.MessageId != props.MessageID {
		t.Errorf("Message id mismatch: got %q, want %q", msg.MessageId, props.MessageID)
	}
	if msg.DeliveryMode != uint8(amqp.PERSISTENT) {
		t.Errorf("Delivery mode mismatch: got %d", msg.DeliveryMode)
	}
}

// The reference client publishes; our client consumes.
func TestConsumeInterop(t *testing.T) {
	requireBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := dialClient(t, ctx)
	defer client.Close(ctx)

	ch, err := client.Channel(ctx)
	if err != nil {
		t.Fatalf("Failed to open channel: %v", err)
	}
	queue := testQueueName()
	if _, err := ch.QueueDeclare(ctx, queue, false, false, false, true, false, nil); err != nil {
		t.Fatalf("Failed to declare queue: %v", err)
	}
	tag, err := ch.Consume(ctx, queue, "", false, false, false, nil)
	if err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer ch.Cancel(ctx, tag)

	refConn, err := rabbit.Dial(brokerURL)
	if err != nil {
		t.Fatalf("Reference client failed to connect: %v", err)
	}
	defer refConn.Close()
	refCh, err := refConn.Channel()
	if err != nil {
		t.Fatalf("Reference client failed to open channel: %v", err)
	}
	body := []byte("hello from the reference client")
	err = refCh.PublishWithContext(ctx, "", queue, false, false, rabbit.Publishing{
		ContentType: "text/plain",
		Body:        body,
	})
	if err != nil {
		t.Fatalf("Reference client failed to publish: %v", err)
	}

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				t.Fatalf("Connection closed before delivery arrived")
			}
			d, isDelivery := ev.(amqp.ContentDelivered)
			if !isDelivery {
				continue
			}
			if d.ConsumerTag != tag {
				t.Errorf("Consumer tag mismatch: got %q, want %q", d.ConsumerTag, tag)
			}
			if string(d.Body) != string(body) {
				t.Errorf("Body mismatch: got %q, want %q", d.Body, body)
			}
			if err := ch.Ack(d.DeliveryTag, false); err != nil {
				t.Fatalf("Failed to ack: %v", err)
			}
			return
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for delivery")
		}
	}
}

// Exchange and binding management against a real broker.
func TestTopologyInterop(t *testing.T) {
	requireBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := dialClient(t, ctx)
	defer client.Close(ctx)

	ch, err := client.Channel(ctx)
	if err != nil {
		t.Fatalf("Failed to open channel: %v", err)
	}

	exchange := "otterwire-e2e-" + uuid.New().String()
	if err := ch.ExchangeDeclare(ctx, exchange, "topic", false, false, true, false, false, nil); err != nil {
		t.Fatalf("Failed to declare exchange: %v", err)
	}
	queue := testQueueName()
	if _, err := ch.QueueDeclare(ctx, queue, false, false, false, true, false, nil); err != nil {
		t.Fatalf("Failed to declare queue: %v", err)
	}
	if err := ch.QueueBind(ctx, queue, exchange, "events.#", false, nil); err != nil {
		t.Fatalf("Failed to bind queue: %v", err)
	}

	if err := ch.Publish(exchange, "events.created", false, false, nil, []byte("routed")); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	// Basic.Get polls until the broker has routed the message.
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, ok, err := ch.Get(ctx, queue, true)
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if ok {
			if string(d.Body) != "routed" {
				t.Errorf("Body mismatch: got %q", d.Body)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Message never arrived on bound queue")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := ch.QueueUnbind(ctx, queue, exchange, "events.#", nil); err != nil {
		t.Fatalf("Failed to unbind queue: %v", err)
	}
	if _, err := ch.QueueDelete(ctx, queue, false, false, false); err != nil {
		t.Fatalf("Failed to delete queue: %v", err)
	}
	if err := ch.ExchangeDelete(ctx, exchange, false, false); err != nil {
		t.Fatalf("Failed to delete exchange: %v", err)
	}
}

func waitForAck(t *testing.T, ctx context.Context, client *transport.Client) {
	t.Helper()
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				t.Fatalf("Connection closed while waiting for confirm")
			}
			switch e := ev.(type) {
			case amqp.ConfirmAck:
				return
			case amqp.ConfirmNack:
				t.Fatalf("Broker nacked the publish (delivery-tag %d)", e.DeliveryTag)
			}
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for confirm")
		}
	}
}
