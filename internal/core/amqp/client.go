package amqp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Delivery is a message pulled synchronously with Get.
type Delivery struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
	Properties   BasicProperties
	Body         []byte
}

// sendAsync writes a method that expects no reply (or whose reply was
// waived with no-wait) without occupying the pending-call slot.
func (ch *Channel) sendAsync(m Method) error {
	ch.conn.mu.Lock()
	if err := ch.sendableLocked(); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	if err := ch.conn.writeMethodLocked(ch.id, m); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	ch.conn.mu.Unlock()
	ch.conn.notifyWritable()
	return nil
}

func (ch *Channel) ExchangeDeclare(ctx context.Context, name, kind string, passive, durable, autoDelete, internal, noWait bool, args map[string]any) error {
	m := NewMethod(EXCHANGE, uint16(EXCHANGE_DECLARE),
		uint16(0), name, kind, passive, durable, autoDelete, internal, noWait, args)
	if noWait {
		return ch.sendAsync(m)
	}
	_, err := ch.Call(ctx, m)
	return err
}

func (ch *Channel) ExchangeDelete(ctx context.Context, name string, ifUnused, noWait bool) error {
	m := NewMethod(EXCHANGE, uint16(EXCHANGE_DELETE), uint16(0), name, ifUnused, noWait)
	if noWait {
		return ch.sendAsync(m)
	}
	_, err := ch.Call(ctx, m)
	return err
}

// QueueInfo reports what Queue.DeclareOk returned: the (possibly
// server-generated) queue name and its current counters.
type QueueInfo struct {
	Name          string
	MessageCount  uint32
	ConsumerCount uint32
}

func (ch *Channel) QueueDeclare(ctx context.Context, name string, passive, durable, exclusive, autoDelete, noWait bool, args map[string]any) (QueueInfo, error) {
	m := NewMethod(QUEUE, uint16(QUEUE_DECLARE),
		uint16(0), name, passive, durable, exclusive, autoDelete, noWait, args)
	if noWait {
		return QueueInfo{Name: name}, ch.sendAsync(m)
	}
	reply, err := ch.Call(ctx, m)
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{
		Name:          reply.stringArg(0),
		MessageCount:  reply.longArg(1),
		ConsumerCount: reply.longArg(2),
	}, nil
}

func (ch *Channel) QueueBind(ctx context.Context, queue, exchange, routingKey string, noWait bool, args map[string]any) error {
	m := NewMethod(QUEUE, uint16(QUEUE_BIND), uint16(0), queue, exchange, routingKey, noWait, args)
	if noWait {
		return ch.sendAsync(m)
	}
	_, err := ch.Call(ctx, m)
	return err
}

func (ch *Channel) QueueUnbind(ctx context.Context, queue, exchange, routingKey string, args map[string]any) error {
	_, err := ch.Call(ctx, NewMethod(QUEUE, uint16(QUEUE_UNBIND),
		uint16(0), queue, exchange, routingKey, args))
	return err
}

func (ch *Channel) QueuePurge(ctx context.Context, queue string, noWait bool) (uint32, error) {
	m := NewMethod(QUEUE, uint16(QUEUE_PURGE), uint16(0), queue, noWait)
	if noWait {
		return 0, ch.sendAsync(m)
	}
	reply, err := ch.Call(ctx, m)
	if err != nil {
		return 0, err
	}
	return reply.longArg(0), nil
}

func (ch *Channel) QueueDelete(ctx context.Context, queue string, ifUnused, ifEmpty, noWait bool) (uint32, error) {
	m := NewMethod(QUEUE, uint16(QUEUE_DELETE), uint16(0), queue, ifUnused, ifEmpty, noWait)
	if noWait {
		return 0, ch.sendAsync(m)
	}
	reply, err := ch.Call(ctx, m)
	if err != nil {
		return 0, err
	}
	return reply.longArg(0), nil
}

func (ch *Channel) Qos(ctx context.Context, prefetchSize uint32, prefetchCount uint16, global bool) error {
	_, err := ch.Call(ctx, NewMethod(BASIC, uint16(BASIC_QOS), prefetchSize, prefetchCount, global))
	return err
}

// Consume starts a consumer and returns its tag. An empty consumerTag asks
// for a generated one; deliveries surface as ContentDelivered events
// carrying the tag.
func (ch *Channel) Consume(ctx context.Context, queue, consumerTag string, noLocal, noAck, exclusive bool, args map[string]any) (string, error) {
	if consumerTag == "" {
		consumerTag = fmt.Sprintf("ctag-%s", uuid.New().String())
	}
	reply, err := ch.Call(ctx, NewMethod(BASIC, uint16(BASIC_CONSUME),
		uint16(0), queue, consumerTag, noLocal, noAck, exclusive, false, args))
	if err != nil {
		return "", err
	}
	return reply.stringArg(0), nil
}

func (ch *Channel) Cancel(ctx context.Context, consumerTag string) error {
	_, err := ch.Call(ctx, NewMethod(BASIC, uint16(BASIC_CANCEL), consumerTag, false))
	return err
}

// Get pulls one message synchronously. The bool result reports whether a
// message was available.
func (ch *Channel) Get(ctx context.Context, queue string, noAck bool) (*Delivery, bool, error) {
	res, err := ch.call(ctx, NewMethod(BASIC, uint16(BASIC_GET), uint16(0), queue, noAck))
	if err != nil {
		return nil, false, err
	}
	if res.err != nil {
		return nil, false, res.err
	}
	if res.method.is(BASIC, uint16(BASIC_GET_EMPTY)) {
		return nil, false, nil
	}
	return &Delivery{
		DeliveryTag:  res.method.longLongArg(0),
		Redelivered:  res.method.boolArg(1),
		Exchange:     res.method.stringArg(2),
		RoutingKey:   res.method.stringArg(3),
		MessageCount: res.method.longArg(4),
		Properties:   res.props,
		Body:         res.body,
	}, true, nil
}

func (ch *Channel) Ack(deliveryTag uint64, multiple bool) error {
	return ch.sendAsync(NewMethod(BASIC, uint16(BASIC_ACK), deliveryTag, multiple))
}

func (ch *Channel) Nack(deliveryTag uint64, multiple, requeue bool) error {
	return ch.sendAsync(NewMethod(BASIC, uint16(BASIC_NACK), deliveryTag, multiple, requeue))
}

func (ch *Channel) Reject(deliveryTag uint64, requeue bool) error {
	return ch.sendAsync(NewMethod(BASIC, uint16(BASIC_REJECT), deliveryTag, requeue))
}

// Recover asks the broker to redeliver unacknowledged messages.
func (ch *Channel) Recover(ctx context.Context, requeue bool) error {
	_, err := ch.Call(ctx, NewMethod(BASIC, uint16(BASIC_RECOVER), requeue))
	return err
}

// ConfirmSelect puts the channel into publisher-confirm mode. Broker acks
// then surface as ConfirmAck and ConfirmNack events.
func (ch *Channel) ConfirmSelect(ctx context.Context) error {
	_, err := ch.Call(ctx, NewMethod(CONFIRM, uint16(CONFIRM_SELECT), false))
	return err
}

func (ch *Channel) TxSelect(ctx context.Context) error {
	_, err := ch.Call(ctx, NewMethod(TX, uint16(TX_SELECT)))
	return err
}

func (ch *Channel) TxCommit(ctx context.Context) error {
	_, err := ch.Call(ctx, NewMethod(TX, uint16(TX_COMMIT)))
	return err
}

func (ch *Channel) TxRollback(ctx context.Context) error {
	_, err := ch.Call(ctx, NewMethod(TX, uint16(TX_ROLLBACK)))
	return err
}
