package amqp

// Event is a protocol occurrence surfaced by Connection.Feed. Callers
// type-switch on the concrete event types below.
type Event interface {
	isEvent()
}

// ConnectionOpened fires once the open handshake completes.
type ConnectionOpened struct {
	ServerProperties map[string]any
	ChannelMax       uint16
	FrameMax         uint32
	Heartbeat        uint16
}

// ConnectionClosed fires when the connection reaches CLOSED or FAILED,
// whether by local request, broker Connection.Close or a protocol fault.
type ConnectionClosed struct {
	ReplyCode uint16
	ReplyText string
	Err       error
}

// ChannelOpened fires when Channel.OpenOk arrives for a channel.
type ChannelOpened struct {
	Channel uint16
}

// ChannelClosed fires when a channel reaches CLOSED, locally or by a
// broker Channel.Close.
type ChannelClosed struct {
	Channel   uint16
	ReplyCode uint16
	ReplyText string
}

// MethodReceived fires for asynchronous broker methods that are not
// consumed by a pending call (Basic.Ack, Basic.Nack, Basic.Cancel, ...).
type MethodReceived struct {
	Channel uint16
	Method  Method
}

// ContentDelivered fires when a Basic.Deliver and its full content body
// have been reassembled.
type ContentDelivered struct {
	Channel     uint16
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Properties  BasicProperties
	Body        []byte
}

// ContentReturned fires when a Basic.Return and its content body have
// been reassembled, reporting an unroutable mandatory publish.
type ContentReturned struct {
	Channel    uint16
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties BasicProperties
	Body       []byte
}

// FlowChanged fires when the broker toggles Channel.Flow.
type FlowChanged struct {
	Channel uint16
	Active  bool
}

// ConfirmAck fires for a broker Basic.Ack on a channel in confirm mode.
type ConfirmAck struct {
	Channel     uint16
	DeliveryTag uint64
	Multiple    bool
}

// ConfirmNack fires for a broker Basic.Nack on a channel in confirm mode.
type ConfirmNack struct {
	Channel     uint16
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

func (ConnectionOpened) isEvent() {}
func (ConnectionClosed) isEvent() {}
func (ChannelOpened) isEvent()    {}
func (ChannelClosed) isEvent()    {}
func (MethodReceived) isEvent()   {}
func (ContentDelivered) isEvent() {}
func (ContentReturned) isEvent()  {}
func (FlowChanged) isEvent()      {}
func (ConfirmAck) isEvent()       {}
func (ConfirmNack) isEvent()      {}
