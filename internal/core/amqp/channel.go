package amqp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	amqperr "github.com/otterwire/otterwire/internal/core/amqp/errors"
)

type ChannelState uint8

const (
	ChannelStateUnopened ChannelState = iota
	ChannelStateOpening
	ChannelStateOpen
	ChannelStateClosing
	ChannelStateClosed
)

func (cs ChannelState) String() string {
	return []string{"UNOPENED", "OPENING", "OPEN", "CLOSING", "CLOSED"}[cs]
}

type callResult struct {
	method Method
	props  BasicProperties
	body   []byte
	err    error
}

// pendingCall is the single in-flight synchronous request a channel may
// hold. A second request while one is pending is refused with
// ErrChannelBusy before any bytes are written.
type pendingCall struct {
	classID  uint16
	methodID uint16
	done     chan callResult
}

func (pc *pendingCall) resolve(res callResult) {
	pc.done <- res
}

// contentAssembly tracks an inbound content in flight: the carrying method,
// then its header, then body frames until the declared size is reached.
type contentAssembly struct {
	method Method
	header *ContentHeader
	body   []byte
}

// Channel multiplexes one independent command stream over the connection.
// All state is guarded by the owning Connection's mutex.
type Channel struct {
	conn *Connection
	id   uint16

	state       ChannelState
	pending     *pendingCall
	content     *contentAssembly
	flowBlocked bool
	confirmMode bool
	consumers   map[string]bool

	closeCode uint16
	closeText string
}

func newChannel(conn *Connection, id uint16) *Channel {
	return &Channel{
		conn:      conn,
		id:        id,
		state:     ChannelStateUnopened,
		consumers: make(map[string]bool),
	}
}

func (ch *Channel) ID() uint16 {
	return ch.id
}

func (ch *Channel) State() ChannelState {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	return ch.state
}

// Consumers returns the tags of the active consumers on this channel.
func (ch *Channel) Consumers() []string {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	tags := make([]string, 0, len(ch.consumers))
	for tag := range ch.consumers {
		tags = append(tags, tag)
	}
	return tags
}

// Call sends a synchronous method and blocks until the matching reply
// arrives, the channel dies, or ctx is done. Cancelling ctx abandons the
// call by closing the channel, so the reply slot is freed in bounded time.
func (ch *Channel) Call(ctx context.Context, m Method) (Method, error) {
	res, err := ch.call(ctx, m)
	if err != nil {
		return Method{}, err
	}
	return res.method, res.err
}

func (ch *Channel) call(ctx context.Context, m Method) (callResult, error) {
	if !m.Synchronous() {
		return callResult{}, fmt.Errorf("%s is not a synchronous method", m.Name())
	}

	ch.conn.mu.Lock()
	if err := ch.sendableLocked(); err != nil {
		ch.conn.mu.Unlock()
		return callResult{}, err
	}
	if ch.pending != nil {
		ch.conn.mu.Unlock()
		return callResult{}, ErrChannelBusy
	}
	pc := &pendingCall{classID: m.ClassID, methodID: m.MethodID, done: make(chan callResult, 1)}
	if err := ch.conn.writeMethodLocked(ch.id, m); err != nil {
		ch.conn.mu.Unlock()
		return callResult{}, err
	}
	ch.pending = pc
	ch.conn.mu.Unlock()
	ch.conn.notifyWritable()

	select {
	case <-ctx.Done():
		ch.abandonCall(pc)
		return callResult{}, ctx.Err()
	case res := <-pc.done:
		return res, nil
	}
}

// abandonCall frees the pending slot after a context cancellation. The
// broker may still be preparing the reply, so the only safe recovery is to
// close the channel; replies arriving while CLOSING are discarded.
func (ch *Channel) abandonCall(pc *pendingCall) {
	ch.conn.mu.Lock()
	if ch.pending != pc {
		ch.conn.mu.Unlock()
		return
	}
	ch.pending = nil
	if ch.state == ChannelStateOpening || ch.state == ChannelStateOpen {
		ch.state = ChannelStateClosing
		ch.closeCode = uint16(REPLY_SUCCESS)
		ch.closeText = "call abandoned by caller"
		_ = ch.conn.writeMethodLocked(ch.id, NewMethod(CHANNEL, uint16(CHANNEL_CLOSE),
			uint16(REPLY_SUCCESS), "call abandoned by caller", pc.classID, pc.methodID))
	}
	ch.conn.mu.Unlock()
	ch.conn.notifyWritable()
}

func (ch *Channel) sendableLocked() error {
	if ch.conn.state != StateOpen {
		return ErrConnectionClosed
	}
	switch ch.state {
	case ChannelStateOpening, ChannelStateOpen:
		return nil
	case ChannelStateClosing, ChannelStateClosed:
		return ErrChannelClosed
	}
	return ErrNotOpen
}

// open drives the Channel.Open handshake. Called by Connection.Channel
// with the channel already registered in the OPENING state.
func (ch *Channel) open(ctx context.Context) error {
	_, err := ch.Call(ctx, NewMethod(CHANNEL, uint16(CHANNEL_OPEN), ""))
	return err
}

// Close performs the orderly Channel.Close handshake.
func (ch *Channel) Close(ctx context.Context) error {
	ch.conn.mu.Lock()
	if ch.state == ChannelStateClosed || ch.state == ChannelStateClosing {
		ch.conn.mu.Unlock()
		return nil
	}
	if err := ch.sendableLocked(); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	if ch.pending != nil {
		ch.conn.mu.Unlock()
		return ErrChannelBusy
	}
	pc := &pendingCall{classID: uint16(CHANNEL), methodID: uint16(CHANNEL_CLOSE), done: make(chan callResult, 1)}
	if err := ch.conn.writeMethodLocked(ch.id, NewMethod(CHANNEL, uint16(CHANNEL_CLOSE),
		uint16(REPLY_SUCCESS), "", uint16(0), uint16(0))); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	ch.pending = pc
	ch.state = ChannelStateClosing
	ch.closeCode = uint16(REPLY_SUCCESS)
	ch.closeText = ReplyText[REPLY_SUCCESS]
	ch.conn.mu.Unlock()
	ch.conn.notifyWritable()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-pc.done:
		return res.err
	}
}

// Publish sends Basic.Publish with its content header and body, splitting
// the body into frames that respect the negotiated frame-max. Publishing
// never blocks on the broker; flow control refuses locally instead.
func (ch *Channel) Publish(exchange, routingKey string, mandatory, immediate bool, props *BasicProperties, body []byte) error {
	if props == nil {
		props = &BasicProperties{}
	}

	ch.conn.mu.Lock()
	if err := ch.sendableLocked(); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	if ch.state != ChannelStateOpen {
		ch.conn.mu.Unlock()
		return ErrNotOpen
	}
	if ch.flowBlocked {
		ch.conn.mu.Unlock()
		return ErrChannelFlowBlocked
	}

	if err := ch.conn.writeMethodLocked(ch.id, NewMethod(BASIC, uint16(BASIC_PUBLISH),
		uint16(0), exchange, routingKey, mandatory, immediate)); err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	headerPayload, err := EncodeContentHeaderPayload(uint16(BASIC), uint64(len(body)), props)
	if err != nil {
		ch.conn.mu.Unlock()
		return err
	}
	ch.conn.writeFrameLocked(TYPE_HEADER, ch.id, headerPayload)

	maxChunk := len(body)
	if ch.conn.frameMax != 0 {
		maxChunk = int(ch.conn.frameMax) - FrameOverhead
	}
	for offset := 0; offset < len(body); offset += maxChunk {
		end := offset + maxChunk
		if end > len(body) {
			end = len(body)
		}
		ch.conn.writeFrameLocked(TYPE_BODY, ch.id, body[offset:end])
	}
	ch.conn.mu.Unlock()
	ch.conn.notifyWritable()
	if ch.conn.cfg.OnPublish != nil {
		ch.conn.cfg.OnPublish()
	}
	return nil
}

// Flow asks the broker to pause or resume deliveries on this channel.
func (ch *Channel) Flow(ctx context.Context, active bool) error {
	_, err := ch.Call(ctx, NewMethod(CHANNEL, uint16(CHANNEL_FLOW), active))
	return err
}

// FlowBlocked reports whether the broker has paused publishing on this
// channel via Channel.Flow.
func (ch *Channel) FlowBlocked() bool {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	return ch.flowBlocked
}

// handleFrame dispatches one inbound frame for this channel. It runs with
// the connection mutex held. A non-nil return is fatal for the connection.
func (ch *Channel) handleFrame(frame Frame) error {
	switch ch.state {
	case ChannelStateClosed:
		// Frames racing an already-closed channel are dropped.
		return nil
	case ChannelStateClosing:
		return ch.handleFrameClosing(frame)
	}

	switch frame.Type {
	case TYPE_METHOD:
		if ch.content != nil {
			return ch.unexpectedFrame("method frame interleaved with content")
		}
		m, err := DecodeMethodPayload(frame.Payload)
		if err != nil {
			return err
		}
		return ch.handleMethod(m)
	case TYPE_HEADER:
		return ch.handleHeader(frame.Payload)
	case TYPE_BODY:
		return ch.handleBody(frame.Payload)
	}
	return ch.unexpectedFrame(fmt.Sprintf("%s frame on channel %d", frame.Type, ch.id))
}

// handleFrameClosing tolerates the tail of a close handshake: the CloseOk
// we are waiting for, a crossing broker Close, and stale traffic.
func (ch *Channel) handleFrameClosing(frame Frame) error {
	if frame.Type != TYPE_METHOD {
		return nil
	}
	m, err := DecodeMethodPayload(frame.Payload)
	if err != nil {
		return err
	}
	switch {
	case m.is(CHANNEL, uint16(CHANNEL_CLOSE_OK)):
		ch.finishCloseLocked(nil)
	case m.is(CHANNEL, uint16(CHANNEL_CLOSE)):
		// Crossing close. Acknowledge the broker's and finish.
		_ = ch.conn.writeMethodLocked(ch.id, NewMethod(CHANNEL, uint16(CHANNEL_CLOSE_OK)))
		ch.closeCode = m.shortArg(0)
		ch.closeText = m.stringArg(1)
		ch.finishCloseLocked(nil)
	}
	return nil
}

func (ch *Channel) handleMethod(m Method) error {
	switch {
	case m.is(CHANNEL, uint16(CHANNEL_CLOSE)):
		return ch.handleBrokerClose(m)

	case m.is(CHANNEL, uint16(CHANNEL_FLOW)):
		active := m.boolArg(0)
		ch.flowBlocked = !active
		if err := ch.conn.writeMethodLocked(ch.id, NewMethod(CHANNEL, uint16(CHANNEL_FLOW_OK), active)); err != nil {
			return err
		}
		ch.conn.emitLocked(FlowChanged{Channel: ch.id, Active: active})
		return nil

	case m.is(BASIC, uint16(BASIC_DELIVER)), m.is(BASIC, uint16(BASIC_RETURN)), m.is(BASIC, uint16(BASIC_GET_OK)):
		ch.content = &contentAssembly{method: m}
		return nil

	case m.is(BASIC, uint16(BASIC_ACK)):
		if ch.confirmMode {
			ch.conn.emitLocked(ConfirmAck{
				Channel:     ch.id,
				DeliveryTag: m.longLongArg(0),
				Multiple:    m.boolArg(1),
			})
			return nil
		}
		ch.conn.emitLocked(MethodReceived{Channel: ch.id, Method: m})
		return nil

	case m.is(BASIC, uint16(BASIC_NACK)):
		if ch.confirmMode {
			ch.conn.emitLocked(ConfirmNack{
				Channel:     ch.id,
				DeliveryTag: m.longLongArg(0),
				Multiple:    m.boolArg(1),
				Requeue:     m.boolArg(2),
			})
			return nil
		}
		ch.conn.emitLocked(MethodReceived{Channel: ch.id, Method: m})
		return nil

	case m.is(BASIC, uint16(BASIC_CANCEL)):
		// Broker-initiated consumer cancellation.
		delete(ch.consumers, m.stringArg(0))
		ch.conn.emitLocked(MethodReceived{Channel: ch.id, Method: m})
		return nil
	}

	pc := ch.pending
	if pc == nil || !repliesTo(pc.classID, pc.methodID, m.ClassID, m.MethodID) {
		return amqperr.NewConnectionError(
			COMMAND_INVALID.Format(fmt.Sprintf("unexpected %s on channel %d", m.Name(), ch.id)),
			uint16(COMMAND_INVALID), m.ClassID, m.MethodID)
	}
	ch.pending = nil

	switch {
	case m.is(CHANNEL, uint16(CHANNEL_OPEN_OK)):
		ch.state = ChannelStateOpen
		ch.conn.emitLocked(ChannelOpened{Channel: ch.id})
	case m.is(CONFIRM, uint16(CONFIRM_SELECT_OK)):
		ch.confirmMode = true
	case m.is(BASIC, uint16(BASIC_CONSUME_OK)):
		ch.consumers[m.stringArg(0)] = true
	case m.is(BASIC, uint16(BASIC_CANCEL_OK)):
		delete(ch.consumers, m.stringArg(0))
	}

	pc.resolve(callResult{method: m})
	return nil
}

func (ch *Channel) handleBrokerClose(m Method) error {
	code := m.shortArg(0)
	text := m.stringArg(1)
	log.Warn().
		Uint16("channel", ch.id).
		Uint16("reply_code", code).
		Str("reply_text", text).
		Msg("Channel closed by broker")

	if err := ch.conn.writeMethodLocked(ch.id, NewMethod(CHANNEL, uint16(CHANNEL_CLOSE_OK))); err != nil {
		return err
	}
	ch.closeCode = code
	ch.closeText = text
	ch.finishCloseLocked(amqperr.NewChannelError(ch.id, text, code, m.shortArg(2), m.shortArg(3)))
	return nil
}

// finishCloseLocked moves the channel to CLOSED, resolves any pending call
// and emits the ChannelClosed event. err is what a pending caller sees;
// nil means an orderly local close.
func (ch *Channel) finishCloseLocked(err error) {
	if ch.state == ChannelStateClosed {
		return
	}
	ch.state = ChannelStateClosed
	ch.content = nil
	ch.consumers = make(map[string]bool)
	if pc := ch.pending; pc != nil {
		ch.pending = nil
		pc.resolve(callResult{err: err})
	}
	delete(ch.conn.channels, ch.id)
	ch.conn.emitLocked(ChannelClosed{Channel: ch.id, ReplyCode: ch.closeCode, ReplyText: ch.closeText})
}

// teardown closes the channel without a handshake when the connection
// dies underneath it.
func (ch *Channel) teardown(err error) {
	if ch.state == ChannelStateClosed {
		return
	}
	ch.state = ChannelStateClosed
	ch.content = nil
	if pc := ch.pending; pc != nil {
		ch.pending = nil
		pc.resolve(callResult{err: err})
	}
}

func (ch *Channel) handleHeader(payload []byte) error {
	if ch.content == nil {
		return ch.unexpectedFrame("content header without a carrying method")
	}
	if ch.content.header != nil {
		return ch.unexpectedFrame("content header while assembling another content")
	}
	header, err := DecodeContentHeaderPayload(payload)
	if err != nil {
		return amqperr.NewConnectionError(
			SYNTAX_ERROR.Format(err.Error()), uint16(SYNTAX_ERROR),
			ch.content.method.ClassID, ch.content.method.MethodID)
	}
	if header.ClassID != ch.content.method.ClassID {
		return ch.unexpectedFrame(fmt.Sprintf("content header class %d does not match method class %d",
			header.ClassID, ch.content.method.ClassID))
	}
	ch.content.header = header
	if header.BodySize == 0 {
		return ch.completeContent()
	}
	return nil
}

func (ch *Channel) handleBody(payload []byte) error {
	if ch.content == nil || ch.content.header == nil {
		return ch.unexpectedFrame("body frame without a content header")
	}
	ch.content.body = append(ch.content.body, payload...)
	if uint64(len(ch.content.body)) > ch.content.header.BodySize {
		return ch.unexpectedFrame(fmt.Sprintf("content body overflows declared size %d", ch.content.header.BodySize))
	}
	if uint64(len(ch.content.body)) == ch.content.header.BodySize {
		return ch.completeContent()
	}
	return nil
}

func (ch *Channel) completeContent() error {
	content := ch.content
	ch.content = nil
	m := content.method

	switch {
	case m.is(BASIC, uint16(BASIC_DELIVER)):
		ch.conn.emitLocked(ContentDelivered{
			Channel:     ch.id,
			ConsumerTag: m.stringArg(0),
			DeliveryTag: m.longLongArg(1),
			Redelivered: m.boolArg(2),
			Exchange:    m.stringArg(3),
			RoutingKey:  m.stringArg(4),
			Properties:  content.header.Properties,
			Body:        content.body,
		})
		return nil

	case m.is(BASIC, uint16(BASIC_RETURN)):
		ch.conn.emitLocked(ContentReturned{
			Channel:    ch.id,
			ReplyCode:  m.shortArg(0),
			ReplyText:  m.stringArg(1),
			Exchange:   m.stringArg(2),
			RoutingKey: m.stringArg(3),
			Properties: content.header.Properties,
			Body:       content.body,
		})
		return nil

	case m.is(BASIC, uint16(BASIC_GET_OK)):
		pc := ch.pending
		if pc == nil || !repliesTo(pc.classID, pc.methodID, m.ClassID, m.MethodID) {
			return ch.unexpectedFrame("Basic.GetOk without a pending Basic.Get")
		}
		ch.pending = nil
		pc.resolve(callResult{method: m, props: content.header.Properties, body: content.body})
		return nil
	}
	return ch.unexpectedFrame(fmt.Sprintf("content completion for %s", m.Name()))
}

func (ch *Channel) unexpectedFrame(reason string) error {
	return amqperr.NewConnectionError(
		UNEXPECTED_FRAME.Format(reason), uint16(UNEXPECTED_FRAME), uint16(CHANNEL), 0)
}
