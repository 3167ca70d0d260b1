// Package testutil builds broker-side wire bytes for driving the protocol
// engine in tests without a real broker.
package testutil

import (
	"github.com/otterwire/otterwire/internal/core/amqp"
)

// MethodFrame encodes a METHOD frame for the given channel. It panics on
// schema violations; test scripts are expected to be well formed.
func MethodFrame(channel uint16, m amqp.Method) []byte {
	payload, err := amqp.EncodeMethodPayload(m)
	if err != nil {
		panic(err)
	}
	return amqp.EncodeFrame(amqp.Frame{Type: amqp.TYPE_METHOD, Channel: channel, Payload: payload})
}

// HeaderFrame encodes a content HEADER frame.
func HeaderFrame(channel uint16, classID uint16, bodySize uint64, props *amqp.BasicProperties) []byte {
	if props == nil {
		props = &amqp.BasicProperties{}
	}
	payload, err := amqp.EncodeContentHeaderPayload(classID, bodySize, props)
	if err != nil {
		panic(err)
	}
	return amqp.EncodeFrame(amqp.Frame{Type: amqp.TYPE_HEADER, Channel: channel, Payload: payload})
}

// BodyFrame encodes a content BODY frame.
func BodyFrame(channel uint16, body []byte) []byte {
	return amqp.EncodeFrame(amqp.Frame{Type: amqp.TYPE_BODY, Channel: channel, Payload: body})
}

// HeartbeatFrame encodes the 8-byte heartbeat frame.
func HeartbeatFrame() []byte {
	return amqp.EncodeFrame(amqp.Frame{Type: amqp.TYPE_HEARTBEAT, Channel: 0})
}

// ConnectionStart builds a typical broker greeting.
func ConnectionStart() []byte {
	return MethodFrame(0, amqp.NewMethod(amqp.CONNECTION, uint16(amqp.CONNECTION_START),
		uint8(0), uint8(9),
		map[string]any{"product": "scripted-broker", "version": "0.0.1"},
		"PLAIN AMQPLAIN", "en_US"))
}

// ConnectionTune builds the broker's tuning proposal.
func ConnectionTune(channelMax uint16, frameMax uint32, heartbeat uint16) []byte {
	return MethodFrame(0, amqp.NewMethod(amqp.CONNECTION, uint16(amqp.CONNECTION_TUNE),
		channelMax, frameMax, heartbeat))
}

func ConnectionOpenOk() []byte {
	return MethodFrame(0, amqp.NewMethod(amqp.CONNECTION, uint16(amqp.CONNECTION_OPEN_OK), ""))
}

func ConnectionClose(code uint16, text string) []byte {
	return MethodFrame(0, amqp.NewMethod(amqp.CONNECTION, uint16(amqp.CONNECTION_CLOSE),
		code, text, uint16(0), uint16(0)))
}

func ConnectionCloseOk() []byte {
	return MethodFrame(0, amqp.NewMethod(amqp.CONNECTION, uint16(amqp.CONNECTION_CLOSE_OK)))
}

func ChannelOpenOk(channel uint16) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.CHANNEL, uint16(amqp.CHANNEL_OPEN_OK), ""))
}

func ChannelClose(channel, code uint16, text string) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.CHANNEL, uint16(amqp.CHANNEL_CLOSE),
		code, text, uint16(0), uint16(0)))
}

func ChannelCloseOk(channel uint16) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.CHANNEL, uint16(amqp.CHANNEL_CLOSE_OK)))
}

func ChannelFlow(channel uint16, active bool) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.CHANNEL, uint16(amqp.CHANNEL_FLOW), active))
}

func QueueDeclareOk(channel uint16, queue string, messages, consumers uint32) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.QUEUE, uint16(amqp.QUEUE_DECLARE_OK),
		queue, messages, consumers))
}

func BasicConsumeOk(channel uint16, consumerTag string) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_CONSUME_OK), consumerTag))
}

func ConfirmSelectOk(channel uint16) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.CONFIRM, uint16(amqp.CONFIRM_SELECT_OK)))
}

func BasicAck(channel uint16, deliveryTag uint64, multiple bool) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_ACK), deliveryTag, multiple))
}

func BasicGetOk(channel uint16, deliveryTag uint64, messageCount uint32) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_GET_OK),
		deliveryTag, false, "", "q", messageCount))
}

func BasicGetEmpty(channel uint16) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_GET_EMPTY), ""))
}

func BasicReturn(channel uint16, code uint16, text, exchange, routingKey string) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_RETURN),
		code, text, exchange, routingKey))
}

// BasicDeliver builds the method frame that opens a delivery; the caller
// follows it with HeaderFrame and BodyFrame.
func BasicDeliver(channel uint16, consumerTag string, deliveryTag uint64, exchange, routingKey string) []byte {
	return MethodFrame(channel, amqp.NewMethod(amqp.BASIC, uint16(amqp.BASIC_DELIVER),
		consumerTag, deliveryTag, false, exchange, routingKey))
}

// Delivery builds a complete delivery: method, header and one body frame.
func Delivery(channel uint16, consumerTag string, deliveryTag uint64, body []byte) []byte {
	var buf []byte
	buf = append(buf, BasicDeliver(channel, consumerTag, deliveryTag, "", "q")...)
	buf = append(buf, HeaderFrame(channel, uint16(amqp.BASIC), uint64(len(body)), nil)...)
	buf = append(buf, BodyFrame(channel, body)...)
	return buf
}
