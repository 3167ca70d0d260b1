package amqp

import (
	"encoding/binary"
	"fmt"
)

const (
	FRAME_END = 0xCE

	// Envelope overhead: type octet, channel short, payload-size long,
	// frame-end octet.
	frameHeaderSize = 7
	frameEndSize    = 1
	FrameOverhead   = frameHeaderSize + frameEndSize

	// FRAME_MIN_SIZE is the smallest frame-max a peer may negotiate.
	FRAME_MIN_SIZE = 4096
)

// ProtocolHeader is the fixed preamble a client sends before any frame.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// Frame is the smallest unit of the wire protocol: a typed payload bound to
// a channel. Channel 0 is reserved for the connection itself.
type Frame struct {
	Type    FrameType
	Channel uint16
	Payload []byte
}

// EncodeFrame serializes a frame: type octet, 2-byte channel id, 4-byte
// big-endian payload length, payload, frame-end octet.
func EncodeFrame(f Frame) []byte {
	frame := make([]byte, frameHeaderSize+len(f.Payload)+frameEndSize)
	frame[0] = byte(f.Type)
	binary.BigEndian.PutUint16(frame[1:3], f.Channel)
	binary.BigEndian.PutUint32(frame[3:7], uint32(len(f.Payload)))
	copy(frame[7:], f.Payload)
	frame[len(frame)-1] = FRAME_END
	return frame
}

// DecodeFrame decodes one frame from the head of buf and returns it along
// with the number of bytes consumed. It returns ErrNeedMoreData when buf
// holds an incomplete frame; the caller must supply more bytes and retry.
// frameMax is the negotiated maximum total frame size (0 disables the
// check during handshake); a payload exceeding it means the peer violated
// the negotiated contract and is fatal.
func DecodeFrame(buf []byte, frameMax uint32) (Frame, int, error) {
	if len(buf) < frameHeaderSize {
		return Frame{}, 0, ErrNeedMoreData
	}

	frameType := FrameType(buf[0])
	switch frameType {
	case TYPE_METHOD, TYPE_HEADER, TYPE_BODY, TYPE_HEARTBEAT:
	default:
		return Frame{}, 0, &FrameFormatError{Reason: fmt.Sprintf("unknown frame type: %d", buf[0])}
	}

	channel := binary.BigEndian.Uint16(buf[1:3])
	payloadSize := binary.BigEndian.Uint32(buf[3:7])

	if frameMax != 0 && payloadSize > frameMax-FrameOverhead {
		return Frame{}, 0, &FrameFormatError{
			Reason: fmt.Sprintf("payload size %d exceeds negotiated frame-max %d", payloadSize, frameMax),
		}
	}

	total := frameHeaderSize + int(payloadSize) + frameEndSize
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	if buf[total-1] != FRAME_END {
		return Frame{}, 0, &FrameFormatError{
			Reason: fmt.Sprintf("frame end, got 0x%02X expected 0x%02X", buf[total-1], FRAME_END),
		}
	}

	payload := make([]byte, payloadSize)
	copy(payload, buf[frameHeaderSize:frameHeaderSize+int(payloadSize)])

	return Frame{Type: frameType, Channel: channel, Payload: payload}, total, nil
}

// createHeartbeatFrame builds the fixed 8-byte heartbeat frame on channel 0.
func createHeartbeatFrame() []byte {
	frame := make([]byte, 8)
	frame[0] = byte(TYPE_HEARTBEAT)
	binary.BigEndian.PutUint16(frame[1:3], 0)
	binary.BigEndian.PutUint32(frame[3:7], 0)
	frame[7] = FRAME_END
	return frame
}
