package amqp

import (
	"errors"
	"fmt"
)

// Local misuse errors. These are returned synchronously to the caller and
// never generate protocol traffic.
var (
	ErrChannelBusy        = errors.New("a synchronous call is already pending on this channel")
	ErrChannelFlowBlocked = errors.New("publishing is blocked by channel flow control")
	ErrChannelClosed      = errors.New("channel is closed")
	ErrConnectionClosed   = errors.New("connection is closed")
	ErrNotOpen            = errors.New("operation requires an open state")
)

// ErrNeedMoreData signals that the decode buffer holds an incomplete frame.
// The caller must supply more bytes; this is not a failure.
var ErrNeedMoreData = errors.New("need more data")

// MalformedFieldError reports a field whose declared byte layout cannot be
// satisfied by the remaining buffer.
type MalformedFieldError struct {
	Reason string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field: %s", e.Reason)
}

// FrameFormatError reports a violation of the frame envelope: a bad
// frame-end octet or a payload length that disagrees with the buffer.
type FrameFormatError struct {
	Reason string
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("frame format error: %s", e.Reason)
}

// UnknownMethodError reports a (class, method) pair absent from the method
// registry. The protocol has no safe way to skip an unrecognized method
// payload, so this is fatal for the connection.
type UnknownMethodError struct {
	ClassID  uint16
	MethodID uint16
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method: class %d method %d", e.ClassID, e.MethodID)
}
