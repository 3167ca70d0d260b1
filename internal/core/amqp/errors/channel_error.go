package errors

import "fmt"

// ChannelError is a soft error: the broker closed one channel with a 4xx
// reply code and the connection stays usable. It records which channel
// died so callers can tell isolated failures apart.
type ChannelError struct {
	channel  uint16
	text     string
	code     uint16
	classID  uint16
	methodID uint16
}

func NewChannelError(channel uint16, text string, code, classID, methodID uint16) AMQPError {
	return &ChannelError{channel: channel, text: text, code: code, classID: classID, methodID: methodID}
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d error %d: %s", e.channel, e.code, e.text)
}

func (e *ChannelError) ReplyText() string { return e.text }
func (e *ChannelError) ReplyCode() uint16 { return e.code }
func (e *ChannelError) ClassID() uint16   { return e.classID }
func (e *ChannelError) MethodID() uint16  { return e.methodID }

// Channel returns the id of the channel the error closed.
func (e *ChannelError) Channel() uint16 { return e.channel }
