package errors

import "fmt"

// ConnectionError is a hard error: it kills the whole connection and every
// channel on it. The engine surfaces one when the broker sends a
// connection-scoped Close, and builds one itself for protocol violations
// it detects locally.
type ConnectionError struct {
	text     string
	code     uint16
	classID  uint16
	methodID uint16
}

func NewConnectionError(text string, code, classID, methodID uint16) AMQPError {
	return &ConnectionError{text: text, code: code, classID: classID, methodID: methodID}
}

func (e *ConnectionError) Error() string {
	if e.classID != 0 || e.methodID != 0 {
		return fmt.Sprintf("connection error %d: %s (method %d.%d)", e.code, e.text, e.classID, e.methodID)
	}
	return fmt.Sprintf("connection error %d: %s", e.code, e.text)
}

func (e *ConnectionError) ReplyText() string { return e.text }
func (e *ConnectionError) ReplyCode() uint16 { return e.code }
func (e *ConnectionError) ClassID() uint16   { return e.classID }
func (e *ConnectionError) MethodID() uint16  { return e.methodID }
