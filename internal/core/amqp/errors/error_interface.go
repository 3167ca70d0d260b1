// Package errors carries the typed protocol failures the engine routes
// into Close methods: connection-scoped (hard) and channel-scoped (soft)
// errors, each bound to a reply code and the method that caused them.
package errors

// AMQPError is a protocol failure with enough context to fill a Close
// method: reply code, reply text and the offending (class, method) pair,
// zero when no single method is to blame.
type AMQPError interface {
	error
	ReplyText() string
	ReplyCode() uint16
	ClassID() uint16
	MethodID() uint16
}
