package amqp

// fieldKind enumerates the primitive field encodings a method argument may
// use. Consecutive kindBit fields are packed into shared octets on the wire.
type fieldKind uint8

const (
	kindOctet fieldKind = iota
	kindShort
	kindLong
	kindLongLong
	kindBit
	kindShortStr
	kindLongStr
	kindTable
	kindTimestamp
)

type fieldSpec struct {
	name string
	kind fieldKind
}

// classMethod keys the method registry.
type classMethod struct {
	ClassID  uint16
	MethodID uint16
}

// methodSpec describes one protocol method: its argument schema, whether it
// is a synchronous request (and which method ids answer it), and whether a
// content (header + body frames) follows it on the wire.
type methodSpec struct {
	name    string
	fields  []fieldSpec
	replies []uint16 // same-class method ids that answer this request
	content bool
}

// synchronous reports whether the method is a synchronous request that
// occupies the per-channel pending-call slot until its reply arrives.
func (ms methodSpec) synchronous() bool {
	return len(ms.replies) > 0
}

var methodSpecs = map[classMethod]methodSpec{
	// Connection class (10)
	{uint16(CONNECTION), uint16(CONNECTION_START)}: {
		name: "Connection.Start",
		fields: []fieldSpec{
			{"version-major", kindOctet},
			{"version-minor", kindOctet},
			{"server-properties", kindTable},
			{"mechanisms", kindLongStr},
			{"locales", kindLongStr},
		},
		replies: []uint16{uint16(CONNECTION_START_OK)},
	},
	{uint16(CONNECTION), uint16(CONNECTION_START_OK)}: {
		name: "Connection.StartOk",
		fields: []fieldSpec{
			{"client-properties", kindTable},
			{"mechanism", kindShortStr},
			{"response", kindLongStr},
			{"locale", kindShortStr},
		},
	},
	{uint16(CONNECTION), uint16(CONNECTION_SECURE)}: {
		name:    "Connection.Secure",
		fields:  []fieldSpec{{"challenge", kindLongStr}},
		replies: []uint16{uint16(CONNECTION_SECURE_OK)},
	},
	{uint16(CONNECTION), uint16(CONNECTION_SECURE_OK)}: {
		name:   "Connection.SecureOk",
		fields: []fieldSpec{{"response", kindLongStr}},
	},
	{uint16(CONNECTION), uint16(CONNECTION_TUNE)}: {
		name: "Connection.Tune",
		fields: []fieldSpec{
			{"channel-max", kindShort},
			{"frame-max", kindLong},
			{"heartbeat", kindShort},
		},
		replies: []uint16{uint16(CONNECTION_TUNE_OK)},
	},
	{uint16(CONNECTION), uint16(CONNECTION_TUNE_OK)}: {
		name: "Connection.TuneOk",
		fields: []fieldSpec{
			{"channel-max", kindShort},
			{"frame-max", kindLong},
			{"heartbeat", kindShort},
		},
	},
	{uint16(CONNECTION), uint16(CONNECTION_OPEN)}: {
		name: "Connection.Open",
		fields: []fieldSpec{
			{"virtual-host", kindShortStr},
			{"reserved-1", kindShortStr},
			{"reserved-2", kindBit},
		},
		replies: []uint16{uint16(CONNECTION_OPEN_OK)},
	},
	{uint16(CONNECTION), uint16(CONNECTION_OPEN_OK)}: {
		name:   "Connection.OpenOk",
		fields: []fieldSpec{{"reserved-1", kindShortStr}},
	},
	{uint16(CONNECTION), uint16(CONNECTION_CLOSE)}: {
		name: "Connection.Close",
		fields: []fieldSpec{
			{"reply-code", kindShort},
			{"reply-text", kindShortStr},
			{"class-id", kindShort},
			{"method-id", kindShort},
		},
		replies: []uint16{uint16(CONNECTION_CLOSE_OK)},
	},
	{uint16(CONNECTION), uint16(CONNECTION_CLOSE_OK)}: {
		name: "Connection.CloseOk",
	},

	// Channel class (20)
	{uint16(CHANNEL), uint16(CHANNEL_OPEN)}: {
		name:    "Channel.Open",
		fields:  []fieldSpec{{"reserved-1", kindShortStr}},
		replies: []uint16{uint16(CHANNEL_OPEN_OK)},
	},
	{uint16(CHANNEL), uint16(CHANNEL_OPEN_OK)}: {
		name:   "Channel.OpenOk",
		fields: []fieldSpec{{"reserved-1", kindLongStr}},
	},
	{uint16(CHANNEL), uint16(CHANNEL_FLOW)}: {
		name:    "Channel.Flow",
		fields:  []fieldSpec{{"active", kindBit}},
		replies: []uint16{uint16(CHANNEL_FLOW_OK)},
	},
	{uint16(CHANNEL), uint16(CHANNEL_FLOW_OK)}: {
		name:   "Channel.FlowOk",
		fields: []fieldSpec{{"active", kindBit}},
	},
	{uint16(CHANNEL), uint16(CHANNEL_CLOSE)}: {
		name: "Channel.Close",
		fields: []fieldSpec{
			{"reply-code", kindShort},
			{"reply-text", kindShortStr},
			{"class-id", kindShort},
			{"method-id", kindShort},
		},
		replies: []uint16{uint16(CHANNEL_CLOSE_OK)},
	},
	{uint16(CHANNEL), uint16(CHANNEL_CLOSE_OK)}: {
		name: "Channel.CloseOk",
	},

	// Exchange class (40)
	{uint16(EXCHANGE), uint16(EXCHANGE_DECLARE)}: {
		name: "Exchange.Declare",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"exchange", kindShortStr},
			{"type", kindShortStr},
			{"passive", kindBit},
			{"durable", kindBit},
			{"auto-delete", kindBit},
			{"internal", kindBit},
			{"no-wait", kindBit},
			{"arguments", kindTable},
		},
		replies: []uint16{uint16(EXCHANGE_DECLARE_OK)},
	},
	{uint16(EXCHANGE), uint16(EXCHANGE_DECLARE_OK)}: {
		name: "Exchange.DeclareOk",
	},
	{uint16(EXCHANGE), uint16(EXCHANGE_DELETE)}: {
		name: "Exchange.Delete",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"exchange", kindShortStr},
			{"if-unused", kindBit},
			{"no-wait", kindBit},
		},
		replies: []uint16{uint16(EXCHANGE_DELETE_OK)},
	},
	{uint16(EXCHANGE), uint16(EXCHANGE_DELETE_OK)}: {
		name: "Exchange.DeleteOk",
	},

	// Queue class (50)
	{uint16(QUEUE), uint16(QUEUE_DECLARE)}: {
		name: "Queue.Declare",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"passive", kindBit},
			{"durable", kindBit},
			{"exclusive", kindBit},
			{"auto-delete", kindBit},
			{"no-wait", kindBit},
			{"arguments", kindTable},
		},
		replies: []uint16{uint16(QUEUE_DECLARE_OK)},
	},
	{uint16(QUEUE), uint16(QUEUE_DECLARE_OK)}: {
		name: "Queue.DeclareOk",
		fields: []fieldSpec{
			{"queue", kindShortStr},
			{"message-count", kindLong},
			{"consumer-count", kindLong},
		},
	},
	{uint16(QUEUE), uint16(QUEUE_BIND)}: {
		name: "Queue.Bind",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
			{"no-wait", kindBit},
			{"arguments", kindTable},
		},
		replies: []uint16{uint16(QUEUE_BIND_OK)},
	},
	{uint16(QUEUE), uint16(QUEUE_BIND_OK)}: {
		name: "Queue.BindOk",
	},
	{uint16(QUEUE), uint16(QUEUE_UNBIND)}: {
		name: "Queue.Unbind",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
			{"arguments", kindTable},
		},
		replies: []uint16{uint16(QUEUE_UNBIND_OK)},
	},
	{uint16(QUEUE), uint16(QUEUE_UNBIND_OK)}: {
		name: "Queue.UnbindOk",
	},
	{uint16(QUEUE), uint16(QUEUE_PURGE)}: {
		name: "Queue.Purge",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"no-wait", kindBit},
		},
		replies: []uint16{uint16(QUEUE_PURGE_OK)},
	},
	{uint16(QUEUE), uint16(QUEUE_PURGE_OK)}: {
		name:   "Queue.PurgeOk",
		fields: []fieldSpec{{"message-count", kindLong}},
	},
	{uint16(QUEUE), uint16(QUEUE_DELETE)}: {
		name: "Queue.Delete",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"if-unused", kindBit},
			{"if-empty", kindBit},
			{"no-wait", kindBit},
		},
		replies: []uint16{uint16(QUEUE_DELETE_OK)},
	},
	{uint16(QUEUE), uint16(QUEUE_DELETE_OK)}: {
		name:   "Queue.DeleteOk",
		fields: []fieldSpec{{"message-count", kindLong}},
	},

	// Basic class (60)
	{uint16(BASIC), uint16(BASIC_QOS)}: {
		name: "Basic.Qos",
		fields: []fieldSpec{
			{"prefetch-size", kindLong},
			{"prefetch-count", kindShort},
			{"global", kindBit},
		},
		replies: []uint16{uint16(BASIC_QOS_OK)},
	},
	{uint16(BASIC), uint16(BASIC_QOS_OK)}: {
		name: "Basic.QosOk",
	},
	{uint16(BASIC), uint16(BASIC_CONSUME)}: {
		name: "Basic.Consume",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"consumer-tag", kindShortStr},
			{"no-local", kindBit},
			{"no-ack", kindBit},
			{"exclusive", kindBit},
			{"no-wait", kindBit},
			{"arguments", kindTable},
		},
		replies: []uint16{uint16(BASIC_CONSUME_OK)},
	},
	{uint16(BASIC), uint16(BASIC_CONSUME_OK)}: {
		name:   "Basic.ConsumeOk",
		fields: []fieldSpec{{"consumer-tag", kindShortStr}},
	},
	{uint16(BASIC), uint16(BASIC_CANCEL)}: {
		name: "Basic.Cancel",
		fields: []fieldSpec{
			{"consumer-tag", kindShortStr},
			{"no-wait", kindBit},
		},
		replies: []uint16{uint16(BASIC_CANCEL_OK)},
	},
	{uint16(BASIC), uint16(BASIC_CANCEL_OK)}: {
		name:   "Basic.CancelOk",
		fields: []fieldSpec{{"consumer-tag", kindShortStr}},
	},
	{uint16(BASIC), uint16(BASIC_PUBLISH)}: {
		name: "Basic.Publish",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
			{"mandatory", kindBit},
			{"immediate", kindBit},
		},
		content: true,
	},
	{uint16(BASIC), uint16(BASIC_RETURN)}: {
		name: "Basic.Return",
		fields: []fieldSpec{
			{"reply-code", kindShort},
			{"reply-text", kindShortStr},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
		},
		content: true,
	},
	{uint16(BASIC), uint16(BASIC_DELIVER)}: {
		name: "Basic.Deliver",
		fields: []fieldSpec{
			{"consumer-tag", kindShortStr},
			{"delivery-tag", kindLongLong},
			{"redelivered", kindBit},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
		},
		content: true,
	},
	{uint16(BASIC), uint16(BASIC_GET)}: {
		name: "Basic.Get",
		fields: []fieldSpec{
			{"reserved-1", kindShort},
			{"queue", kindShortStr},
			{"no-ack", kindBit},
		},
		replies: []uint16{uint16(BASIC_GET_OK), uint16(BASIC_GET_EMPTY)},
	},
	{uint16(BASIC), uint16(BASIC_GET_OK)}: {
		name: "Basic.GetOk",
		fields: []fieldSpec{
			{"delivery-tag", kindLongLong},
			{"redelivered", kindBit},
			{"exchange", kindShortStr},
			{"routing-key", kindShortStr},
			{"message-count", kindLong},
		},
		content: true,
	},
	{uint16(BASIC), uint16(BASIC_GET_EMPTY)}: {
		name:   "Basic.GetEmpty",
		fields: []fieldSpec{{"reserved-1", kindShortStr}},
	},
	{uint16(BASIC), uint16(BASIC_ACK)}: {
		name: "Basic.Ack",
		fields: []fieldSpec{
			{"delivery-tag", kindLongLong},
			{"multiple", kindBit},
		},
	},
	{uint16(BASIC), uint16(BASIC_REJECT)}: {
		name: "Basic.Reject",
		fields: []fieldSpec{
			{"delivery-tag", kindLongLong},
			{"requeue", kindBit},
		},
	},
	{uint16(BASIC), uint16(BASIC_RECOVER_ASYNC)}: {
		name:   "Basic.RecoverAsync",
		fields: []fieldSpec{{"requeue", kindBit}},
	},
	{uint16(BASIC), uint16(BASIC_RECOVER)}: {
		name:    "Basic.Recover",
		fields:  []fieldSpec{{"requeue", kindBit}},
		replies: []uint16{uint16(BASIC_RECOVER_OK)},
	},
	{uint16(BASIC), uint16(BASIC_RECOVER_OK)}: {
		name: "Basic.RecoverOk",
	},
	{uint16(BASIC), uint16(BASIC_NACK)}: {
		name: "Basic.Nack",
		fields: []fieldSpec{
			{"delivery-tag", kindLongLong},
			{"multiple", kindBit},
			{"requeue", kindBit},
		},
	},

	// Confirm class (85, RabbitMQ extension)
	{uint16(CONFIRM), uint16(CONFIRM_SELECT)}: {
		name:    "Confirm.Select",
		fields:  []fieldSpec{{"no-wait", kindBit}},
		replies: []uint16{uint16(CONFIRM_SELECT_OK)},
	},
	{uint16(CONFIRM), uint16(CONFIRM_SELECT_OK)}: {
		name: "Confirm.SelectOk",
	},

	// Tx class (90)
	{uint16(TX), uint16(TX_SELECT)}: {
		name:    "Tx.Select",
		replies: []uint16{uint16(TX_SELECT_OK)},
	},
	{uint16(TX), uint16(TX_SELECT_OK)}: {
		name: "Tx.SelectOk",
	},
	{uint16(TX), uint16(TX_COMMIT)}: {
		name:    "Tx.Commit",
		replies: []uint16{uint16(TX_COMMIT_OK)},
	},
	{uint16(TX), uint16(TX_COMMIT_OK)}: {
		name: "Tx.CommitOk",
	},
	{uint16(TX), uint16(TX_ROLLBACK)}: {
		name:    "Tx.Rollback",
		replies: []uint16{uint16(TX_ROLLBACK_OK)},
	},
	{uint16(TX), uint16(TX_ROLLBACK_OK)}: {
		name: "Tx.RollbackOk",
	},
}

// lookupMethod returns the registry entry for a (class, method) pair.
func lookupMethod(classID, methodID uint16) (methodSpec, bool) {
	ms, ok := methodSpecs[classMethod{classID, methodID}]
	return ms, ok
}

// repliesTo reports whether (gotClass, gotMethod) is a valid reply to the
// pending request (reqClass, reqMethod).
func repliesTo(reqClass, reqMethod, gotClass, gotMethod uint16) bool {
	if reqClass != gotClass {
		return false
	}
	ms, ok := lookupMethod(reqClass, reqMethod)
	if !ok {
		return false
	}
	for _, id := range ms.replies {
		if id == gotMethod {
			return true
		}
	}
	return false
}
