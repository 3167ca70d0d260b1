package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Method is one protocol command: a (class, method) pair plus its ordered
// argument list, typed per the registry schema.
type Method struct {
	ClassID  uint16
	MethodID uint16
	Args     []any
}

func NewMethod(classID TypeClass, methodID uint16, args ...any) Method {
	return Method{ClassID: uint16(classID), MethodID: methodID, Args: args}
}

func (m Method) Name() string {
	if ms, ok := lookupMethod(m.ClassID, m.MethodID); ok {
		return ms.name
	}
	return fmt.Sprintf("Unknown(%d.%d)", m.ClassID, m.MethodID)
}

func (m Method) Synchronous() bool {
	ms, ok := lookupMethod(m.ClassID, m.MethodID)
	return ok && ms.synchronous()
}

func (m Method) HasContent() bool {
	ms, ok := lookupMethod(m.ClassID, m.MethodID)
	return ok && ms.content
}

// is reports whether the method is the given (class, method) pair.
func (m Method) is(classID TypeClass, methodID uint16) bool {
	return m.ClassID == uint16(classID) && m.MethodID == methodID
}

// EncodeMethodPayload serializes a METHOD frame payload: class-id short,
// method-id short, then the arguments per the registry schema. Consecutive
// bit arguments are packed into shared octets.
func EncodeMethodPayload(m Method) ([]byte, error) {
	ms, ok := lookupMethod(m.ClassID, m.MethodID)
	if !ok {
		return nil, &UnknownMethodError{ClassID: m.ClassID, MethodID: m.MethodID}
	}
	if len(m.Args) != len(ms.fields) {
		return nil, fmt.Errorf("%s: got %d arguments, schema has %d", ms.name, len(m.Args), len(ms.fields))
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, m.ClassID)
	_ = binary.Write(&buf, binary.BigEndian, m.MethodID)

	var bitOctet byte
	bitCount := 0
	flushBits := func() {
		if bitCount > 0 {
			buf.WriteByte(bitOctet)
			bitOctet = 0
			bitCount = 0
		}
	}

	for i, fs := range ms.fields {
		arg := m.Args[i]
		if fs.kind != kindBit {
			flushBits()
		}
		if err := encodeMethodField(&buf, ms.name, fs, arg, &bitOctet, &bitCount); err != nil {
			return nil, err
		}
	}
	flushBits()

	return buf.Bytes(), nil
}

func encodeMethodField(buf *bytes.Buffer, method string, fs fieldSpec, arg any, bitOctet *byte, bitCount *int) error {
	mismatch := func() error {
		return fmt.Errorf("%s: argument %q has incompatible type %T", method, fs.name, arg)
	}

	switch fs.kind {
	case kindOctet:
		v, ok := arg.(uint8)
		if !ok {
			return mismatch()
		}
		buf.WriteByte(v)

	case kindShort:
		v, ok := arg.(uint16)
		if !ok {
			return mismatch()
		}
		_ = binary.Write(buf, binary.BigEndian, v)

	case kindLong:
		v, ok := arg.(uint32)
		if !ok {
			return mismatch()
		}
		_ = binary.Write(buf, binary.BigEndian, v)

	case kindLongLong:
		v, ok := arg.(uint64)
		if !ok {
			return mismatch()
		}
		_ = binary.Write(buf, binary.BigEndian, v)

	case kindBit:
		v, ok := arg.(bool)
		if !ok {
			return mismatch()
		}
		if *bitCount == 8 {
			buf.WriteByte(*bitOctet)
			*bitOctet = 0
			*bitCount = 0
		}
		if v {
			*bitOctet |= 1 << uint(*bitCount)
		}
		*bitCount++

	case kindShortStr:
		v, ok := arg.(string)
		if !ok {
			return mismatch()
		}
		if len(v) > 255 {
			return fmt.Errorf("%s: argument %q exceeds shortstr limit: %d bytes", method, fs.name, len(v))
		}
		EncodeShortStr(buf, v)

	case kindLongStr:
		switch v := arg.(type) {
		case string:
			EncodeLongStr(buf, []byte(v))
		case []byte:
			EncodeLongStr(buf, v)
		default:
			return mismatch()
		}

	case kindTable:
		v, ok := arg.(map[string]any)
		if !ok && arg != nil {
			return mismatch()
		}
		EncodeLongStr(buf, EncodeTable(v))

	case kindTimestamp:
		v, ok := arg.(time.Time)
		if !ok {
			return mismatch()
		}
		_ = binary.Write(buf, binary.BigEndian, v.Unix())
	}
	return nil
}

// DecodeMethodPayload parses a METHOD frame payload into a Method using the
// registry schema for the (class, method) pair it names.
func DecodeMethodPayload(payload []byte) (Method, error) {
	if len(payload) < 4 {
		return Method{}, &MalformedFieldError{Reason: "method payload too short"}
	}
	classID := binary.BigEndian.Uint16(payload[0:2])
	methodID := binary.BigEndian.Uint16(payload[2:4])

	ms, ok := lookupMethod(classID, methodID)
	if !ok {
		return Method{}, &UnknownMethodError{ClassID: classID, MethodID: methodID}
	}

	buf := bytes.NewReader(payload[4:])
	args := make([]any, 0, len(ms.fields))

	var bitOctet byte
	bitCount := 8 // forces a fresh octet on the first bit field

	for _, fs := range ms.fields {
		if fs.kind != kindBit {
			bitCount = 8
		}
		value, err := decodeMethodField(buf, ms.name, fs, &bitOctet, &bitCount)
		if err != nil {
			return Method{}, err
		}
		args = append(args, value)
	}

	return Method{ClassID: classID, MethodID: methodID, Args: args}, nil
}

func decodeMethodField(buf *bytes.Reader, method string, fs fieldSpec, bitOctet *byte, bitCount *int) (any, error) {
	wrap := func(err error) error {
		return fmt.Errorf("%s: argument %q: %w", method, fs.name, err)
	}

	switch fs.kind {
	case kindOctet:
		v, err := DecodeOctet(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindShort:
		v, err := DecodeShortInt(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindLong:
		v, err := DecodeLongUInt(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindLongLong:
		v, err := DecodeLongLongUInt(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindBit:
		if *bitCount == 8 {
			octet, err := DecodeOctet(buf)
			if err != nil {
				return nil, wrap(err)
			}
			*bitOctet = octet
			*bitCount = 0
		}
		v := (*bitOctet & (1 << uint(*bitCount))) != 0
		*bitCount++
		return v, nil

	case kindShortStr:
		v, err := DecodeShortStr(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindLongStr:
		v, err := DecodeLongStr(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil

	case kindTable:
		data, err := DecodeLongStr(buf)
		if err != nil {
			return nil, wrap(err)
		}
		table, err := DecodeTable([]byte(data))
		if err != nil {
			return nil, wrap(err)
		}
		return table, nil

	case kindTimestamp:
		v, err := DecodeTimestamp(buf)
		if err != nil {
			return nil, wrap(err)
		}
		return v, nil
	}
	return nil, wrap(fmt.Errorf("unhandled field kind %d", fs.kind))
}

// Typed argument accessors. Out-of-range or mistyped arguments yield the
// zero value; the decode path guarantees schema-conformant types.

func (m Method) octetArg(i int) uint8 {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(uint8); ok {
			return v
		}
	}
	return 0
}

func (m Method) boolArg(i int) bool {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(bool); ok {
			return v
		}
	}
	return false
}

func (m Method) stringArg(i int) string {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(string); ok {
			return v
		}
	}
	return ""
}

func (m Method) shortArg(i int) uint16 {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(uint16); ok {
			return v
		}
	}
	return 0
}

func (m Method) longArg(i int) uint32 {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(uint32); ok {
			return v
		}
	}
	return 0
}

func (m Method) longLongArg(i int) uint64 {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(uint64); ok {
			return v
		}
	}
	return 0
}

func (m Method) tableArg(i int) map[string]any {
	if i < len(m.Args) {
		if v, ok := m.Args[i].(map[string]any); ok {
			return v
		}
	}
	return nil
}
