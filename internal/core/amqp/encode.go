package amqp

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
	"time"
)

// encodeValueToBuffer encodes a single AMQP field value into the provided buffer
// by selecting the appropriate type encoding based on the value's Go type.
func encodeValueToBuffer(value any, buf *bytes.Buffer) {
	switch v := value.(type) {
	case bool:
		buf.WriteByte('t')
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case int8:
		buf.WriteByte('b')
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint8:
		buf.WriteByte('B')
		_ = binary.Write(buf, binary.BigEndian, v)

	case int16:
		buf.WriteByte('U')
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint16:
		buf.WriteByte('u')
		_ = binary.Write(buf, binary.BigEndian, v)

	case int32:
		buf.WriteByte('I')
		_ = binary.Write(buf, binary.BigEndian, v)

	case int:
		buf.WriteByte('I')
		_ = binary.Write(buf, binary.BigEndian, int32(v))

	case uint32:
		buf.WriteByte('i')
		_ = binary.Write(buf, binary.BigEndian, v)

	case int64:
		buf.WriteByte('L')
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint64:
		buf.WriteByte('l')
		_ = binary.Write(buf, binary.BigEndian, v)

	case float32:
		buf.WriteByte('f')
		_ = binary.Write(buf, binary.BigEndian, v)

	case float64:
		buf.WriteByte('d')
		_ = binary.Write(buf, binary.BigEndian, v)

	case Decimal:
		buf.WriteByte('D')
		_ = binary.Write(buf, binary.BigEndian, v.Scale)
		_ = binary.Write(buf, binary.BigEndian, v.Value)

	case string:
		buf.WriteByte('S')
		EncodeLongStr(buf, []byte(v))

	case map[string]any:
		buf.WriteByte('F')
		EncodeLongStr(buf, EncodeTable(v))

	case []any:
		buf.WriteByte('A')
		EncodeLongStr(buf, EncodeArray(v))

	case []string:
		buf.WriteByte('A')
		arr := make([]any, len(v))
		for i, item := range v {
			arr[i] = item
		}
		EncodeLongStr(buf, EncodeArray(arr))

	case []map[string]any:
		buf.WriteByte('A')
		arr := make([]any, len(v))
		for i, item := range v {
			arr[i] = item
		}
		EncodeLongStr(buf, EncodeArray(arr))

	case time.Time:
		buf.WriteByte('T')
		_ = binary.Write(buf, binary.BigEndian, v.Unix())

	default:
		buf.WriteByte('V')
	}
}

// EncodeTable encodes a proper AMQP field table. Keys are written in sorted
// order so the encoding is deterministic.
func EncodeTable(table map[string]any) []byte {
	var buf bytes.Buffer
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		EncodeShortStr(&buf, key)
		encodeValueToBuffer(table[key], &buf)
	}
	return buf.Bytes()
}

// EncodeArray encodes an AMQP field array: tagged values, no per-element name.
func EncodeArray(arr []any) []byte {
	var buf bytes.Buffer
	for _, value := range arr {
		encodeValueToBuffer(value, &buf)
	}
	return buf.Bytes()
}

func EncodeLongStr(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func EncodeShortStr(buf *bytes.Buffer, data string) {
	_ = buf.WriteByte(byte(len(data)))
	buf.WriteString(data)
}

func EncodeOctet(buf *bytes.Buffer, value uint8) error {
	return buf.WriteByte(value)
}

func EncodeTimestamp(buf *bytes.Buffer, value time.Time) error {
	return binary.Write(buf, binary.BigEndian, value.Unix())
}

// EncodeSecurityPlain encodes a PLAIN SASL response: NUL, username, NUL,
// password. The caller carries it as a longstr.
func EncodeSecurityPlain(username, password string) []byte {
	var response strings.Builder
	response.WriteByte(0)
	response.WriteString(username)
	response.WriteByte(0)
	response.WriteString(password)
	return []byte(response.String())
}

// EncodeFlags encodes a map of boolean flags into a single byte
func EncodeFlags(flags map[string]bool, flagNames []string, lsbFirst bool) byte {
	var octet byte
	for i, name := range flagNames {
		if flags[name] {
			if lsbFirst {
				octet |= 1 << uint(i)
			} else {
				octet |= 1 << uint(7-i)
			}
		}
	}
	return octet
}
