package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// maxNestingDepth bounds recursive table/array decoding so a malicious peer
// cannot exhaust the stack with deeply nested fields.
const maxNestingDepth = 64

// Decimal is the AMQP decimal field: a scale octet and a long value.
type Decimal struct {
	Scale uint8
	Value uint32
}

// DecodeTable decodes an AMQP field table from a byte slice
func DecodeTable(data []byte) (map[string]any, error) {
	return decodeTable(data, 0)
}

func decodeTable(data []byte, depth int) (map[string]any, error) {
	if depth > maxNestingDepth {
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("table nesting exceeds %d levels", maxNestingDepth)}
	}

	table := make(map[string]any)
	buf := bytes.NewReader(data)

	for buf.Len() > 0 {
		fieldName, err := DecodeShortStr(buf)
		if err != nil {
			return nil, err
		}

		fieldType, err := buf.ReadByte()
		if err != nil {
			return nil, &MalformedFieldError{Reason: "truncated field type tag"}
		}

		value, err := decodeFieldValue(buf, fieldType, depth)
		if err != nil {
			return nil, err
		}
		table[fieldName] = value
	}
	return table, nil
}

// DecodeArray decodes an AMQP field array: a sequence of tagged values.
func DecodeArray(data []byte) ([]any, error) {
	return decodeArray(data, 0)
}

func decodeArray(data []byte, depth int) ([]any, error) {
	if depth > maxNestingDepth {
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("array nesting exceeds %d levels", maxNestingDepth)}
	}

	arr := []any{}
	buf := bytes.NewReader(data)
	for buf.Len() > 0 {
		fieldType, err := buf.ReadByte()
		if err != nil {
			return nil, &MalformedFieldError{Reason: "truncated array element tag"}
		}
		value, err := decodeFieldValue(buf, fieldType, depth)
		if err != nil {
			return nil, err
		}
		arr = append(arr, value)
	}
	return arr, nil
}

// decodeFieldValue decodes one tagged field value from the reader.
func decodeFieldValue(buf *bytes.Reader, fieldType byte, depth int) (any, error) {
	switch fieldType {
	case 't':
		return DecodeBoolean(buf)

	case 'b': // Signed 8-bit integer
		var v int8
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated int8"}
		}
		return v, nil

	case 'B': // Unsigned 8-bit integer
		var v uint8
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated uint8"}
		}
		return v, nil

	case 'U': // Signed short integer (16-bit)
		var v int16
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated int16"}
		}
		return v, nil

	case 'u': // Unsigned short integer (16-bit)
		var v uint16
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated uint16"}
		}
		return v, nil

	case 'I': // Long-int (signed 32-bit)
		return DecodeLongInt(buf)

	case 'i': // Long-uint (unsigned 32-bit)
		return DecodeLongUInt(buf)

	case 'L': // Long long signed integer (64-bit)
		return DecodeLongLongInt(buf)

	case 'l': // Long long unsigned integer (64-bit)
		return DecodeLongLongUInt(buf)

	case 'f': // float (32-bit)
		var v float32
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated float32"}
		}
		return v, nil

	case 'd': // double (64-bit)
		var v float64
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated float64"}
		}
		return v, nil

	case 'D': // Decimal: 1 byte scale + 4 bytes value
		var scale uint8
		if err := binary.Read(buf, binary.BigEndian, &scale); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated decimal scale"}
		}
		var value uint32
		if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
			return nil, &MalformedFieldError{Reason: "truncated decimal value"}
		}
		return Decimal{Scale: scale, Value: value}, nil

	case 's': // Short String
		return DecodeShortStr(buf)

	case 'S': // Long String
		return DecodeLongStr(buf)

	case 'A': // Array
		data, err := readLongPrefixed(buf, "array")
		if err != nil {
			return nil, err
		}
		return decodeArray(data, depth+1)

	case 'T': // Timestamp
		return DecodeTimestamp(buf)

	case 'F': // Field Table
		data, err := readLongPrefixed(buf, "table")
		if err != nil {
			return nil, err
		}
		return decodeTable(data, depth+1)

	case 'V': // Void (null)
		return nil, nil

	default:
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("unknown field type tag: %c", fieldType)}
	}
}

// readLongPrefixed reads a 4-byte length prefix followed by that many bytes.
func readLongPrefixed(buf *bytes.Reader, what string) ([]byte, error) {
	var length uint32
	if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("truncated %s length prefix", what)}
	}
	if uint32(buf.Len()) < length {
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("%s length %d exceeds remaining buffer %d", what, length, buf.Len())}
	}
	data := make([]byte, length)
	if _, err := buf.Read(data); err != nil {
		return nil, &MalformedFieldError{Reason: fmt.Sprintf("truncated %s body", what)}
	}
	return data, nil
}

// DecodeTimestamp reads and decodes a 64-bit POSIX timestamp from a bytes.Reader
func DecodeTimestamp(buf *bytes.Reader) (time.Time, error) {
	var timestamp int64
	if err := binary.Read(buf, binary.BigEndian, &timestamp); err != nil {
		return time.Time{}, &MalformedFieldError{Reason: "truncated timestamp"}
	}
	return time.Unix(timestamp, 0), nil
}

func DecodeLongStr(buf *bytes.Reader) (string, error) {
	var strLen uint32
	if err := binary.Read(buf, binary.BigEndian, &strLen); err != nil {
		return "", &MalformedFieldError{Reason: "truncated longstr length prefix"}
	}

	if strLen == 0 {
		return "", nil
	}
	if uint32(buf.Len()) < strLen {
		return "", &MalformedFieldError{Reason: fmt.Sprintf("longstr length %d exceeds remaining buffer %d", strLen, buf.Len())}
	}

	strData := make([]byte, strLen)
	if _, err := buf.Read(strData); err != nil {
		return "", &MalformedFieldError{Reason: "truncated longstr body"}
	}
	return string(strData), nil
}

func DecodeShortStr(buf *bytes.Reader) (string, error) {
	strLen, err := buf.ReadByte()
	if err != nil {
		return "", &MalformedFieldError{Reason: "truncated shortstr length prefix"}
	}
	if strLen == 0 {
		return "", nil
	}
	if buf.Len() < int(strLen) {
		return "", &MalformedFieldError{Reason: fmt.Sprintf("shortstr length %d exceeds remaining buffer %d", strLen, buf.Len())}
	}

	strData := make([]byte, strLen)
	if _, err := buf.Read(strData); err != nil {
		return "", &MalformedFieldError{Reason: "truncated shortstr body"}
	}
	return string(strData), nil
}

func DecodeOctet(buf *bytes.Reader) (uint8, error) {
	value, err := buf.ReadByte()
	if err != nil {
		return 0, &MalformedFieldError{Reason: "truncated octet"}
	}
	return value, nil
}

func DecodeShortInt(buf *bytes.Reader) (uint16, error) {
	var value uint16
	if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
		return 0, &MalformedFieldError{Reason: "truncated short"}
	}
	return value, nil
}

func DecodeLongInt(buf *bytes.Reader) (int32, error) {
	var value int32
	if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
		return 0, &MalformedFieldError{Reason: "truncated long"}
	}
	return value, nil
}

func DecodeLongUInt(buf *bytes.Reader) (uint32, error) {
	var value uint32
	if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
		return 0, &MalformedFieldError{Reason: "truncated long"}
	}
	return value, nil
}

func DecodeLongLongInt(buf *bytes.Reader) (int64, error) {
	var value int64
	if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
		return 0, &MalformedFieldError{Reason: "truncated long-long"}
	}
	return value, nil
}

func DecodeLongLongUInt(buf *bytes.Reader) (uint64, error) {
	var value uint64
	if err := binary.Read(buf, binary.BigEndian, &value); err != nil {
		return 0, &MalformedFieldError{Reason: "truncated long-long"}
	}
	return value, nil
}

func DecodeBoolean(buf *bytes.Reader) (bool, error) {
	value, err := buf.ReadByte()
	if err != nil {
		return false, &MalformedFieldError{Reason: "truncated boolean"}
	}
	return value != 0, nil
}

// DecodeFlags decodes an octet into a map of flag names to boolean values.
func DecodeFlags(octet byte, flagNames []string, lsbFirst bool) map[string]bool {
	n := len(flagNames)
	if n > 8 {
		n = 8
	}
	flags := make(map[string]bool)
	for i := 0; i < n; i++ {
		bit := i
		if !lsbFirst {
			bit = 7 - i
		}
		flags[flagNames[i]] = (octet & (1 << uint(bit))) != 0
	}
	return flags
}
