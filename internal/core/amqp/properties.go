package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// BasicProperties are the optional content header fields of the basic class.
// Each set field occupies one bit of the 16-bit property-flags word, filled
// from bit 15 downward.
type BasicProperties struct {
	ContentType     ContentType    // shortstr
	ContentEncoding string         // shortstr
	Headers         map[string]any // table
	DeliveryMode    DeliveryMode   // octet (1=non-persistent, 2=persistent)
	Priority        uint8          // octet
	CorrelationID   string         // shortstr
	ReplyTo         string         // shortstr
	Expiration      string         // shortstr
	MessageID       string         // shortstr
	Timestamp       time.Time      // timestamp (64 bits)
	Type            string         // shortstr
	UserID          string         // shortstr
	AppID           string         // shortstr
	Reserved        string         // shortstr
}

func (props *BasicProperties) encodeProperties() ([]byte, uint16, error) {
	var buf bytes.Buffer
	var flags uint16

	if props.ContentType != "" {
		flags |= 1 << 15
		EncodeShortStr(&buf, string(props.ContentType))
	}
	if props.ContentEncoding != "" {
		flags |= 1 << 14
		EncodeShortStr(&buf, props.ContentEncoding)
	}
	if props.Headers != nil {
		flags |= 1 << 13
		EncodeLongStr(&buf, EncodeTable(props.Headers))
	}
	if props.DeliveryMode != 0 {
		flags |= 1 << 12
		if err := props.DeliveryMode.Validate(); err != nil {
			return nil, 0, err
		}
		_ = EncodeOctet(&buf, uint8(props.DeliveryMode))
	}
	if props.Priority != 0 {
		flags |= 1 << 11
		_ = EncodeOctet(&buf, props.Priority)
	}
	if props.CorrelationID != "" {
		flags |= 1 << 10
		EncodeShortStr(&buf, props.CorrelationID)
	}
	if props.ReplyTo != "" {
		flags |= 1 << 9
		EncodeShortStr(&buf, props.ReplyTo)
	}
	if props.Expiration != "" {
		flags |= 1 << 8
		EncodeShortStr(&buf, props.Expiration)
	}
	if props.MessageID != "" {
		flags |= 1 << 7
		EncodeShortStr(&buf, props.MessageID)
	}
	if !props.Timestamp.IsZero() {
		flags |= 1 << 6
		if err := EncodeTimestamp(&buf, props.Timestamp); err != nil {
			return nil, 0, err
		}
	}
	if props.Type != "" {
		flags |= 1 << 5
		EncodeShortStr(&buf, props.Type)
	}
	if props.UserID != "" {
		flags |= 1 << 4
		EncodeShortStr(&buf, props.UserID)
	}
	if props.AppID != "" {
		flags |= 1 << 3
		EncodeShortStr(&buf, props.AppID)
	}
	if props.Reserved != "" {
		flags |= 1 << 2
		EncodeShortStr(&buf, props.Reserved)
	}
	return buf.Bytes(), flags, nil
}

// ContentHeader is the decoded payload of a HEADER frame: which class
// produced the content, the declared total body size and the property set.
type ContentHeader struct {
	ClassID    uint16
	BodySize   uint64
	Properties BasicProperties
}

// EncodeContentHeaderPayload serializes a HEADER frame payload:
// class-id short, weight short (always 0), body-size long-long,
// property-flags short, property list.
func EncodeContentHeaderPayload(classID uint16, bodySize uint64, props *BasicProperties) ([]byte, error) {
	var payloadBuf bytes.Buffer

	propList, flags, err := props.encodeProperties()
	if err != nil {
		return nil, err
	}

	_ = binary.Write(&payloadBuf, binary.BigEndian, classID)
	_ = binary.Write(&payloadBuf, binary.BigEndian, uint16(0)) // weight must be zero
	_ = binary.Write(&payloadBuf, binary.BigEndian, bodySize)
	_ = binary.Write(&payloadBuf, binary.BigEndian, flags)
	payloadBuf.Write(propList)

	return payloadBuf.Bytes(), nil
}

// DecodeContentHeaderPayload parses a HEADER frame payload.
func DecodeContentHeaderPayload(payload []byte) (*ContentHeader, error) {
	buf := bytes.NewReader(payload)

	classID, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode class ID: %v", err)
	}

	weight, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode weight: %v", err)
	}
	if weight != 0 {
		return nil, fmt.Errorf("weight must be 0, got %d", weight)
	}

	bodySize, err := DecodeLongLongUInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode body size: %v", err)
	}

	flags, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode property flags: %v", err)
	}

	props, err := decodeProperties(flags, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode properties: %v", err)
	}

	return &ContentHeader{
		ClassID:    classID,
		BodySize:   bodySize,
		Properties: props,
	}, nil
}

func decodeProperties(flags uint16, buf *bytes.Reader) (BasicProperties, error) {
	var props BasicProperties
	var err error

	if flags&(1<<15) != 0 {
		var s string
		if s, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
		props.ContentType = ContentType(s)
	}
	if flags&(1<<14) != 0 {
		if props.ContentEncoding, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<13) != 0 {
		var data string
		if data, err = DecodeLongStr(buf); err != nil {
			return props, err
		}
		if props.Headers, err = DecodeTable([]byte(data)); err != nil {
			return props, err
		}
	}
	if flags&(1<<12) != 0 {
		var mode uint8
		if mode, err = DecodeOctet(buf); err != nil {
			return props, err
		}
		props.DeliveryMode = DeliveryMode(mode)
	}
	if flags&(1<<11) != 0 {
		if props.Priority, err = DecodeOctet(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<10) != 0 {
		if props.CorrelationID, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<9) != 0 {
		if props.ReplyTo, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<8) != 0 {
		if props.Expiration, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<7) != 0 {
		if props.MessageID, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<6) != 0 {
		if props.Timestamp, err = DecodeTimestamp(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<5) != 0 {
		if props.Type, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<4) != 0 {
		if props.UserID, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<3) != 0 {
		if props.AppID, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	if flags&(1<<2) != 0 {
		if props.Reserved, err = DecodeShortStr(buf); err != nil {
			return props, err
		}
	}
	return props, nil
}
