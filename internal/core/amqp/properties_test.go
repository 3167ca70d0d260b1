package amqp

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
	"time"
)

func TestContentHeaderRoundTrip(t *testing.T) {
	props := BasicProperties{
		ContentType:   APPLICATION_JSON,
		DeliveryMode:  PERSISTENT,
		Priority:      5,
		CorrelationID: "corr-1",
		ReplyTo:       "replies",
		MessageID:     "msg-1",
		Timestamp:     time.Unix(1700000000, 0),
		Headers:       map[string]any{"x-retry": int32(3)},
		AppID:         "otterwire",
	}

	payload, err := EncodeContentHeaderPayload(uint16(BASIC), 1024, &props)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	header, err := DecodeContentHeaderPayload(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if header.ClassID != uint16(BASIC) {
		t.Errorf("class ID: got %d want %d", header.ClassID, uint16(BASIC))
	}
	if header.BodySize != 1024 {
		t.Errorf("body size: got %d want 1024", header.BodySize)
	}
	if !reflect.DeepEqual(header.Properties, props) {
		t.Errorf("properties mismatch:\n got %#v\nwant %#v", header.Properties, props)
	}
}

func TestContentHeaderEmptyProperties(t *testing.T) {
	payload, err := EncodeContentHeaderPayload(uint16(BASIC), 0, &BasicProperties{})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// class:2 weight:2 body-size:8 flags:2 and no property list.
	if len(payload) != 14 {
		t.Errorf("payload length: got %d want 14", len(payload))
	}
	flags := binary.BigEndian.Uint16(payload[12:14])
	if flags != 0 {
		t.Errorf("flags: got %04X want 0", flags)
	}
}

func TestPropertyFlagsFillFromBit15(t *testing.T) {
	payload, err := EncodeContentHeaderPayload(uint16(BASIC), 0, &BasicProperties{
		ContentType: TEXT_PLAIN,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	flags := binary.BigEndian.Uint16(payload[12:14])
	if flags != 1<<15 {
		t.Errorf("content-type flag: got %04X want %04X", flags, 1<<15)
	}
	propList := payload[14:]
	want := append([]byte{byte(len(TEXT_PLAIN))}, []byte(TEXT_PLAIN)...)
	if !bytes.Equal(propList, want) {
		t.Errorf("property list: got %x want %x", propList, want)
	}
}

func TestContentHeaderRejectsNonZeroWeight(t *testing.T) {
	payload, err := EncodeContentHeaderPayload(uint16(BASIC), 0, &BasicProperties{})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	binary.BigEndian.PutUint16(payload[2:4], 1)
	if _, err := DecodeContentHeaderPayload(payload); err == nil {
		t.Error("non-zero weight should fail")
	}
}

func TestContentHeaderTruncated(t *testing.T) {
	payload, err := EncodeContentHeaderPayload(uint16(BASIC), 10, &BasicProperties{MessageID: "m"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := DecodeContentHeaderPayload(payload[:len(payload)-1]); err == nil {
		t.Error("truncated property list should fail")
	}
}
