package amqp

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	original := Frame{Type: TYPE_METHOD, Channel: 3, Payload: []byte{0x00, 0x0A, 0x00, 0x0A}}
	encoded := EncodeFrame(original)

	decoded, consumed, err := DecodeFrame(encoded, 0)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if consumed != len(encoded) {
		t.Errorf("consumed %d bytes, want %d", consumed, len(encoded))
	}
	if decoded.Type != original.Type || decoded.Channel != original.Channel {
		t.Errorf("envelope mismatch: got %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload mismatch: got %x want %x", decoded.Payload, original.Payload)
	}
}

func TestFrameKnownBytes(t *testing.T) {
	// Heartbeat: type 8, channel 0, empty payload, frame-end.
	want := []byte{8, 0, 0, 0, 0, 0, 0, 0xCE}
	got := EncodeFrame(Frame{Type: TYPE_HEARTBEAT, Channel: 0})
	if !bytes.Equal(got, want) {
		t.Errorf("heartbeat frame: got %x want %x", got, want)
	}
	if !bytes.Equal(createHeartbeatFrame(), want) {
		t.Errorf("createHeartbeatFrame: got %x want %x", createHeartbeatFrame(), want)
	}
}

func TestDecodeFrameIncremental(t *testing.T) {
	encoded := EncodeFrame(Frame{Type: TYPE_BODY, Channel: 1, Payload: []byte("payload bytes")})

	// Every proper prefix must ask for more data, regardless of where
	// the split lands.
	for cut := 0; cut < len(encoded); cut++ {
		if _, _, err := DecodeFrame(encoded[:cut], 0); err != ErrNeedMoreData {
			t.Errorf("prefix of %d bytes: got %v, want ErrNeedMoreData", cut, err)
		}
	}
}

func TestDecodeFrameStream(t *testing.T) {
	var stream []byte
	frames := []Frame{
		{Type: TYPE_METHOD, Channel: 1, Payload: []byte{0, 20, 0, 11, 0, 0, 0, 0}},
		{Type: TYPE_HEARTBEAT, Channel: 0},
		{Type: TYPE_BODY, Channel: 1, Payload: []byte("abc")},
	}
	for _, f := range frames {
		stream = append(stream, EncodeFrame(f)...)
	}

	var decoded []Frame
	for len(stream) > 0 {
		f, consumed, err := DecodeFrame(stream, 0)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		decoded = append(decoded, f)
		stream = stream[consumed:]
	}
	if len(decoded) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(decoded), len(frames))
	}
	for i, f := range decoded {
		if f.Type != frames[i].Type || f.Channel != frames[i].Channel {
			t.Errorf("frame %d envelope mismatch: got %+v", i, f)
		}
	}
}

func TestDecodeFrameBadEndOctet(t *testing.T) {
	encoded := EncodeFrame(Frame{Type: TYPE_METHOD, Channel: 0, Payload: []byte{1}})
	encoded[len(encoded)-1] = 0x00

	_, _, err := DecodeFrame(encoded, 0)
	if _, ok := err.(*FrameFormatError); !ok {
		t.Errorf("got %v, want FrameFormatError", err)
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	encoded := EncodeFrame(Frame{Type: TYPE_METHOD, Channel: 0, Payload: []byte{1}})
	encoded[0] = 9

	_, _, err := DecodeFrame(encoded, 0)
	if _, ok := err.(*FrameFormatError); !ok {
		t.Errorf("got %v, want FrameFormatError", err)
	}
}

func TestDecodeFrameOversize(t *testing.T) {
	payload := make([]byte, FRAME_MIN_SIZE)
	encoded := EncodeFrame(Frame{Type: TYPE_BODY, Channel: 1, Payload: payload})

	if _, _, err := DecodeFrame(encoded, 0); err != nil {
		t.Errorf("frame-max 0 disables the size check, got %v", err)
	}
	_, _, err := DecodeFrame(encoded, FRAME_MIN_SIZE)
	if _, ok := err.(*FrameFormatError); !ok {
		t.Errorf("got %v, want FrameFormatError for oversize payload", err)
	}
}

func TestDecodeFramePayloadIsCopied(t *testing.T) {
	encoded := EncodeFrame(Frame{Type: TYPE_BODY, Channel: 1, Payload: []byte("abc")})
	decoded, _, err := DecodeFrame(encoded, 0)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	encoded[frameHeaderSize] = 'x'
	if !bytes.Equal(decoded.Payload, []byte("abc")) {
		t.Error("decoded payload aliases the input buffer")
	}
}
