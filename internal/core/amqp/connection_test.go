package amqp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otterwire/otterwire/internal/core/amqp"
	"github.com/otterwire/otterwire/internal/testutil"
)

func waitWritable(t *testing.T, c *amqp.Connection) {
	t.Helper()
	select {
	case <-c.WriteReady():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound bytes")
	}
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

// drainFrames parses everything pending on the wire into frames.
func drainFrames(t *testing.T, c *amqp.Connection) []amqp.Frame {
	t.Helper()
	buf := c.Drain()
	var frames []amqp.Frame
	for len(buf) > 0 {
		frame, consumed, err := amqp.DecodeFrame(buf, 0)
		require.NoError(t, err)
		frames = append(frames, frame)
		buf = buf[consumed:]
	}
	return frames
}

func drainMethods(t *testing.T, c *amqp.Connection) []amqp.Method {
	t.Helper()
	var methods []amqp.Method
	for _, frame := range drainFrames(t, c) {
		if frame.Type != amqp.TYPE_METHOD {
			continue
		}
		m, err := amqp.DecodeMethodPayload(frame.Payload)
		require.NoError(t, err)
		methods = append(methods, m)
	}
	return methods
}

func feed(t *testing.T, c *amqp.Connection, data []byte) []amqp.Event {
	t.Helper()
	events, err := c.Feed(data)
	require.NoError(t, err)
	return events
}

func testConfig() amqp.ConnectionConfig {
	return amqp.ConnectionConfig{
		Username:   "guest",
		Password:   "guest",
		Vhost:      "/",
		ChannelMax: 128,
		FrameMax:   65536,
		Heartbeat:  10,
	}
}

// openedConnection drives a full scripted handshake and returns the engine
// in the OPEN state.
func openedConnection(t *testing.T) *amqp.Connection {
	t.Helper()
	c := amqp.NewConnection(testConfig())

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background()) }()

	waitWritable(t, c)
	require.Equal(t, amqp.ProtocolHeader, c.Drain())

	feed(t, c, testutil.ConnectionStart())
	feed(t, c, testutil.ConnectionTune(0, 131072, 60))
	c.Drain()
	events := feed(t, c, testutil.ConnectionOpenOk())

	require.Len(t, events, 1)
	require.IsType(t, amqp.ConnectionOpened{}, events[0])
	require.NoError(t, waitErr(t, done))
	require.Equal(t, amqp.StateOpen, c.State())
	return c
}

func TestHandshake(t *testing.T) {
	c := amqp.NewConnection(testConfig())

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background()) }()

	waitWritable(t, c)
	require.Equal(t, amqp.ProtocolHeader, c.Drain())

	feed(t, c, testutil.ConnectionStart())
	methods := drainMethods(t, c)
	require.Len(t, methods, 1)
	startOk := methods[0]
	assert.Equal(t, uint16(amqp.CONNECTION), startOk.ClassID)
	assert.Equal(t, uint16(amqp.CONNECTION_START_OK), startOk.MethodID)
	assert.Equal(t, "PLAIN", startOk.Args[1])
	assert.Equal(t, "\x00guest\x00guest", startOk.Args[2])

	feed(t, c, testutil.ConnectionTune(0, 131072, 60))
	methods = drainMethods(t, c)
	require.Len(t, methods, 2)

	tuneOk := methods[0]
	assert.Equal(t, uint16(amqp.CONNECTION_TUNE_OK), tuneOk.MethodID)
	assert.Equal(t, uint16(128), tuneOk.Args[0], "client channel-max wins when broker defers")
	assert.Equal(t, uint32(65536), tuneOk.Args[1], "smaller frame-max wins")
	assert.Equal(t, uint16(10), tuneOk.Args[2], "smaller heartbeat wins")

	open := methods[1]
	assert.Equal(t, uint16(amqp.CONNECTION_OPEN), open.MethodID)
	assert.Equal(t, "/", open.Args[0])

	events := feed(t, c, testutil.ConnectionOpenOk())
	require.Len(t, events, 1)
	opened := events[0].(amqp.ConnectionOpened)
	assert.Equal(t, uint32(65536), opened.FrameMax)
	assert.Equal(t, uint16(10), opened.Heartbeat)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, amqp.StateOpen, c.State())
	assert.Equal(t, 10*time.Second, c.HeartbeatInterval())
}

func TestHandshakeChunked(t *testing.T) {
	c := amqp.NewConnection(testConfig())

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background()) }()

	waitWritable(t, c)
	c.Drain()

	var script []byte
	script = append(script, testutil.ConnectionStart()...)
	script = append(script, testutil.ConnectionTune(0, 131072, 60)...)
	script = append(script, testutil.ConnectionOpenOk()...)

	// One byte at a time; frame boundaries must not matter.
	var events []amqp.Event
	for _, b := range script {
		events = append(events, feed(t, c, []byte{b})...)
	}

	require.Len(t, events, 1)
	require.IsType(t, amqp.ConnectionOpened{}, events[0])
	require.NoError(t, waitErr(t, done))
}

func TestTuneAllZeroDefersToBroker(t *testing.T) {
	c := amqp.NewConnection(amqp.ConnectionConfig{Username: "guest", Password: "guest"})

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background()) }()

	waitWritable(t, c)
	c.Drain()
	feed(t, c, testutil.ConnectionStart())
	c.Drain()
	feed(t, c, testutil.ConnectionTune(2047, 131072, 60))

	methods := drainMethods(t, c)
	require.Len(t, methods, 2)
	tuneOk := methods[0]
	assert.Equal(t, uint16(2047), tuneOk.Args[0])
	assert.Equal(t, uint32(131072), tuneOk.Args[1])
	assert.Equal(t, uint16(60), tuneOk.Args[2])

	feed(t, c, testutil.ConnectionOpenOk())
	require.NoError(t, waitErr(t, done))
}

func TestBrokerClose(t *testing.T) {
	c := openedConnection(t)

	events := feed(t, c, testutil.ConnectionClose(uint16(amqp.CONNECTION_FORCED), "shutting down"))

	require.Len(t, events, 1)
	closed := events[0].(amqp.ConnectionClosed)
	assert.Equal(t, uint16(amqp.CONNECTION_FORCED), closed.ReplyCode)
	assert.Equal(t, "shutting down", closed.ReplyText)
	assert.Error(t, closed.Err)

	methods := drainMethods(t, c)
	require.Len(t, methods, 1)
	assert.Equal(t, uint16(amqp.CONNECTION_CLOSE_OK), methods[0].MethodID)

	assert.Equal(t, amqp.StateClosed, c.State())
	_, err := c.Feed(testutil.HeartbeatFrame())
	assert.ErrorIs(t, err, amqp.ErrConnectionClosed)
}

func TestLocalClose(t *testing.T) {
	c := openedConnection(t)

	done := make(chan error, 1)
	go func() { done <- c.Close(context.Background(), uint16(amqp.REPLY_SUCCESS), "bye") }()

	waitWritable(t, c)
	methods := drainMethods(t, c)
	require.Len(t, methods, 1)
	assert.Equal(t, uint16(amqp.CONNECTION_CLOSE), methods[0].MethodID)
	assert.Equal(t, uint16(amqp.REPLY_SUCCESS), methods[0].Args[0])

	events := feed(t, c, testutil.ConnectionCloseOk())
	require.NoError(t, waitErr(t, done))
	require.Len(t, events, 1)
	closed := events[0].(amqp.ConnectionClosed)
	assert.Equal(t, uint16(amqp.REPLY_SUCCESS), closed.ReplyCode)
	assert.NoError(t, closed.Err)
	assert.Equal(t, amqp.StateClosed, c.State())
}

func TestUnknownChannelIsFatal(t *testing.T) {
	c := openedConnection(t)

	_, err := c.Feed(testutil.ChannelCloseOk(7))
	require.Error(t, err)
	assert.Equal(t, amqp.StateFailed, c.State())

	// The engine queues a best-effort Connection.Close naming the fault.
	methods := drainMethods(t, c)
	require.Len(t, methods, 1)
	assert.Equal(t, uint16(amqp.CONNECTION_CLOSE), methods[0].MethodID)
	assert.Equal(t, uint16(amqp.CHANNEL_ERROR), methods[0].Args[0])
}

func TestCorruptFrameIsFatal(t *testing.T) {
	c := openedConnection(t)

	bad := testutil.HeartbeatFrame()
	bad[len(bad)-1] = 0x00
	events, err := c.Feed(bad)
	require.Error(t, err)
	assert.Equal(t, amqp.StateFailed, c.State())

	require.NotEmpty(t, events)
	closed := events[len(events)-1].(amqp.ConnectionClosed)
	assert.Equal(t, uint16(amqp.FRAME_ERROR), closed.ReplyCode)
}

func TestTickSendsHeartbeat(t *testing.T) {
	c := openedConnection(t)
	c.Drain()

	events := c.Tick(time.Now().Add(11 * time.Second))
	assert.Empty(t, events)

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, amqp.TYPE_HEARTBEAT, frames[0].Type)
	assert.Equal(t, uint16(0), frames[0].Channel)
}

func TestHeartbeatTimeoutFailsConnection(t *testing.T) {
	c := openedConnection(t)

	events := c.Tick(time.Now().Add(21 * time.Second))

	require.NotEmpty(t, events)
	closed := events[len(events)-1].(amqp.ConnectionClosed)
	assert.Error(t, closed.Err)
	assert.Contains(t, closed.Err.Error(), "heartbeat timeout")
	assert.Equal(t, amqp.StateFailed, c.State())
}

func TestInboundTrafficResetsHeartbeat(t *testing.T) {
	c := openedConnection(t)

	feed(t, c, testutil.HeartbeatFrame())
	events := c.Tick(time.Now().Add(15 * time.Second))

	for _, ev := range events {
		_, isClosed := ev.(amqp.ConnectionClosed)
		assert.False(t, isClosed, "heartbeat frame should have reset the liveness timer")
	}
	assert.NotEqual(t, amqp.StateFailed, c.State())
}

func TestOpenTwice(t *testing.T) {
	c := openedConnection(t)
	assert.Error(t, c.Open(context.Background()))
}
