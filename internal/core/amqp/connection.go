package amqp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	amqperr "github.com/otterwire/otterwire/internal/core/amqp/errors"
)

type ConnectionState uint8

const (
	StateInit ConnectionState = iota
	StateStarting
	StateTuning
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (cs ConnectionState) String() string {
	return []string{"INIT", "STARTING", "TUNING", "OPEN", "CLOSING", "CLOSED", "FAILED"}[cs]
}

// ConnectionConfig carries the client's credentials and tuning proposals.
// A zero tuning value defers to whatever the broker proposes.
type ConnectionConfig struct {
	Username   string
	Password   string
	Vhost      string
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
	Locale     string
	Properties map[string]any

	// OnPublish, when set, runs after each Basic.Publish is queued for the
	// wire. The transport uses it to feed its counters.
	OnPublish func()
}

func (cfg *ConnectionConfig) applyDefaults() {
	if cfg.Vhost == "" {
		cfg.Vhost = "/"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_US"
	}
}

// Connection is the protocol engine. It performs no I/O of its own: the
// transport feeds inbound bytes through Feed and drains outbound bytes
// through Drain, pumping whenever WriteReady signals. Time enters only
// through Tick.
//
// A single mutex guards all engine state; Feed, Drain, Tick and the
// channel operations may be called from any goroutine.
type Connection struct {
	mu  sync.Mutex
	cfg ConnectionConfig

	state ConnectionState
	in    []byte
	out   []byte

	writable chan struct{}

	channels      map[uint16]*Channel
	nextChannelID uint16

	channelMax uint16
	frameMax   uint32
	heartbeat  uint16

	serverProperties map[string]any

	hb  *heartbeatMonitor
	now func() time.Time

	events []Event

	openDone  chan error
	closeDone chan error
	closeCode uint16
	closeText string
}

func NewConnection(cfg ConnectionConfig) *Connection {
	cfg.applyDefaults()
	now := time.Now
	return &Connection{
		cfg:           cfg,
		state:         StateInit,
		writable:      make(chan struct{}, 1),
		channels:      make(map[uint16]*Channel),
		nextChannelID: 1,
		hb:            newHeartbeatMonitor(0, now()),
		now:           now,
	}
}

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerProperties returns the property table the broker announced in
// Connection.Start. Nil until the handshake has begun.
func (c *Connection) ServerProperties() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverProperties
}

// FrameMax returns the negotiated maximum frame size. Zero means the
// handshake has not reached tuning yet or no limit was agreed.
func (c *Connection) FrameMax() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameMax
}

// HeartbeatInterval returns the negotiated heartbeat interval. Zero
// disables heartbeating.
func (c *Connection) HeartbeatInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.heartbeat) * time.Second
}

// WriteReady signals whenever Drain has bytes available. The channel is
// buffered and coalescing; one receive may cover many writes.
func (c *Connection) WriteReady() <-chan struct{} {
	return c.writable
}

// Drain removes and returns all pending outbound bytes.
func (c *Connection) Drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 {
		return nil
	}
	out := c.out
	c.out = nil
	// The buffer is now empty; clear any pending readiness token so
	// WriteReady only signals while Drain has bytes available.
	select {
	case <-c.writable:
	default:
	}
	return out
}

func (c *Connection) notifyWritable() {
	select {
	case c.writable <- struct{}{}:
	default:
	}
}

// Open queues the protocol preamble and blocks until the handshake
// completes or fails. The transport must be pumping Feed and Drain for
// Open to make progress.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInit {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connection already started (state %s)", state)
	}
	c.state = StateStarting
	done := make(chan error, 1)
	c.openDone = done
	c.out = append(c.out, ProtocolHeader...)
	c.hb.observeSend(c.now())
	c.mu.Unlock()
	c.notifyWritable()

	log.Debug().Msg("Protocol header sent, awaiting Connection.Start")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close performs the orderly Connection.Close handshake and blocks until
// the broker acknowledges or ctx is done.
func (c *Connection) Close(ctx context.Context, code uint16, text string) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateFailed:
		c.mu.Unlock()
		return nil
	case StateInit:
		c.state = StateClosed
		c.mu.Unlock()
		return nil
	case StateClosing:
		done := c.closeDone
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}

	done := make(chan error, 1)
	c.closeDone = done
	c.closeCode = code
	c.closeText = text
	if err := c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_CLOSE),
		code, text, uint16(0), uint16(0))); err != nil {
		c.closeDone = nil
		c.mu.Unlock()
		return err
	}
	// Channels are quiesced, not yet torn down: while CLOSING,
	// sendableLocked refuses new channel traffic and inbound channel
	// frames are dropped, so nothing observable happens on them until
	// CloseOk lands and finishCloseLocked resets them all.
	c.state = StateClosing
	c.mu.Unlock()
	c.notifyWritable()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Channel opens a new channel on the connection, performing the
// Channel.Open handshake before returning.
func (c *Connection) Channel(ctx context.Context) (*Channel, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	id, err := c.allocateChannelIDLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch := newChannel(c, id)
	ch.state = ChannelStateOpening
	c.channels[id] = ch
	c.mu.Unlock()

	if err := ch.open(ctx); err != nil {
		c.mu.Lock()
		if c.channels[id] == ch && ch.state != ChannelStateClosing {
			delete(c.channels, id)
		}
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (c *Connection) allocateChannelIDLocked() (uint16, error) {
	max := c.channelMax
	if max == 0 {
		max = 65535
	}
	if len(c.channels) >= int(max) {
		return 0, fmt.Errorf("channel-max %d exhausted", max)
	}
	for {
		id := c.nextChannelID
		c.nextChannelID++
		if c.nextChannelID > max {
			c.nextChannelID = 1
		}
		if id != 0 && c.channels[id] == nil {
			return id, nil
		}
	}
}

// Feed ingests inbound bytes and advances the state machine, returning
// the protocol events the bytes produced. A non-nil error means the
// connection detected a protocol violation and is dead; the transport
// should stop reading and check Drain for the final Connection.Close.
func (c *Connection) Feed(data []byte) ([]Event, error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFailed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	c.in = append(c.in, data...)
	c.hb.observeRecv(c.now())

	var fatal error
	for fatal == nil {
		frame, consumed, err := DecodeFrame(c.in, c.frameMax)
		if err == ErrNeedMoreData {
			break
		}
		if err != nil {
			fatal = err
			break
		}
		c.in = c.in[consumed:]
		fatal = c.handleFrameLocked(frame)
		if c.state == StateClosed || c.state == StateFailed {
			break
		}
	}

	if fatal != nil {
		c.failLocked(fatal)
	}
	events := c.takeEventsLocked()
	hasOutput := len(c.out) > 0
	c.mu.Unlock()

	if hasOutput {
		c.notifyWritable()
	}
	return events, fatal
}

// Tick advances heartbeat bookkeeping. The transport should call it about
// twice per heartbeat interval.
func (c *Connection) Tick(now time.Time) []Event {
	c.mu.Lock()
	switch c.state {
	case StateInit, StateClosed, StateFailed:
		events := c.takeEventsLocked()
		c.mu.Unlock()
		return events
	}

	if c.hb.expired(now) {
		c.failLocked(fmt.Errorf("heartbeat timeout: no traffic from broker in %s", 2*c.hb.interval))
	} else if c.hb.shouldSend(now) {
		c.out = append(c.out, createHeartbeatFrame()...)
		c.hb.observeSend(now)
	}

	events := c.takeEventsLocked()
	hasOutput := len(c.out) > 0
	c.mu.Unlock()

	if hasOutput {
		c.notifyWritable()
	}
	return events
}

func (c *Connection) emitLocked(ev Event) {
	c.events = append(c.events, ev)
}

func (c *Connection) takeEventsLocked() []Event {
	events := c.events
	c.events = nil
	return events
}

func (c *Connection) writeFrameLocked(frameType FrameType, channel uint16, payload []byte) {
	c.out = append(c.out, EncodeFrame(Frame{Type: frameType, Channel: channel, Payload: payload})...)
	c.hb.observeSend(c.now())
}

func (c *Connection) writeMethodLocked(channel uint16, m Method) error {
	payload, err := EncodeMethodPayload(m)
	if err != nil {
		return err
	}
	c.writeFrameLocked(TYPE_METHOD, channel, payload)
	return nil
}

func (c *Connection) handleFrameLocked(frame Frame) error {
	if frame.Type == TYPE_HEARTBEAT {
		if frame.Channel != 0 {
			return &FrameFormatError{Reason: fmt.Sprintf("heartbeat frame on channel %d", frame.Channel)}
		}
		// Traffic already observed; nothing else to do.
		return nil
	}

	if frame.Channel == 0 {
		if frame.Type != TYPE_METHOD {
			return &FrameFormatError{Reason: fmt.Sprintf("%s frame on channel 0", frame.Type)}
		}
		m, err := DecodeMethodPayload(frame.Payload)
		if err != nil {
			return err
		}
		return c.handleConnectionMethodLocked(m)
	}

	switch c.state {
	case StateOpen:
	case StateClosing:
		// Channel traffic racing our Connection.Close is dropped.
		return nil
	default:
		return amqperr.NewConnectionError(
			COMMAND_INVALID.Format(fmt.Sprintf("frame on channel %d before connection open", frame.Channel)),
			uint16(COMMAND_INVALID), 0, 0)
	}

	ch := c.channels[frame.Channel]
	if ch == nil {
		return amqperr.NewConnectionError(
			CHANNEL_ERROR.Format(fmt.Sprintf("frame on unknown channel %d", frame.Channel)),
			uint16(CHANNEL_ERROR), 0, 0)
	}
	return ch.handleFrame(frame)
}

func (c *Connection) handleConnectionMethodLocked(m Method) error {
	switch {
	case m.is(CONNECTION, uint16(CONNECTION_CLOSE)):
		return c.handleBrokerCloseLocked(m)
	case m.is(CONNECTION, uint16(CONNECTION_CLOSE_OK)):
		if c.state != StateClosing {
			return c.commandInvalid(m, "Connection.CloseOk without a pending close")
		}
		c.finishCloseLocked(c.closeCode, c.closeText, nil)
		return nil
	}

	switch c.state {
	case StateStarting:
		switch {
		case m.is(CONNECTION, uint16(CONNECTION_START)):
			return c.handleStartLocked(m)
		case m.is(CONNECTION, uint16(CONNECTION_SECURE)):
			return c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_SECURE_OK),
				EncodeSecurityPlain(c.cfg.Username, c.cfg.Password)))
		case m.is(CONNECTION, uint16(CONNECTION_TUNE)):
			return c.handleTuneLocked(m)
		}
	case StateTuning:
		if m.is(CONNECTION, uint16(CONNECTION_OPEN_OK)) {
			return c.handleOpenOkLocked()
		}
	}
	return c.commandInvalid(m, fmt.Sprintf("%s in state %s", m.Name(), c.state))
}

func (c *Connection) commandInvalid(m Method, reason string) error {
	return amqperr.NewConnectionError(
		COMMAND_INVALID.Format(reason), uint16(COMMAND_INVALID), m.ClassID, m.MethodID)
}

func (c *Connection) handleStartLocked(m Method) error {
	major, minor := m.octetArg(0), m.octetArg(1)
	if major != 0 || minor != 9 {
		return amqperr.NewConnectionError(
			NOT_IMPLEMENTED.Format(fmt.Sprintf("broker speaks protocol %d-%d", major, minor)),
			uint16(NOT_IMPLEMENTED), m.ClassID, m.MethodID)
	}
	mechanisms := m.stringArg(3)
	if !containsToken(mechanisms, "PLAIN") {
		return amqperr.NewConnectionError(
			NOT_IMPLEMENTED.Format(fmt.Sprintf("no supported auth mechanism in %q", mechanisms)),
			uint16(NOT_IMPLEMENTED), m.ClassID, m.MethodID)
	}
	c.serverProperties = m.tableArg(2)

	log.Debug().
		Str("mechanisms", mechanisms).
		Msg("Connection.Start received")

	return c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_START_OK),
		c.clientProperties(), "PLAIN",
		EncodeSecurityPlain(c.cfg.Username, c.cfg.Password), c.cfg.Locale))
}

func (c *Connection) clientProperties() map[string]any {
	props := map[string]any{
		"product":  "otterwire",
		"version":  "0.1.0",
		"platform": "golang",
		"capabilities": map[string]any{
			"publisher_confirms":     true,
			"basic.nack":             true,
			"consumer_cancel_notify": true,
		},
	}
	for k, v := range c.cfg.Properties {
		props[k] = v
	}
	return props
}

func (c *Connection) handleTuneLocked(m Method) error {
	c.channelMax = negotiateShort(c.cfg.ChannelMax, m.shortArg(0))
	c.frameMax = negotiateLong(c.cfg.FrameMax, m.longArg(1))
	c.heartbeat = negotiateShort(c.cfg.Heartbeat, m.shortArg(2))

	if c.frameMax != 0 && c.frameMax < FRAME_MIN_SIZE {
		return amqperr.NewConnectionError(
			NOT_ALLOWED.Format(fmt.Sprintf("negotiated frame-max %d below minimum %d", c.frameMax, FRAME_MIN_SIZE)),
			uint16(NOT_ALLOWED), m.ClassID, m.MethodID)
	}

	c.hb = newHeartbeatMonitor(c.heartbeat, c.now())

	log.Debug().
		Uint16("channel_max", c.channelMax).
		Uint32("frame_max", c.frameMax).
		Uint16("heartbeat", c.heartbeat).
		Msg("Tuning negotiated")

	if err := c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_TUNE_OK),
		c.channelMax, c.frameMax, c.heartbeat)); err != nil {
		return err
	}
	if err := c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_OPEN),
		c.cfg.Vhost, "", false)); err != nil {
		return err
	}
	c.state = StateTuning
	return nil
}

func (c *Connection) handleOpenOkLocked() error {
	c.state = StateOpen
	log.Info().
		Str("vhost", c.cfg.Vhost).
		Msg("Connection open")
	c.emitLocked(ConnectionOpened{
		ServerProperties: c.serverProperties,
		ChannelMax:       c.channelMax,
		FrameMax:         c.frameMax,
		Heartbeat:        c.heartbeat,
	})
	if done := c.openDone; done != nil {
		c.openDone = nil
		done <- nil
	}
	return nil
}

func (c *Connection) handleBrokerCloseLocked(m Method) error {
	code := m.shortArg(0)
	text := m.stringArg(1)
	log.Warn().
		Uint16("reply_code", code).
		Str("reply_text", text).
		Msg("Connection closed by broker")

	err := amqperr.NewConnectionError(text, code, m.shortArg(2), m.shortArg(3))
	if werr := c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_CLOSE_OK))); werr != nil {
		return werr
	}
	c.finishCloseLocked(code, text, err)
	return nil
}

// finishCloseLocked moves the connection to CLOSED after a completed close
// handshake, in either direction. err is nil for a locally requested close.
func (c *Connection) finishCloseLocked(code uint16, text string, err error) {
	c.state = StateClosed
	c.teardownChannelsLocked(code, text, errOrClosed(err))
	c.resolveWaitersLocked(err)
	c.emitLocked(ConnectionClosed{ReplyCode: code, ReplyText: text, Err: err})
}

// failLocked moves the connection to FAILED after a protocol violation or
// heartbeat timeout. A best-effort Connection.Close is queued so the
// transport can notify the broker before disconnecting.
func (c *Connection) failLocked(cause error) {
	if c.state == StateClosed || c.state == StateFailed {
		return
	}

	code := uint16(INTERNAL_ERROR)
	text := cause.Error()
	var classID, methodID uint16
	switch e := cause.(type) {
	case amqperr.AMQPError:
		code = e.ReplyCode()
		text = e.ReplyText()
		classID = e.ClassID()
		methodID = e.MethodID()
	case *FrameFormatError:
		code = uint16(FRAME_ERROR)
	case *MalformedFieldError:
		code = uint16(SYNTAX_ERROR)
	case *UnknownMethodError:
		code = uint16(COMMAND_INVALID)
		classID = e.ClassID
		methodID = e.MethodID
	}

	log.Error().
		Err(cause).
		Uint16("reply_code", code).
		Msg("Connection failed")

	_ = c.writeMethodLocked(0, NewMethod(CONNECTION, uint16(CONNECTION_CLOSE),
		code, text, classID, methodID))

	c.state = StateFailed
	c.teardownChannelsLocked(code, text, cause)
	c.resolveWaitersLocked(cause)
	c.emitLocked(ConnectionClosed{ReplyCode: code, ReplyText: text, Err: cause})
}

func (c *Connection) teardownChannelsLocked(code uint16, text string, err error) {
	for id, ch := range c.channels {
		wasOpen := ch.state == ChannelStateOpen || ch.state == ChannelStateOpening
		ch.teardown(err)
		delete(c.channels, id)
		if wasOpen {
			c.emitLocked(ChannelClosed{Channel: id, ReplyCode: code, ReplyText: text})
		}
	}
}

func (c *Connection) resolveWaitersLocked(err error) {
	if done := c.openDone; done != nil {
		c.openDone = nil
		done <- errOrClosed(err)
	}
	if done := c.closeDone; done != nil {
		c.closeDone = nil
		done <- err
	}
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return ErrConnectionClosed
}

// negotiateShort resolves a tuning value: zero defers to the peer,
// otherwise the smaller proposal wins.
func negotiateShort(client, server uint16) uint16 {
	if client == 0 {
		return server
	}
	if server == 0 {
		return client
	}
	if client < server {
		return client
	}
	return server
}

func negotiateLong(client, server uint32) uint32 {
	if client == 0 {
		return server
	}
	if server == 0 {
		return client
	}
	if client < server {
		return client
	}
	return server
}

func containsToken(list, want string) bool {
	for _, tok := range strings.Fields(list) {
		if tok == want {
			return true
		}
	}
	return false
}
