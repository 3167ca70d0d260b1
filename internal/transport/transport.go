// Package transport pumps bytes between a TCP (or TLS) socket and the
// protocol engine, which performs no I/O of its own.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otterwire/otterwire/internal/core/amqp"
	"github.com/otterwire/otterwire/pkg/metrics"
)

const (
	dialTimeout  = 30 * time.Second
	readBufSize  = 64 * 1024
	closeTimeout = 5 * time.Second
)

// Options configures a Dial.
type Options struct {
	URL string

	// Username, Password and Vhost override whatever the URL carries when
	// set. Empty means use the URL's value (or its guest/guest// default).
	Username string
	Password string
	Vhost    string

	// Tuning proposals forwarded to the engine; zero defers to the broker.
	HeartbeatInterval uint16
	ChannelMax        uint16
	FrameMax          uint32

	// TLSConfig overrides the default TLS setup for amqps URLs.
	TLSConfig *tls.Config

	// Metrics is optional; a no-op collector is used when nil.
	Metrics *metrics.Collector
}

// Client owns the socket, the protocol engine and the pump goroutines.
type Client struct {
	conn    net.Conn
	engine  *amqp.Connection
	metrics *metrics.Collector

	events    chan amqp.Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to the broker, starts the read/write pumps and completes
// the protocol handshake before returning.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	ep, err := ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	ep = ep.withOverrides(opts)

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, err
	}

	if ep.TLS {
		tlsConf := opts.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{ServerName: ep.Host}
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	c := newClient(conn, ep.connConfig(opts), opts.Metrics)

	if err := c.open(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("addr", ep.Addr()).
		Str("vhost", ep.Vhost).
		Msg("Connected to broker")
	return c, nil
}

// withOverrides layers explicitly configured credentials and vhost over
// what the URL carried.
func (ep Endpoint) withOverrides(opts Options) Endpoint {
	if opts.Username != "" {
		ep.Username = opts.Username
	}
	if opts.Password != "" {
		ep.Password = opts.Password
	}
	if opts.Vhost != "" {
		ep.Vhost = opts.Vhost
	}
	return ep
}

// connConfig maps the resolved endpoint and dial options onto the engine's
// configuration.
func (ep Endpoint) connConfig(opts Options) amqp.ConnectionConfig {
	return amqp.ConnectionConfig{
		Username:   ep.Username,
		Password:   ep.Password,
		Vhost:      ep.Vhost,
		ChannelMax: opts.ChannelMax,
		FrameMax:   opts.FrameMax,
		Heartbeat:  opts.HeartbeatInterval,
	}
}

// newClient wires an engine to an established connection and starts the
// read and write pumps.
func newClient(conn net.Conn, cfg amqp.ConnectionConfig, collector *metrics.Collector) *Client {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	cfg.OnPublish = collector.IncPublishes
	c := &Client{
		conn:    conn,
		engine:  amqp.NewConnection(cfg),
		metrics: collector,
		events:  make(chan amqp.Event, 64),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	go func() {
		c.wg.Wait()
		close(c.events)
	}()
	return c
}

// open completes the protocol handshake and arms the heartbeat ticker.
func (c *Client) open(ctx context.Context) error {
	if err := c.engine.Open(ctx); err != nil {
		c.shutdown()
		c.wg.Wait()
		return err
	}
	if interval := c.engine.HeartbeatInterval(); interval > 0 {
		c.wg.Add(1)
		go c.tickLoop(interval)
	}
	return nil
}

// Events delivers the engine's protocol events. The channel closes once
// the connection is fully shut down.
func (c *Client) Events() <-chan amqp.Event {
	return c.events
}

func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// ServerProperties returns the broker's identity table from the handshake.
func (c *Client) ServerProperties() map[string]any {
	return c.engine.ServerProperties()
}

// FrameMax returns the negotiated maximum frame size.
func (c *Client) FrameMax() uint32 {
	return c.engine.FrameMax()
}

// HeartbeatInterval returns the negotiated heartbeat interval; zero means
// heartbeats are disabled.
func (c *Client) HeartbeatInterval() time.Duration {
	return c.engine.HeartbeatInterval()
}

// Channel opens a new channel over the connection.
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	return c.engine.Channel(ctx)
}

// Close performs the orderly close handshake then tears the socket down.
func (c *Client) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	err := c.engine.Close(ctx, uint16(amqp.REPLY_SUCCESS), "connection closed by client")
	c.shutdown()
	c.wg.Wait()
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) shuttingDown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	buf := make([]byte, readBufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.metrics.AddBytesIn(n)
			events, ferr := c.engine.Feed(buf[:n])
			c.forward(events)
			if ferr != nil {
				c.metrics.IncConnectionFailures()
				c.flushFinal()
				return
			}
		}
		if err != nil {
			if !c.shuttingDown() {
				log.Warn().Err(err).Msg("Read from broker failed")
				c.metrics.IncConnectionFailures()
			}
			return
		}
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.engine.WriteReady():
			data := c.engine.Drain()
			if len(data) == 0 {
				continue
			}
			if _, err := c.conn.Write(data); err != nil {
				if !c.shuttingDown() {
					log.Warn().Err(err).Msg("Write to broker failed")
				}
				c.shutdown()
				return
			}
			c.metrics.AddBytesOut(len(data))
		}
	}
}

func (c *Client) tickLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.forward(c.engine.Tick(now))
			if c.engine.State() == amqp.StateFailed {
				c.metrics.IncConnectionFailures()
				c.flushFinal()
				c.shutdown()
				return
			}
		}
	}
}

// flushFinal pushes whatever the engine queued after a failure, typically
// its Connection.Close, before the socket goes away.
func (c *Client) flushFinal() {
	if data := c.engine.Drain(); len(data) > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := c.conn.Write(data); err == nil {
			c.metrics.AddBytesOut(len(data))
		}
	}
}

func (c *Client) forward(events []amqp.Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case amqp.ContentDelivered:
			c.metrics.IncDeliveries()
		case amqp.ContentReturned:
			c.metrics.IncReturns()
		case amqp.ConfirmAck:
			c.metrics.IncConfirmAcks()
		case amqp.ConfirmNack:
			c.metrics.IncConfirmNacks()
		case amqp.ChannelClosed:
			c.metrics.IncChannelCloses()
		case amqp.ConnectionClosed:
			if e.Err != nil {
				log.Warn().
					Err(e.Err).
					Uint16("reply_code", e.ReplyCode).
					Msg("Connection closed")
			}
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
