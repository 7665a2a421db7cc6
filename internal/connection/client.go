package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Client is a single STOMP session. It is not reusable: once Done is closed,
// create a new Client to reconnect.
type Client interface {
	// Connect dials the transport and completes the STOMP handshake.
	Connect(ctx context.Context) error

	// Close sends DISCONNECT and closes the transport.
	Close() error

	// Subscribe issues a SUBSCRIBE frame for destination under subscription id.
	Subscribe(id, destination string) error

	// Unsubscribe issues an UNSUBSCRIBE frame for subscription id.
	Unsubscribe(id string) error

	// Send publishes body to destination.
	Send(destination string, body []byte) error

	// Messages returns MESSAGE frames in arrival order.
	Messages() <-chan Delivery

	// Errors returns non-fatal protocol errors (malformed frames).
	Errors() <-chan error

	// Done is closed when the session ends, by Close or by failure.
	Done() <-chan struct{}

	// Err returns the terminal error after Done is closed; nil after Close.
	Err() error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory creates sessions; the Manager uses one per connect.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	w wire

	// Output channels
	messages chan Delivery
	errors   chan error
	done     chan struct{}
	stop     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	err       error
	endOnce   sync.Once
}

// NewClient creates a new STOMP client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Delivery, cfg.BufferSize),
		errors:   make(chan error, 16),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Connect establishes the transport and performs the CONNECT handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.cfg.Token == "" {
		return &ConnError{Kind: KindAuthMissing}
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	w, err := dialWire(ctx, c.cfg)
	if err != nil {
		return transportError(err)
	}

	if err := c.handshake(ctx, w); err != nil {
		w.CloseGracefully()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		w.CloseGracefully()
		return ErrAlreadyClosed
	}
	c.w = w
	c.connected = true
	c.mu.Unlock()

	// Start goroutines
	go c.readLoop()
	if c.cfg.Heartbeat > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("stomp session connected",
		"url", c.cfg.URL,
		"transport", c.cfg.Transport,
	)

	return nil
}

// handshake sends CONNECT and waits for CONNECTED or ERROR.
func (c *client) handshake(ctx context.Context, w wire) error {
	data, err := encodeFrame(connectFrame(c.cfg, c.host()))
	if err != nil {
		return protocolError(err)
	}
	if err := w.WritePayload(data, time.Now().Add(c.writeTimeout())); err != nil {
		return transportError(fmt.Errorf("send CONNECT: %w", err))
	}

	// Unblock the read when ctx ends.
	if deadline, ok := ctx.Deadline(); ok {
		w.SetReadDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() {
		w.SetReadDeadline(time.Now())
	})
	defer stopAfter()

	for {
		payloads, err := w.ReadPayloads()
		if err != nil {
			if ctx.Err() != nil {
				return transportError(fmt.Errorf("await CONNECTED: %w", ctx.Err()))
			}
			if errors.Is(err, errMalformedFrame) {
				return protocolError(err)
			}
			return transportError(fmt.Errorf("await CONNECTED: %w", err))
		}

		for _, p := range payloads {
			frames, err := decodeFrames(p)
			if err != nil {
				return protocolError(err)
			}
			for _, f := range frames {
				switch f.Command {
				case frame.CONNECTED:
					if v := f.Header.Get(frame.Version); v != "" && v != stompVersion {
						return protocolError(fmt.Errorf("unsupported STOMP version %q", v))
					}
					w.SetReadDeadline(time.Time{})
					return nil
				case frame.ERROR:
					return protocolError(brokerError(f))
				}
			}
		}
	}
}

// Close gracefully closes the session.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	w := c.w
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.stop)

	var err error
	if w != nil {
		if wasConnected {
			if data, encErr := encodeFrame(disconnectFrame()); encErr == nil {
				c.writeMu.Lock()
				w.WritePayload(data, time.Now().Add(time.Second))
				c.writeMu.Unlock()
			}
		}
		err = w.CloseGracefully()
	}

	c.end(nil)
	return err
}

// Subscribe issues a SUBSCRIBE frame.
func (c *client) Subscribe(id, destination string) error {
	return c.write(subscribeFrame(id, destination))
}

// Unsubscribe issues an UNSUBSCRIBE frame.
func (c *client) Unsubscribe(id string) error {
	return c.write(unsubscribeFrame(id))
}

// Send publishes body to destination.
func (c *client) Send(destination string, body []byte) error {
	return c.write(sendFrame(destination, body))
}

// Messages returns the deliveries channel.
func (c *client) Messages() <-chan Delivery {
	return c.messages
}

// Errors returns the non-fatal errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// Done is closed when the session ends.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// write encodes and sends a frame.
func (c *client) write(f *frame.Frame) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	w := c.w
	c.mu.RUnlock()

	data, err := encodeFrame(f)
	if err != nil {
		return protocolError(err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := w.WritePayload(data, time.Now().Add(c.writeTimeout())); err != nil {
		return transportError(fmt.Errorf("send %s: %w", f.Command, err))
	}
	return nil
}

// readLoop reads frames and delivers MESSAGE frames in arrival order.
func (c *client) readLoop() {
	for {
		payloads, err := c.w.ReadPayloads()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				c.reportError(protocolError(err))
				continue
			}
			// Ignore errors after Close() is called
			select {
			case <-c.stop:
				c.end(nil)
			default:
				c.end(transportError(err))
			}
			return
		}

		for _, p := range payloads {
			frames, err := decodeFrames(p)
			if err != nil {
				c.reportError(protocolError(err))
			}

			for _, f := range frames {
				switch f.Command {
				case frame.MESSAGE:
					select {
					case c.messages <- toDelivery(f, receivedAt):
					case <-c.stop:
						c.end(nil)
						return
					}

				case frame.ERROR:
					// The broker closes the session after ERROR.
					perr := protocolError(brokerError(f))
					c.logger.Warn("broker sent ERROR frame", "error", perr)
					c.end(perr)
					c.w.CloseGracefully()
					return

				case frame.RECEIPT, frame.CONNECTED:

				default:
					c.logger.Debug("ignoring frame", "command", f.Command)
				}
			}
		}
	}
}

// heartbeatLoop sends EOL heart-beats while the session is open.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.w.WritePayload(heartbeatPayload, time.Now().Add(c.writeTimeout()))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send heart-beat", "error", err)
			}
		}
	}
}

// reportError forwards a non-fatal error without blocking the read loop.
func (c *client) reportError(err error) {
	c.logger.Warn("stomp protocol error", "error", err)
	select {
	case c.errors <- err:
	default:
	}
}

// end marks the session finished exactly once.
func (c *client) end(err error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *client) host() string {
	if c.cfg.Host != "" {
		return c.cfg.Host
	}
	if u, err := url.Parse(c.cfg.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}

func (c *client) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 5 * time.Second
}
