package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager owns the realtime session and the subscription registry.
type Manager interface {
	// Connect opens a session and replays every registered subscription.
	// Concurrent calls join the attempt already in flight.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Registered subscriptions are kept and
	// replayed on the next Connect.
	Disconnect() error

	// Stop disconnects and waits for delivery goroutines to exit.
	Stop(ctx context.Context) error

	// Subscribe registers cb for topic. While disconnected the subscription
	// is deferred until the next Connect.
	Subscribe(topic string, cb Callback) error

	// Unsubscribe removes topic. Unknown topics are a no-op.
	Unsubscribe(topic string) error

	// Publish sends body to destination. Returns ErrNotConnected when inactive.
	Publish(destination string, body []byte) error

	// IsActive reports whether a session is connected.
	IsActive() bool

	// State returns the current connection state.
	State() ConnectionState

	// StateChanges returns state transitions in order.
	StateChanges() <-chan StateChange

	// Errors returns transport, auth and protocol errors.
	Errors() <-chan error

	// Stats returns current statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             ConnectionState
	Subscriptions     int
	LiveSubscriptions int
	Connects          int64
	Delivered         int64
	Unmatched         int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithClientFactory replaces the session constructor.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *manager) {
		m.newClient = f
	}
}

// WithRegistry uses an existing registry.
func WithRegistry(r *Registry) ManagerOption {
	return func(m *manager) {
		m.registry = r
	}
}

// connectAttempt lets concurrent Connect calls share one dial.
type connectAttempt struct {
	epoch  uint64
	cancel context.CancelFunc // aborts the dial on Disconnect
	done   chan struct{}
	err    error
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient ClientFactory
	registry  *Registry

	// subMu serializes subscription changes against replay.
	// Lock order: subMu, then mu.
	subMu sync.Mutex

	mu      sync.Mutex
	state   ConnectionState
	client  Client
	epoch   uint64
	attempt *connectAttempt

	stateCh chan StateChange
	errCh   chan error
	wg      sync.WaitGroup

	connects  atomic.Int64
	delivered atomic.Int64
	unmatched atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StateBufferSize < 1 {
		cfg.StateBufferSize = 64
	}
	if cfg.ErrorBufferSize < 1 {
		cfg.ErrorBufferSize = 16
	}

	m := &manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		stateCh:   make(chan StateChange, cfg.StateBufferSize),
		errCh:     make(chan error, cfg.ErrorBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	return m
}

// Connect opens the session.
func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected && m.client != nil {
		m.mu.Unlock()
		return nil
	}

	if a := m.attempt; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.cfg.Client.Token == "" {
		err := &ConnError{Kind: KindAuthMissing}
		m.setStateLocked(StateErrored, err)
		m.mu.Unlock()
		m.reportError(err)
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.epoch++
	a := &connectAttempt{
		epoch:  m.epoch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.attempt = a
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	err := m.dial(dialCtx, a.epoch)

	m.mu.Lock()
	if m.attempt == a {
		m.attempt = nil
	}
	m.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

// dial creates a session, replays the registry and installs the session.
func (m *manager) dial(ctx context.Context, epoch uint64) error {
	c := m.newClient(m.cfg.Client, m.logger)

	if err := c.Connect(ctx); err != nil {
		return m.failConnect(epoch, err)
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	subs := m.registry.Snapshot()
	for _, s := range subs {
		if err := c.Subscribe(s.ID, s.Topic); err != nil {
			c.Close()
			return m.failConnect(epoch, fmt.Errorf("resubscribe %s: %w", s.Topic, err))
		}
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		c.Close()
		return ErrConnectAborted
	}
	for _, s := range subs {
		m.registry.setLive(s.Topic, true)
	}
	m.client = c
	m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("realtime connection established",
		"url", m.cfg.Client.URL,
		"subscriptions", len(subs),
	)

	m.wg.Add(1)
	go m.session(c)

	return nil
}

// failConnect records a failed attempt unless Disconnect superseded it.
func (m *manager) failConnect(epoch uint64, err error) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	m.setStateLocked(StateErrored, err)
	m.mu.Unlock()

	m.logger.Warn("realtime connect failed", "error", err)
	m.reportError(err)
	return err
}

// Disconnect closes the session and keeps the registry.
func (m *manager) Disconnect() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.Lock()
	m.epoch++
	if a := m.attempt; a != nil {
		// Waiters of the aborted attempt get ErrConnectAborted; the next
		// Connect dials fresh.
		a.cancel()
		m.attempt = nil
	}
	c := m.client
	m.client = nil
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()

	m.registry.clearLive()

	if c == nil {
		return nil
	}

	m.logger.Info("realtime connection closed")
	return c.Close()
}

// Stop disconnects and waits for the session goroutine.
func (m *manager) Stop(ctx context.Context) error {
	err := m.Disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, session goroutine still running")
		return ctx.Err()
	}
	return err
}

// Subscribe registers cb for topic and subscribes on the live session.
func (m *manager) Subscribe(topic string, cb Callback) error {
	if topic == "" {
		return errors.New("subscribe: empty topic")
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	entry, replaced := m.registry.Set(topic, cb)

	c := m.activeClient()
	if c == nil {
		m.logger.Debug("subscription deferred until connected", "topic", topic)
		return nil
	}

	if entry.Live {
		// Handler replaced; the broker subscription stays as is.
		m.logger.Debug("subscription handler replaced", "topic", topic, "id", entry.ID)
		return nil
	}

	if err := c.Subscribe(entry.ID, topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	m.registry.setLive(topic, true)

	m.logger.Debug("subscribed", "topic", topic, "id", entry.ID, "replaced", replaced)
	return nil
}

// Unsubscribe removes topic from the registry and the live session.
func (m *manager) Unsubscribe(topic string) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	entry, ok := m.registry.Remove(topic)
	if !ok || !entry.Live {
		return nil
	}

	c := m.activeClient()
	if c == nil {
		return nil
	}

	if err := c.Unsubscribe(entry.ID); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends body to destination on the live session.
func (m *manager) Publish(destination string, body []byte) error {
	c := m.activeClient()
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(destination, body)
}

// IsActive reports whether a session is connected.
func (m *manager) IsActive() bool {
	return m.activeClient() != nil
}

// State returns the current connection state.
func (m *manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateChanges returns the state transition channel.
func (m *manager) StateChanges() <-chan StateChange {
	return m.stateCh
}

// Errors returns the error channel.
func (m *manager) Errors() <-chan error {
	return m.errCh
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	live := 0
	subs := m.registry.Snapshot()
	for _, s := range subs {
		if s.Live {
			live++
		}
	}

	return ManagerStats{
		State:             m.State(),
		Subscriptions:     len(subs),
		LiveSubscriptions: live,
		Connects:          m.connects.Load(),
		Delivered:         m.delivered.Load(),
		Unmatched:         m.unmatched.Load(),
	}
}

func (m *manager) activeClient() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.client
}

// session delivers messages for c sequentially until it ends.
func (m *manager) session(c Client) {
	defer m.wg.Done()

	for {
		select {
		case d := <-c.Messages():
			m.dispatch(d)

		case err := <-c.Errors():
			m.reportError(err)

		case <-c.Done():
			if c.Err() != nil {
				m.drain(c)
			}
			m.sessionEnded(c, c.Err())
			return
		}
	}
}

// drain delivers messages buffered before the session ended.
func (m *manager) drain(c Client) {
	for {
		select {
		case d := <-c.Messages():
			m.dispatch(d)
		default:
			return
		}
	}
}

// dispatch routes a delivery to its subscription's callback.
func (m *manager) dispatch(d Delivery) {
	sub, ok := m.registry.Lookup(d.Subscription)
	if !ok {
		sub, ok = m.registry.Get(d.Destination)
	}
	if !ok || sub.Callback == nil {
		m.unmatched.Add(1)
		m.logger.Debug("no subscriber for message",
			"subscription", d.Subscription,
			"destination", d.Destination,
		)
		return
	}

	m.delivered.Add(1)
	sub.Callback(d)
}

// sessionEnded moves to StateErrored when the current session drops.
func (m *manager) sessionEnded(c Client, err error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.Lock()
	if m.client != c {
		// Disconnect already took this session down.
		m.mu.Unlock()
		return
	}
	m.client = nil
	if err == nil {
		err = transportError(errors.New("session closed by peer"))
	}
	m.setStateLocked(StateErrored, err)
	m.mu.Unlock()

	m.registry.clearLive()
	m.logger.Warn("realtime connection lost", "error", err)
	m.reportError(err)
	c.Close()
}

// setStateLocked records a transition. Caller holds m.mu.
func (m *manager) setStateLocked(to ConnectionState, err error) {
	from := m.state
	if from == to && err == nil {
		return
	}
	m.state = to

	change := StateChange{From: from, To: to, Err: err, At: time.Now()}
	select {
	case m.stateCh <- change:
	default:
		m.logger.Warn("state change dropped, buffer full", "from", from, "to", to)
	}
}

func (m *manager) reportError(err error) {
	select {
	case m.errCh <- err:
	default:
		m.logger.Debug("error channel full, dropping", "error", err)
	}
}
