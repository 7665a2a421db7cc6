package monitor

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/feed"
	"github.com/rickgao/auditstream/internal/model"
	"github.com/rickgao/auditstream/internal/router"
)

// Errors
var (
	// ErrNoTopic is returned by Start when Config.LiveTopic is empty.
	ErrNoTopic = errors.New("live topic is required")
)

// Subscriber is the part of connection.Manager the monitor uses.
type Subscriber interface {
	Subscribe(topic string, cb connection.Callback) error
	Unsubscribe(topic string) error
}

// Archiver accepts events for persistence. Enqueue must not block.
type Archiver interface {
	Enqueue(ev model.AuditEvent, receivedAt time.Time) bool
}

// Observer is notified of every event added to the feed.
type Observer interface {
	LiveEvent(feedSize int)
}

// Config holds monitor configuration.
type Config struct {
	LiveTopic string
	Capacity  int // Feed capacity (default feed.DefaultCapacity)
}

// Stats contains monitor statistics.
type Stats struct {
	Live     int64 // Events pushed from the live topic
	Merged   int64 // Events merged from REST
	Archived int64 // Events accepted by the archiver
	Feed     feed.Stats
	Router   router.Stats
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithArchiver hands every feed event to a.
func WithArchiver(a Archiver) Option {
	return func(m *Monitor) {
		m.archive = a
	}
}

// WithObserver sets a feed observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// Monitor maintains the live audit feed.
type Monitor struct {
	cfg    Config
	conn   Subscriber
	feed   *feed.Buffer[model.AuditEvent]
	router *router.Router
	logger *slog.Logger

	archive  Archiver
	observer Observer

	// mu orders pushes so Merge can check ids against a stable feed.
	mu sync.Mutex

	live     atomic.Int64
	merged   atomic.Int64
	archived atomic.Int64
}

// New creates a Monitor. Call Start to subscribe.
func New(cfg Config, conn Subscriber, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")

	m := &Monitor{
		cfg:    cfg,
		conn:   conn,
		feed:   feed.NewBuffer[model.AuditEvent](cfg.Capacity),
		logger: logger,
	}
	m.router = router.New(router.HandlerFuncs{
		AuditEvent: m.handleEvent,
		Unmatched:  m.handleUnmatched,
	}, logger)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes the live topic. While disconnected the subscription is
// deferred by the Connection Manager until the next connect.
func (m *Monitor) Start() error {
	if m.cfg.LiveTopic == "" {
		return ErrNoTopic
	}
	if err := m.conn.Subscribe(m.cfg.LiveTopic, m.router.Route); err != nil {
		return err
	}
	m.logger.Info("live feed subscribed", "topic", m.cfg.LiveTopic, "capacity", m.feed.Cap())
	return nil
}

// Close unsubscribes the live topic. The feed keeps its contents.
func (m *Monitor) Close() error {
	return m.conn.Unsubscribe(m.cfg.LiveTopic)
}

// Feed returns the feed contents, newest first.
func (m *Monitor) Feed() []model.AuditEvent {
	return m.feed.Items()
}

// Newest returns the most recent event.
func (m *Monitor) Newest() (model.AuditEvent, bool) {
	return m.feed.Newest()
}

// Merge adds REST-fetched events that are not already in the feed. events
// is newest first, as returned by a page; they are pushed oldest first so
// the feed order is preserved. Returns how many were added.
func (m *Monitor) Merge(events []model.AuditEvent, receivedAt time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, m.feed.Len())
	for _, ev := range m.feed.Items() {
		seen[ev.ID] = struct{}{}
	}

	added := 0
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.ID == "" {
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		m.pushLocked(ev, receivedAt)
		added++
	}

	if added > 0 {
		m.merged.Add(int64(added))
		m.logger.Debug("merged events", "added", added, "fetched", len(events))
	}
	return added
}

// Stats returns current statistics.
func (m *Monitor) Stats() Stats {
	return Stats{
		Live:     m.live.Load(),
		Merged:   m.merged.Load(),
		Archived: m.archived.Load(),
		Feed:     m.feed.Stats(),
		Router:   m.router.Stats(),
	}
}

func (m *Monitor) handleEvent(msg router.Message) {
	m.mu.Lock()
	m.pushLocked(msg.Event, msg.ReceivedAt)
	m.mu.Unlock()

	m.live.Add(1)
}

func (m *Monitor) handleUnmatched(msg router.Message) {
	m.logger.Debug("ignoring non-event payload on live topic",
		"destination", msg.Destination,
		"bytes", len(msg.Raw),
	)
}

func (m *Monitor) pushLocked(ev model.AuditEvent, receivedAt time.Time) {
	m.feed.Push(ev)

	if m.archive != nil && m.archive.Enqueue(ev, receivedAt) {
		m.archived.Add(1)
	}
	if m.observer != nil {
		m.observer.LiveEvent(m.feed.Len())
	}
}
