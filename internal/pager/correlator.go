package pager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"

	"github.com/rickgao/auditstream/internal/model"
	"github.com/rickgao/auditstream/internal/router"
)

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the clock used for the timeout and the watchdog.
func WithClock(c clockwork.Clock) Option {
	return func(co *Correlator) {
		co.clock = c
	}
}

// WithObserver sets a fetch observer.
func WithObserver(o Observer) Option {
	return func(co *Correlator) {
		co.observer = o
	}
}

type phase int

const (
	phaseRealtime phase = iota
	phaseFallback
)

type outcome struct {
	page   model.AuditPage
	source Source
	err    error
}

// pending is the single in-flight page request.
type pending struct {
	seq       uint64
	requestID string
	page      int
	size      int
	phase     phase
	timer     clockwork.Timer
	cancel    context.CancelFunc // fallback request
	result    chan outcome
	done      bool
}

// Correlator pairs page requests with their responses.
type Correlator struct {
	cfg      Config
	conn     Channel
	rest     Fetcher
	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer
	router   *router.Router

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	seq           uint64
	cur           *pending
	loading       bool
	watchdog      clockwork.Timer
	watchGen      uint64
	current       model.AuditPage
	hasCurrent    bool
	lastRequested int
	started       bool
	closed        bool
}

// New creates a Correlator.
func New(cfg Config, conn Channel, rest Fetcher, logger *slog.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxLoading <= 0 {
		cfg.MaxLoading = DefaultMaxLoading
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	c := &Correlator{
		cfg:           cfg,
		conn:          conn,
		rest:          rest,
		clock:         clockwork.NewRealClock(),
		logger:        logger.With("component", "pager"),
		lastRequested: -1,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())
	c.router = router.New(router.HandlerFuncs{Page: c.handlePage}, c.logger)
	return c
}

// Start subscribes to the response topic.
func (c *Correlator) Start() error {
	if err := c.conn.Subscribe(c.cfg.ResponseTopic, c.router.Route); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.ResponseTopic, err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Close fails any pending request with ErrClosed and unsubscribes.
func (c *Correlator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if p := c.cur; p != nil {
		c.finishLocked(p, outcome{err: ErrClosed})
	}
	c.stopWatchdogLocked()
	started := c.started
	c.mu.Unlock()

	c.baseCancel()

	if started {
		return c.conn.Unsubscribe(c.cfg.ResponseTopic)
	}
	return nil
}

// FetchPage requests page (0-indexed) and waits for the result. A size of
// zero or less uses the configured page size.
func (c *Correlator) FetchPage(ctx context.Context, page, size int) (model.AuditPage, Source, error) {
	if size <= 0 {
		size = c.cfg.PageSize
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.AuditPage{}, SourceNone, ErrClosed
	}

	if prev := c.cur; prev != nil {
		c.logger.Debug("superseding page request", "page", prev.page, "by", page)
		c.finishLocked(prev, outcome{err: ErrSuperseded})
	}

	req := model.NewPageRequest(page, size)
	c.seq++
	p := &pending{
		seq:       c.seq,
		requestID: req.RequestID,
		page:      page,
		size:      size,
		result:    make(chan outcome, 1),
	}
	c.cur = p
	c.lastRequested = page
	c.setLoadingLocked(true)

	active := c.conn.IsActive()
	if active {
		seq := p.seq
		p.timer = c.clock.AfterFunc(c.cfg.Timeout, func() { c.onTimeout(seq) })
	} else {
		c.startFallbackLocked(p)
	}
	c.mu.Unlock()

	if active {
		if err := c.publish(req); err != nil {
			c.logger.Warn("page request publish failed, using REST", "page", page, "error", err)
			c.mu.Lock()
			c.startFallbackLocked(p)
			c.mu.Unlock()
		}
	}

	select {
	case out := <-p.result:
		return out.page, out.source, out.err

	case <-ctx.Done():
		c.mu.Lock()
		c.finishLocked(p, outcome{err: ctx.Err()})
		c.mu.Unlock()

		// The request may have resolved concurrently.
		out := <-p.result
		return out.page, out.source, out.err
	}
}

// Loading reports whether a page request is in progress.
func (c *Correlator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Current returns the last page that resolved a request.
func (c *Correlator) Current() (model.AuditPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCurrent
}

// LastRequestedPage returns the most recently requested page, or -1.
func (c *Correlator) LastRequestedPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRequested
}

func (c *Correlator) publish(req model.PageRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal page request: %w", err)
	}
	return c.conn.Publish(c.cfg.RequestDestination, body)
}

// handlePage resolves the pending request with a realtime response.
func (c *Correlator) handlePage(msg router.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.cur
	if p == nil || p.done {
		c.logger.Debug("discarding page response, nothing pending", "page", msg.Page.Number)
		return
	}
	if msg.Page.Number != p.page {
		c.logger.Debug("discarding stale page response",
			"page", msg.Page.Number,
			"pending", p.page,
		)
		return
	}
	if rid := gjson.GetBytes(msg.Raw, "requestId").String(); rid != "" && rid != p.requestID {
		c.logger.Debug("discarding page response for another request", "request_id", rid)
		return
	}

	c.current = msg.Page
	c.hasCurrent = true
	c.finishLocked(p, outcome{page: msg.Page, source: SourceRealtime})
	c.notePage(SourceRealtime)
}

// onTimeout starts the REST fallback if seq is still waiting on realtime.
func (c *Correlator) onTimeout(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.cur
	if p == nil || p.seq != seq || p.done || p.phase != phaseRealtime {
		return
	}

	c.logger.Warn("page response timed out, falling back to REST",
		"page", p.page,
		"timeout", c.cfg.Timeout,
	)
	c.startFallbackLocked(p)
}

// startFallbackLocked launches the single REST fallback for p.
func (c *Correlator) startFallbackLocked(p *pending) {
	if c.cur != p || p.done || p.phase == phaseFallback {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.phase = phaseFallback

	ctx, cancel := context.WithCancel(c.baseCtx)
	p.cancel = cancel

	if c.observer != nil {
		c.observer.PageFallback()
	}

	go c.runFallback(ctx, p)
}

func (c *Correlator) runFallback(ctx context.Context, p *pending) {
	page, err := c.rest.FetchAuditPage(ctx, p.page, p.size)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != p || p.done {
		c.logger.Debug("discarding stale REST page", "page", p.page)
		return
	}

	if err != nil {
		c.logger.Error("REST page fetch failed", "page", p.page, "error", err)
		c.noteFailure("rest")
		c.finishLocked(p, outcome{err: fmt.Errorf("%w: %w", ErrFetchFailed, err)})
		return
	}

	c.current = page
	c.hasCurrent = true
	c.finishLocked(p, outcome{page: page, source: SourceREST})
	c.notePage(SourceREST)
}

// finishLocked completes p once, releasing its timer and fallback.
func (c *Correlator) finishLocked(p *pending, out outcome) {
	if p.done {
		return
	}
	p.done = true

	if p.timer != nil {
		p.timer.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if c.cur == p {
		c.cur = nil
		c.setLoadingLocked(false)
	}

	p.result <- out
}

func (c *Correlator) setLoadingLocked(on bool) {
	c.loading = on
	if on {
		c.armWatchdogLocked()
	} else {
		c.stopWatchdogLocked()
	}
}

func (c *Correlator) armWatchdogLocked() {
	c.stopWatchdogLocked()
	gen := c.watchGen
	c.watchdog = c.clock.AfterFunc(c.cfg.MaxLoading, func() { c.onWatchdog(gen) })
}

func (c *Correlator) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.watchGen++
}

// onWatchdog bounds how long loading stays set, whatever phase the
// current request is in.
func (c *Correlator) onWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.watchGen || !c.loading {
		return
	}

	p := c.cur
	if p == nil {
		c.setLoadingLocked(false)
		return
	}
	c.logger.Warn("page loading watchdog fired, cancelling request",
		"page", p.page,
		"fallback", p.phase == phaseFallback,
		"max_loading", c.cfg.MaxLoading,
	)
	c.noteFailure("watchdog")
	c.finishLocked(p, outcome{err: ErrLoadingTimeout})
}

func (c *Correlator) notePage(s Source) {
	if c.observer != nil {
		c.observer.PageFetched(s.String())
	}
}

func (c *Correlator) noteFailure(reason string) {
	if c.observer != nil {
		c.observer.PageFailed(reason)
	}
}

// IsSuperseded reports whether err means a newer request replaced this one.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
