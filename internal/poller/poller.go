package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/auditstream/internal/model"
)

// Fetcher fetches a page of audit events.
type Fetcher interface {
	FetchAuditPage(ctx context.Context, page, size int) (model.AuditPage, error)
}

// Liveness reports whether the realtime session is delivering events.
type Liveness interface {
	IsActive() bool
}

// Sink receives fetched events, newest first.
type Sink interface {
	Merge(events []model.AuditEvent, receivedAt time.Time) int
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Pages       int           // Newest pages fetched per cycle (default: 1)
	PageSize    int           // Events per page (default: 20)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Pages:       1,
		PageSize:    20,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats contains poller statistics.
type Stats struct {
	Cycles  int64 // Cycles that fetched
	Skipped int64 // Cycles skipped because realtime was active
	Merged  int64 // Events added to the sink
	Errors  int64 // Failed cycles
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock driving the poll interval.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// Poller periodically refreshes the feed over REST while realtime is down.
type Poller struct {
	cfg    Config
	client Fetcher
	live   Liveness
	sink   Sink
	clock  clockwork.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles  atomic.Int64
	skipped atomic.Int64
	merged  atomic.Int64
	errors  atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, client Fetcher, live Liveness, sink Sink, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Pages < 1 {
		cfg.Pages = def.Pages
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	p := &Poller{
		cfg:    cfg,
		client: client,
		live:   live,
		sink:   sink,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("feed poller started",
		"interval", p.cfg.Interval,
		"pages", p.cfg.Pages,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("feed poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Skipped: p.skipped.Load(),
		Merged:  p.merged.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.tick()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	if p.live != nil && p.live.IsActive() {
		p.skipped.Add(1)
		return
	}

	if _, err := p.Poll(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Warn("feed poll failed", "error", err)
	}
}

// Poll fetches the newest pages once and merges them into the sink.
// Returns how many events were added.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	start := p.clock.Now()

	pages := make([][]model.AuditEvent, p.cfg.Pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range pages {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, p.cfg.Timeout)
			defer cancel()

			page, err := p.client.FetchAuditPage(reqCtx, i, p.cfg.PageSize)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			pages[i] = page.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.errors.Add(1)
		return 0, err
	}
	p.cycles.Add(1)

	var events []model.AuditEvent
	for _, content := range pages {
		events = append(events, content...)
	}

	added := p.sink.Merge(events, p.clock.Now())
	p.merged.Add(int64(added))

	p.logger.Debug("poll cycle complete",
		"fetched", len(events),
		"added", added,
		"duration", p.clock.Since(start),
	)
	return added, nil
}
