package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/auditstream/internal/model"
)

// flushTimeout bounds a single batch insert. Flushes outlive Stop's
// cancellation so a batch taken off the queue is not lost.
const flushTimeout = 10 * time.Second

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock driving periodic flushes.
func WithClock(c clockwork.Clock) Option {
	return func(w *Writer) {
		w.clock = c
	}
}

// WithObserver sets a write observer.
func WithObserver(o Observer) Option {
	return func(w *Writer) {
		w.observer = o
	}
}

// Writer batches audit events into the audit_events table.
type Writer struct {
	cfg      Config
	logger   *slog.Logger
	clock    clockwork.Clock
	observer Observer

	// Input queue
	input chan eventRow

	// Database
	db DB

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db DB, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	w := &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "archive"),
		clock:  clockwork.NewRealClock(),
		input:  make(chan eventRow, cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue queues ev for archiving. It never blocks; it returns false and
// counts a drop when the queue is full.
func (w *Writer) Enqueue(ev model.AuditEvent, receivedAt time.Time) bool {
	select {
	case w.input <- transform(ev, receivedAt):
		return true
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		if w.observer != nil {
			w.observer.ArchiveDropped()
		}
		w.logger.Warn("archive queue full, dropping event", "id", ev.ID)
		return false
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue, flushes and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}

	// Drain what is left, then final flush
drain:
	for {
		select {
		case row := <-w.input:
			w.add(row)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case row := <-w.input:
			if w.add(row) {
				w.flushDetached()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.Chan():
			w.flushDetached()
		}
	}
}

// add appends a row and reports whether the batch is full.
func (w *Writer) add(row eventRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an AuditEvent to an eventRow.
func transform(ev model.AuditEvent, receivedAt time.Time) eventRow {
	row := eventRow{
		ID:         ev.ID,
		Action:     ev.Action,
		Actor:      ev.Actor,
		Entity:     ev.Entity,
		EntityID:   ev.EntityID,
		Details:    ev.Details,
		Raw:        ev.Raw,
		ReceivedAt: receivedAt.UTC(),
	}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp.UTC()
		row.Ts = &ts
	}
	if len(row.Raw) == 0 {
		if raw, err := json.Marshal(ev); err == nil {
			row.Raw = raw
		}
	}
	return row
}

func (w *Writer) flushDetached() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), flushTimeout)
	defer cancel()
	w.flush(ctx)
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	if w.observer != nil {
		w.observer.ArchiveWritten(len(batch)-conflicts, conflicts)
	}

	w.logger.Debug("flushed audit events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.ID, r.Ts, r.Action, r.Actor, r.Entity, r.EntityID, r.Details, string(r.Raw), r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
