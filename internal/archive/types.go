package archive

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config contains configuration for the archive writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds the queue between Enqueue and the writer.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// DB is the subset of *pgxpool.Pool the archive uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Observer receives write outcomes, e.g. for metrics.
type Observer interface {
	ArchiveWritten(inserted, conflicts int)
	ArchiveDropped()
}

// Metrics holds counters for the writer.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// eventRow is a row of the audit_events table.
type eventRow struct {
	ID         string
	Ts         *time.Time // nil when the event had no timestamp
	Action     string
	Actor      string
	Entity     string
	EntityID   string
	Details    string
	Raw        []byte // jsonb
	ReceivedAt time.Time
}
