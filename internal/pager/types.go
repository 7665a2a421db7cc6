package pager

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/model"
)

// Errors
var (
	ErrSuperseded     = errors.New("page request superseded by a newer request")
	ErrFetchFailed    = errors.New("page fetch failed")
	ErrLoadingTimeout = errors.New("page loading timed out")
	ErrClosed         = errors.New("correlator closed")
)

// Defaults
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxLoading = 10 * time.Second
	DefaultPageSize   = 20
)

// Source tells where a page came from.
type Source int

const (
	SourceNone Source = iota
	SourceRealtime
	SourceREST
)

func (s Source) String() string {
	switch s {
	case SourceRealtime:
		return "realtime"
	case SourceREST:
		return "rest"
	default:
		return "none"
	}
}

// Config configures a Correlator.
type Config struct {
	RequestDestination string        // Where page requests are published
	ResponseTopic      string        // Where page responses arrive
	Timeout            time.Duration // Realtime wait before REST fallback
	MaxLoading         time.Duration // Watchdog bound on a whole request
	PageSize           int           // Used when FetchPage gets size <= 0
}

// Channel is the realtime side, satisfied by connection.Manager.
type Channel interface {
	IsActive() bool
	Publish(destination string, body []byte) error
	Subscribe(topic string, cb connection.Callback) error
	Unsubscribe(topic string) error
}

// Fetcher is the REST side.
type Fetcher interface {
	FetchAuditPage(ctx context.Context, page, size int) (model.AuditPage, error)
}

// Observer receives fetch outcomes, e.g. for metrics.
type Observer interface {
	PageFetched(source string)
	PageFallback()
	PageFailed(reason string)
}
