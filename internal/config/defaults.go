package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "http://localhost:8080"
	DefaultWSURL              = "http://localhost:8080/ws"
	DefaultTransport          = "sockjs"
	DefaultAuditPath          = "/api/audit-logs"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultLiveTopic          = "/topic/audit-logs"
	DefaultRequestDestination = "/app/audit-logs/page"
	DefaultResponseTopic      = "/topic/audit-logs/page"
	DefaultConnectTimeout     = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultHeartbeat          = 10 * time.Second
	DefaultRealtimeBuffer     = 1000
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultMaxAttempts        = 5
	DefaultFeedCapacity       = 50
	DefaultFeedPollInterval   = 30 * time.Second
	DefaultPageSize           = 20
	DefaultPageTimeout        = 10 * time.Second
	DefaultMaxLoading         = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultDBAppName          = "auditwatch"
	DefaultDBConnectTimeout   = 5 * time.Second
	DefaultArchiveBatchSize   = 500
	DefaultArchiveFlush       = 1 * time.Second
	DefaultArchiveBuffer      = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

// ApplyDefaults fills unset optional fields with their defaults.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Transport == "" {
		c.API.Transport = DefaultTransport
	}
	if c.API.AuditPath == "" {
		c.API.AuditPath = DefaultAuditPath
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Realtime defaults
	if c.Realtime.LiveTopic == "" {
		c.Realtime.LiveTopic = DefaultLiveTopic
	}
	if c.Realtime.RequestDestination == "" {
		c.Realtime.RequestDestination = DefaultRequestDestination
	}
	if c.Realtime.ResponseTopic == "" {
		c.Realtime.ResponseTopic = DefaultResponseTopic
	}
	if c.Realtime.ConnectTimeout == 0 {
		c.Realtime.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.Heartbeat == 0 {
		c.Realtime.Heartbeat = DefaultHeartbeat
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultRealtimeBuffer
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}

	if c.Feed.Capacity == 0 {
		c.Feed.Capacity = DefaultFeedCapacity
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultFeedPollInterval
	}

	// Pager defaults
	if c.Pager.PageSize == 0 {
		c.Pager.PageSize = DefaultPageSize
	}
	if c.Pager.Timeout == 0 {
		c.Pager.Timeout = DefaultPageTimeout
	}
	if c.Pager.MaxLoading == 0 {
		c.Pager.MaxLoading = DefaultMaxLoading
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultArchiveBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultArchiveFlush
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBuffer
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.AppName == "" {
		db.AppName = DefaultDBAppName
	}
	if db.ConnectTimeout == 0 {
		db.ConnectTimeout = DefaultDBConnectTimeout
	}
}
