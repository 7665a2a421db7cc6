package config

import "time"

// Config is the root configuration for an audit stream client instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	API       APIConfig       `yaml:"api"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Feed      FeedConfig      `yaml:"feed"`
	Pager     PagerConfig     `yaml:"pager"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds backend endpoint and credential settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	Transport    string        `yaml:"transport"` // "websocket" or "sockjs"
	Token        string        `yaml:"token"`
	TokenFile    string        `yaml:"token_file"`
	TokenInQuery bool          `yaml:"token_in_query"` // send token as ?access_token= instead of a STOMP header
	AuditPath    string        `yaml:"audit_path"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// RealtimeConfig holds STOMP destinations and session settings.
type RealtimeConfig struct {
	LiveTopic          string        `yaml:"live_topic"`
	RequestDestination string        `yaml:"request_destination"`
	ResponseTopic      string        `yaml:"response_topic"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	BufferSize         int           `yaml:"buffer_size"`
}

// ReconnectConfig holds reconnection policy settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// FeedConfig holds live feed settings.
type FeedConfig struct {
	Capacity     int           `yaml:"capacity"`
	PollInterval time.Duration `yaml:"poll_interval"` // REST refresh while realtime is down
}

// PagerConfig holds paged request settings.
type PagerConfig struct {
	PageSize   int           `yaml:"page_size"`
	Timeout    time.Duration `yaml:"timeout"`     // realtime response wait before REST fallback
	MaxLoading time.Duration `yaml:"max_loading"` // loading watchdog bound
}

// ArchiveConfig holds the optional PostgreSQL archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	AppName        string        `yaml:"application_name"` // reported in pg_stat_activity
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
