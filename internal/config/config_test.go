package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-monitor
api:
  rest_url: https://pm.example.com
  ws_url: https://pm.example.com/ws
  transport: websocket
  token_in_query: true
realtime:
  live_topic: /topic/audit
pager:
  timeout: 3s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-monitor" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-monitor")
	}
	if cfg.API.RestURL != "https://pm.example.com" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://pm.example.com")
	}
	if cfg.API.Transport != "websocket" {
		t.Errorf("API.Transport = %q, want %q", cfg.API.Transport, "websocket")
	}
	if !cfg.API.TokenInQuery {
		t.Error("API.TokenInQuery = false, want true")
	}
	if cfg.Realtime.LiveTopic != "/topic/audit" {
		t.Errorf("Realtime.LiveTopic = %q, want %q", cfg.Realtime.LiveTopic, "/topic/audit")
	}
	if cfg.Pager.Timeout != 3*time.Second {
		t.Errorf("Pager.Timeout = %v, want 3s", cfg.Pager.Timeout)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_AUDIT_TOKEN", "secret123")

	yaml := `
instance:
  id: test-monitor
api:
  token: ${TEST_AUDIT_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-monitor
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.API.Transport != DefaultTransport {
		t.Errorf("API.Transport = %q, want default %q", cfg.API.Transport, DefaultTransport)
	}
	if cfg.Realtime.ResponseTopic != DefaultResponseTopic {
		t.Errorf("Realtime.ResponseTopic = %q, want default %q", cfg.Realtime.ResponseTopic, DefaultResponseTopic)
	}
	if cfg.Feed.Capacity != DefaultFeedCapacity {
		t.Errorf("Feed.Capacity = %d, want default %d", cfg.Feed.Capacity, DefaultFeedCapacity)
	}
	if cfg.Feed.PollInterval != DefaultFeedPollInterval {
		t.Errorf("Feed.PollInterval = %v, want default %v", cfg.Feed.PollInterval, DefaultFeedPollInterval)
	}
	if cfg.Pager.Timeout != DefaultPageTimeout {
		t.Errorf("Pager.Timeout = %v, want default %v", cfg.Pager.Timeout, DefaultPageTimeout)
	}
	if cfg.Pager.MaxLoading != DefaultMaxLoading {
		t.Errorf("Pager.MaxLoading = %v, want default %v", cfg.Pager.MaxLoading, DefaultMaxLoading)
	}
	if cfg.Reconnect.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Reconnect.MaxAttempts = %d, want default %d", cfg.Reconnect.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
	if cfg.Archive.Database.AppName != DefaultDBAppName {
		t.Errorf("Archive.Database.AppName = %q, want default %q", cfg.Archive.Database.AppName, DefaultDBAppName)
	}
	if cfg.Archive.Database.ConnectTimeout != DefaultDBConnectTimeout {
		t.Errorf("Archive.Database.ConnectTimeout = %v, want default %v", cfg.Archive.Database.ConnectTimeout, DefaultDBConnectTimeout)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "api:\n  transport: sockjs\n")

	if _, err := LoadAndValidate(path); err == nil {
		t.Error("expected validation error for missing instance id")
	}

	path = writeTempFile(t, "instance:\n  id: ok\n")
	if _, err := LoadAndValidate(path); err != nil {
		t.Errorf("LoadAndValidate unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{Instance: InstanceConfig{ID: "test"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.API.Transport = "longpoll" },
			wantErr: `api.transport must be websocket or sockjs, got "longpoll"`,
		},
		{
			name:    "zero feed capacity",
			mutate:  func(c *Config) { c.Feed.Capacity = -1 },
			wantErr: "feed.capacity must be >= 1",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Reconnect.MaxAttempts = -2 },
			wantErr: "reconnect.max_attempts must be >= 1",
		},
		{
			name:    "negative pager timeout",
			mutate:  func(c *Config) { c.Pager.Timeout = -time.Second },
			wantErr: "pager.timeout must be > 0",
		},
		{
			name:    "archive enabled without host",
			mutate:  func(c *Config) { c.Archive.Enabled = true },
			wantErr: "archive.database.host is required",
		},
		{
			name: "archive min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "archive.database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "archive negative connect timeout",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 1, ConnectTimeout: -time.Second}
			},
			wantErr: "archive.database.connect_timeout must not be negative",
		},
		{
			name:    "archive disabled ignores database",
			mutate:  func(c *Config) { c.Archive.Database.Host = "" },
			wantErr: "",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level must be debug, info, warn or error, got "loud"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
