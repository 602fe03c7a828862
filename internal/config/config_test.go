package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", cfg.Server.BaseURL)
	}
	if cfg.Channel.Path != "/ws" || cfg.Channel.ReconnectDelay != 3*time.Second {
		t.Fatalf("unexpected channel defaults: %+v", cfg.Channel)
	}
	if cfg.Snapshot.Interval != 5*time.Second {
		t.Fatalf("expected 5s snapshot interval, got %v", cfg.Snapshot.Interval)
	}
	if cfg.ListenAddr() != "" {
		t.Fatalf("expected API disabled by default, got %q", cfg.ListenAddr())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  base_url: https://ingest.internal:9443
  listen_port: 9090
channel:
  path: /stream
  reconnect_delay: 1s
snapshot:
  interval: 30s
  timeout: 2s
  max_retries: 4
hub:
  buffer_size: 16
  max_batch: 4
  max_wait: 100ms
storage:
  dsn: postgres://progress@localhost/progress
  ensure_schema: false
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.BaseURL != "https://ingest.internal:9443" || cfg.ListenAddr() != ":9090" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Channel.Path != "/stream" || cfg.Channel.ReconnectDelay != time.Second {
		t.Fatalf("expected channel overrides to apply: %+v", cfg.Channel)
	}
	if cfg.Snapshot.Interval != 30*time.Second || cfg.Snapshot.MaxRetries != 4 {
		t.Fatalf("expected snapshot overrides to apply: %+v", cfg.Snapshot)
	}
	if cfg.Hub.MaxBatch != 4 || cfg.Hub.MaxWait != 100*time.Millisecond {
		t.Fatalf("expected hub overrides to apply: %+v", cfg.Hub)
	}
	if cfg.Storage.DSN == "" || cfg.Storage.EnsureSchema {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PROGRESS_SERVER_BASE_URL", "http://backend:8000")
	t.Setenv("PROGRESS_SNAPSHOT_INTERVAL", "1m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://backend:8000" {
		t.Fatalf("expected env base url, got %q", cfg.Server.BaseURL)
	}
	if cfg.Snapshot.Interval != time.Minute {
		t.Fatalf("expected env interval, got %v", cfg.Snapshot.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{BaseURL: "http://localhost:8080"},
		Channel:  ChannelConfig{Path: "/ws", ReconnectDelay: 3 * time.Second},
		Snapshot: SnapshotConfig{Interval: 5 * time.Second, Timeout: time.Second},
		Hub:      HubConfig{BufferSize: 8, MaxBatch: 2},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "relative base url",
			cfg: func() Config {
				c := base
				c.Server.BaseURL = "localhost"
				return c
			}(),
			want: "server.base_url",
		},
		{
			name: "websocket base url",
			cfg: func() Config {
				c := base
				c.Server.BaseURL = "ws://localhost:8080"
				return c
			}(),
			want: "http or https",
		},
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.ListenPort = 70000
				return c
			}(),
			want: "server.listen_port",
		},
		{
			name: "channel path",
			cfg: func() Config {
				c := base
				c.Channel.Path = "ws"
				return c
			}(),
			want: "channel.path",
		},
		{
			name: "reconnect delay",
			cfg: func() Config {
				c := base
				c.Channel.ReconnectDelay = 0
				return c
			}(),
			want: "channel.reconnect_delay",
		},
		{
			name: "snapshot interval",
			cfg: func() Config {
				c := base
				c.Snapshot.Interval = 0
				return c
			}(),
			want: "snapshot.interval",
		},
		{
			name: "negative retries",
			cfg: func() Config {
				c := base
				c.Snapshot.MaxRetries = -1
				return c
			}(),
			want: "snapshot.max_retries",
		},
		{
			name: "hub sizes",
			cfg: func() Config {
				c := base
				c.Hub.MaxBatch = 0
				return c
			}(),
			want: "hub.",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
