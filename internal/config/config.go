// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Hub      HubConfig      `mapstructure:"hub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig points at the ingestion backend and sets the local API port.
type ServerConfig struct {
	// BaseURL is the backend origin, for example http://localhost:8080.
	BaseURL string `mapstructure:"base_url"`
	// ListenPort serves the read-only API; 0 disables it.
	ListenPort int `mapstructure:"listen_port"`
}

// ChannelConfig controls the streaming event channel.
type ChannelConfig struct {
	Path             string        `mapstructure:"path"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// SnapshotConfig controls polling of the jobs listing.
type SnapshotConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
}

// HubConfig tunes change batching toward the sinks.
type HubConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	MaxBatch    int           `mapstructure:"max_batch"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// StorageConfig selects the progress repository. An empty DSN keeps history
// in memory.
type StorageConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.listen_port", 0)
	v.SetDefault("channel.path", "/ws")
	v.SetDefault("channel.reconnect_delay", "3s")
	v.SetDefault("channel.handshake_timeout", "10s")
	v.SetDefault("snapshot.interval", "5s")
	v.SetDefault("snapshot.timeout", "10s")
	v.SetDefault("snapshot.max_retries", 2)
	v.SetDefault("snapshot.retry_wait_min", "250ms")
	v.SetDefault("snapshot.retry_wait_max", "2s")
	v.SetDefault("hub.buffer_size", 1024)
	v.SetDefault("hub.max_batch", 64)
	v.SetDefault("hub.max_wait", "500ms")
	v.SetDefault("hub.sink_timeout", "5s")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.ensure_schema", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must use http or https")
	}
	if c.Server.ListenPort < 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("server.listen_port must be between 0 and 65535")
	}
	if !strings.HasPrefix(c.Channel.Path, "/") {
		return fmt.Errorf("channel.path must start with /")
	}
	if c.Channel.ReconnectDelay <= 0 {
		return fmt.Errorf("channel.reconnect_delay must be > 0")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be > 0")
	}
	if c.Snapshot.Timeout <= 0 {
		return fmt.Errorf("snapshot.timeout must be > 0")
	}
	if c.Snapshot.MaxRetries < 0 {
		return fmt.Errorf("snapshot.max_retries must be >= 0")
	}
	if c.Hub.BufferSize <= 0 || c.Hub.MaxBatch <= 0 {
		return errors.New("hub.buffer_size and hub.max_batch must be > 0")
	}
	return nil
}

// ListenAddr returns the API listen address, or "" when the API is disabled.
func (c Config) ListenAddr() string {
	if c.Server.ListenPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Server.ListenPort)
}
