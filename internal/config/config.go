// Package config provides configuration loading for opsdesk.
//
// Configuration is read from a YAML file, overridden by OPSDESK_* environment
// variables, then completed with defaults and validated. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete opsdesk configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Session   SessionConfig   `koanf:"session"`
	HTTP      HTTPConfig      `koanf:"http"`
	Logging   LoggingConfig   `koanf:"logging"`
	Console   ConsoleConfig   `koanf:"console"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// APIConfig holds REST collaborator settings.
type APIConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Token     Secret        `koanf:"token"` // Overrides the token stored in the session file
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // Requests per second
	Burst     int           `koanf:"burst"`
}

// RealtimeConfig holds the realtime transport settings, including the
// reconnection policy handed to the NATS client.
type RealtimeConfig struct {
	URL             string        `koanf:"url"`
	SubjectPrefix   string        `koanf:"subject_prefix"`
	MaxReconnects   int           `koanf:"max_reconnects"` // -1 retries forever
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	ReconnectJitter time.Duration `koanf:"reconnect_jitter"`
	FlushTimeout    time.Duration `koanf:"flush_timeout"`
	DialTimeout     time.Duration `koanf:"dial_timeout"`
	NoEcho          bool          `koanf:"no_echo"`
}

// SessionConfig locates the session file written by `opsdesk login`.
type SessionConfig struct {
	Path string `koanf:"path"`
}

// HTTPConfig holds the ops HTTP server settings used by `opsdesk watch`.
type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the user-facing subset of logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"` // Empty means stdout
}

// ConsoleConfig holds terminal console settings.
type ConsoleConfig struct {
	PageSize        int           `koanf:"page_size"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	TrendSize       int           `koanf:"trend_size"`
}

// TelemetryConfig controls OTLP trace export. Disabled by default.
type TelemetryConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Endpoint        string        `koanf:"endpoint"`
	Protocol        string        `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool          `koanf:"insecure"`
	SampleRate      float64       `koanf:"sample_rate"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the API base URL is missing or not an absolute http(s) URL
//   - the realtime URL is missing
//   - any timeout or the rate limit is not positive
//   - the ops HTTP port is not between 1 and 65535
//   - the logging format is neither json nor console
//   - telemetry is enabled without an endpoint or with an unknown protocol
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid api base url: %q (must be absolute http(s) URL)", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api timeout must be positive")
	}
	if c.API.RateLimit <= 0 {
		return errors.New("api rate limit must be positive")
	}
	if c.API.Burst < 1 {
		return fmt.Errorf("invalid api burst: %d (must be >= 1)", c.API.Burst)
	}

	if c.Realtime.URL == "" {
		return errors.New("realtime url is required")
	}
	if c.Realtime.SubjectPrefix == "" {
		return errors.New("realtime subject prefix is required")
	}
	if c.Realtime.MaxReconnects < -1 {
		return fmt.Errorf("invalid realtime max reconnects: %d (must be >= -1)", c.Realtime.MaxReconnects)
	}
	if c.Realtime.ReconnectWait <= 0 || c.Realtime.FlushTimeout <= 0 || c.Realtime.DialTimeout <= 0 {
		return errors.New("realtime reconnect wait, flush timeout and dial timeout must be positive")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 1-65535)", c.HTTP.Port)
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Console.PageSize < 1 {
		return fmt.Errorf("invalid console page size: %d", c.Console.PageSize)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("telemetry protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}
