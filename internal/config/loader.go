package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "OPSDESK_"
)

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OPSDESK_API_BASE_URL, OPSDESK_REALTIME_URL, etc.)
//  2. YAML config file (~/.config/opsdesk/config.yaml)
//  3. Hardcoded defaults
//
// A missing file is not an error. An existing file must live under
// ~/.config/opsdesk/ or /etc/opsdesk/, have 0600 or 0400 permissions and be
// at most 1MB.
//
// Environment variables drop the OPSDESK_ prefix, are lowercased and split on
// the first underscore:
//
//	OPSDESK_API_BASE_URL        -> api.base_url
//	OPSDESK_REALTIME_NO_ECHO    -> realtime.no_echo
//	OPSDESK_LOGGING_FILE        -> logging.file
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the opened descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps OPSDESK_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Dir returns the per-user opsdesk configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "opsdesk"), nil
}

// EnsureDir creates the opsdesk config directory with 0700 permissions.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
// Runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	dir, err := Dir()
	if err != nil {
		return err
	}

	for _, allowed := range []string{dir, "/etc/opsdesk"} {
		if strings.HasPrefix(resolvedPath, allowed+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/opsdesk/ or /etc/opsdesk/")
}

// validateConfigFileProperties checks permissions and size of an opened file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:5000/api"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 15 * time.Second
	}
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = 10
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 5
	}

	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = "nats://localhost:4222"
	}
	if cfg.Realtime.SubjectPrefix == "" {
		cfg.Realtime.SubjectPrefix = "opsdesk"
	}
	if cfg.Realtime.MaxReconnects == 0 {
		cfg.Realtime.MaxReconnects = 60
	}
	if cfg.Realtime.ReconnectWait == 0 {
		cfg.Realtime.ReconnectWait = 2 * time.Second
	}
	if cfg.Realtime.ReconnectJitter == 0 {
		cfg.Realtime.ReconnectJitter = 500 * time.Millisecond
	}
	if cfg.Realtime.FlushTimeout == 0 {
		cfg.Realtime.FlushTimeout = 2 * time.Second
	}
	if cfg.Realtime.DialTimeout == 0 {
		cfg.Realtime.DialTimeout = 5 * time.Second
	}

	if cfg.Session.Path == "" {
		if dir, err := Dir(); err == nil {
			cfg.Session.Path = filepath.Join(dir, "session.json")
		}
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "localhost"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9191
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Console.PageSize == 0 {
		cfg.Console.PageSize = 50
	}
	if cfg.Console.RefreshInterval == 0 {
		cfg.Console.RefreshInterval = 30 * time.Second
	}
	if cfg.Console.TrendSize == 0 {
		cfg.Console.TrendSize = 30
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = 5 * time.Second
	}
}
