package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"relative api url", func(c *Config) { c.API.BaseURL = "/api" }, "invalid api base url"},
		{"ftp api url", func(c *Config) { c.API.BaseURL = "ftp://host/api" }, "invalid api base url"},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, "api timeout"},
		{"negative rate", func(c *Config) { c.API.RateLimit = -1 }, "rate limit"},
		{"zero burst", func(c *Config) { c.API.Burst = 0 }, "burst"},
		{"no realtime url", func(c *Config) { c.Realtime.URL = "" }, "realtime url"},
		{"bad reconnects", func(c *Config) { c.Realtime.MaxReconnects = -2 }, "max reconnects"},
		{"zero flush", func(c *Config) { c.Realtime.FlushTimeout = 0 }, "flush timeout"},
		{"port range", func(c *Config) { c.HTTP.Port = 70000 }, "invalid http port"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"page size", func(c *Config) { c.Console.PageSize = 0 }, "page size"},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, "telemetry endpoint"},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }, "telemetry protocol"},
		{"telemetry sample rate", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SampleRate = 2 }, "sample rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"raw"`), &s))
	assert.Equal(t, "raw", s.Value())

	require.NoError(t, s.UnmarshalText([]byte("text")))
	assert.Equal(t, "text", s.Value())
}
