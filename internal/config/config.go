// Package config provides hierarchical configuration loading for taskdesk.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the taskdesk client.
type Config struct {
	API     API     `yaml:"api"`
	WS      WS      `yaml:"ws"`
	Logging Logging `yaml:"logging"`
	Breaker Breaker `yaml:"breaker"`
	Cache   Cache   `yaml:"cache"`
	Session Session `yaml:"session"`
	Metrics Metrics `yaml:"metrics"`
	Dev     Dev     `yaml:"dev"`
}

// API holds REST backend configuration.
type API struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// WS holds WebSocket configuration. BaseURL may be empty, in which case it is
// derived from the API base by swapping http(s) for ws(s).
type WS struct {
	BaseURL        string        `yaml:"base_url"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for the REST layer.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the in-process response cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Session holds persisted session state configuration. An empty File means
// a taskdesk/session.json under the user config directory.
type Session struct {
	File string `yaml:"file"`
}

// Metrics holds OpenTelemetry export configuration. Disabled by default.
type Metrics struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Dev holds the built-in stub backend configuration.
type Dev struct {
	Port string `yaml:"port"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		API: API{
			BaseURL: "http://localhost:8000",
			Timeout: 20 * time.Second,
		},
		WS: WS{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "taskdesk",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB: 16,
			TTL:       30 * time.Second,
		},
		Metrics: Metrics{
			Endpoint: "localhost:4317",
		},
		Dev: Dev{
			Port: "8000",
		},
	}
}
