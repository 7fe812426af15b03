package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskdesk.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.API.BaseURL, "TASKDESK_API_BASE")
	setDuration(&cfg.API.Timeout, "TASKDESK_API_TIMEOUT")
	setString(&cfg.WS.BaseURL, "TASKDESK_WS_BASE")
	setDuration(&cfg.WS.InitialBackoff, "TASKDESK_WS_INITIAL_BACKOFF")
	setDuration(&cfg.WS.MaxBackoff, "TASKDESK_WS_MAX_BACKOFF")
	setString(&cfg.Logging.Level, "TASKDESK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKDESK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKDESK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TASKDESK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKDESK_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "TASKDESK_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "TASKDESK_CACHE_TTL")
	setString(&cfg.Session.File, "TASKDESK_SESSION_FILE")
	setBool(&cfg.Metrics.Enabled, "TASKDESK_METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "TASKDESK_METRICS_ENDPOINT")
	setString(&cfg.Dev.Port, "TASKDESK_DEV_PORT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if cfg.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if cfg.WS.InitialBackoff <= 0 {
		return errors.New("ws.initial_backoff must be positive")
	}
	if cfg.WS.MaxBackoff < cfg.WS.InitialBackoff {
		return errors.New("ws.max_backoff must be >= ws.initial_backoff")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
