package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("expected api base http://localhost:8000, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 20*time.Second {
		t.Errorf("expected api timeout 20s, got %v", cfg.API.Timeout)
	}
	if cfg.WS.InitialBackoff != time.Second {
		t.Errorf("expected initial backoff 1s, got %v", cfg.WS.InitialBackoff)
	}
	if cfg.WS.MaxBackoff != 30*time.Second {
		t.Errorf("expected max backoff 30s, got %v", cfg.WS.MaxBackoff)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled by default")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
api:
  base_url: "https://tasks.example.com"
ws:
  base_url: "wss://tasks.example.com"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.API.BaseURL != "https://tasks.example.com" {
		t.Errorf("expected yaml api base, got %s", cfg.API.BaseURL)
	}
	if cfg.WS.BaseURL != "wss://tasks.example.com" {
		t.Errorf("expected yaml ws base, got %s", cfg.WS.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.API.Timeout != 20*time.Second {
		t.Errorf("expected default api timeout, got %v", cfg.API.Timeout)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASKDESK_API_BASE", "http://api.test:9000")
	t.Setenv("TASKDESK_WS_MAX_BACKOFF", "1m")
	t.Setenv("TASKDESK_BREAKER_MAX_FAILURES", "9")
	t.Setenv("TASKDESK_LOG_LEVEL", "warn")
	t.Setenv("TASKDESK_METRICS_ENABLED", "true")

	loadEnv(&cfg)

	if cfg.API.BaseURL != "http://api.test:9000" {
		t.Errorf("expected env api base, got %s", cfg.API.BaseURL)
	}
	if cfg.WS.MaxBackoff != time.Minute {
		t.Errorf("expected max backoff 1m, got %v", cfg.WS.MaxBackoff)
	}
	if cfg.Breaker.MaxFailures != 9 {
		t.Errorf("expected max_failures 9, got %d", cfg.Breaker.MaxFailures)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled from env")
	}
}

func TestEnvIgnoresMalformedValues(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASKDESK_BREAKER_MAX_FAILURES", "lots")
	t.Setenv("TASKDESK_API_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("malformed int should keep default, got %d", cfg.Breaker.MaxFailures)
	}
	if cfg.API.Timeout != 20*time.Second {
		t.Errorf("malformed duration should keep default, got %v", cfg.API.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"empty api base", func(c *Config) { c.API.BaseURL = "" }, true},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, true},
		{"max backoff below initial", func(c *Config) { c.WS.MaxBackoff = c.WS.InitialBackoff / 2 }, true},
		{"zero breaker failures", func(c *Config) { c.Breaker.MaxFailures = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "taskdesk.yaml")
	content := `
api:
  base_url: "http://yaml.test"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKDESK_API_BASE", "http://env.test")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}

	// ENV beats YAML, YAML beats defaults.
	if cfg.API.BaseURL != "http://env.test" {
		t.Errorf("env should win, got %s", cfg.API.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("yaml should win over default, got %s", cfg.Logging.Level)
	}
}
