package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Session.CacheType != "memory" {
		t.Errorf("Session.CacheType = %s, want memory", cfg.Session.CacheType)
	}
	if cfg.Bus.Type != "memory" {
		t.Errorf("Bus.Type = %s, want memory", cfg.Bus.Type)
	}
	if cfg.Ask.RetrieveLimit != 20 || cfg.Ask.TopK != 5 {
		t.Errorf("Ask = %+v, want retrieve_limit=20 top_k=5", cfg.Ask)
	}
	if cfg.Latency.Fast != 50 || cfg.Latency.VerySlow != 1000 {
		t.Errorf("Latency = %+v, want 50/200/500/1000", cfg.Latency)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("LOGSAGE_PORT", "9090")
	os.Setenv("LOGSAGE_LOG_LEVEL", "debug")
	os.Setenv("LOGSAGE_SESSION_MAX_TURNS", "20")
	defer func() {
		os.Unsetenv("LOGSAGE_PORT")
		os.Unsetenv("LOGSAGE_LOG_LEVEL")
		os.Unsetenv("LOGSAGE_SESSION_MAX_TURNS")
	}()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("Session.MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false with debug level")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
host: "127.0.0.1"
port: 8888
log:
  level: warn
  format: json
qdrant:
  url: "http://custom:6333"
  collection: prod_events
session:
  cache_type: redis
  redis_url: "redis://cache:6379"
latency:
  fast: 25
  normal: 100
  slow: 400
  very_slow: 2000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "127.0.0.1" || cfg.Port != 8888 {
		t.Errorf("server = %s:%d, want 127.0.0.1:8888", cfg.Host, cfg.Port)
	}
	if cfg.Address() != "127.0.0.1:8888" {
		t.Errorf("Address() = %s, want 127.0.0.1:8888", cfg.Address())
	}
	if cfg.Qdrant.Collection != "prod_events" {
		t.Errorf("Qdrant.Collection = %s, want prod_events", cfg.Qdrant.Collection)
	}
	if cfg.Session.CacheType != "redis" {
		t.Errorf("Session.CacheType = %s, want redis", cfg.Session.CacheType)
	}
	if cfg.Latency.Fast != 25 || cfg.Latency.VerySlow != 2000 {
		t.Errorf("Latency = %+v, want 25/100/400/2000", cfg.Latency)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Port = 0 }},
		{"empty postgres dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"invalid cache type", func(c *Config) { c.Session.CacheType = "memcached" }},
		{"invalid bus type", func(c *Config) { c.Bus.Type = "nats" }},
		{"kafka without brokers", func(c *Config) { c.Bus.Type = "kafka"; c.Bus.KafkaBrokers = "" }},
		{"top_k over retrieve_limit", func(c *Config) { c.Ask.TopK = 50 }},
		{"non-increasing latency boundaries", func(c *Config) { c.Latency.Slow = 5000 }},
		{"invalid log level", func(c *Config) { c.Log.Level = "trace" }},
		{"invalid log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
