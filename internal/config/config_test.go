package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Addr != ":8081" {
		t.Errorf("Expected default addr :8081, got %s", cfg.Server.Addr)
	}
	if cfg.Sync.QueueCapacity != 1000 {
		t.Errorf("Expected queue capacity 1000, got %d", cfg.Sync.QueueCapacity)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.RateLimit.MaxRequests != 600 {
		t.Errorf("Expected 600 requests per window, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.Scheduler.Enabled {
		t.Error("Scheduler should be disabled by default")
	}
	if got := cfg.Server.GetReadTimeout(); got != 15*time.Second {
		t.Errorf("Expected read timeout 15s, got %s", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: ":9090"
  read_timeout: "5s"
sync:
  queue_capacity: 10
scheduler:
  enabled: true
  interval: "@every 1m"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", cfg.Server.Addr)
	}
	if got := cfg.Server.GetReadTimeout(); got != 5*time.Second {
		t.Errorf("Expected read timeout 5s, got %s", got)
	}
	if cfg.Sync.QueueCapacity != 10 {
		t.Errorf("Expected queue capacity 10, got %d", cfg.Sync.QueueCapacity)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Expected scheduler enabled")
	}
	// Untouched keys keep their defaults
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Sync.MaxRetries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestParseDuration_Fallback(t *testing.T) {
	if got := parseDuration("garbage", 7*time.Second); got != 7*time.Second {
		t.Errorf("Expected fallback 7s, got %s", got)
	}
	if got := parseDuration("", 3*time.Second); got != 3*time.Second {
		t.Errorf("Expected fallback 3s, got %s", got)
	}
}
