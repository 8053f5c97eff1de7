package db

import "testing"

func TestNewPoolConfig_AppliesSizing(t *testing.T) {
	pc, err := newPoolConfig(Config{
		URL:      "postgres://localhost:5432/docsync",
		MaxConns: 40,
		MinConns: 5,
	})
	if err != nil {
		t.Fatalf("newPoolConfig() error: %v", err)
	}
	if pc.MaxConns != 40 || pc.MinConns != 5 {
		t.Errorf("Expected maxConns=40 minConns=5, got %d/%d", pc.MaxConns, pc.MinConns)
	}
}

func TestNewPoolConfig_DefaultsWhenUnset(t *testing.T) {
	pc, err := newPoolConfig(Config{URL: "postgres://localhost:5432/docsync"})
	if err != nil {
		t.Fatalf("newPoolConfig() error: %v", err)
	}
	if pc.MaxConns != defaultMaxConns || pc.MinConns != defaultMinConns {
		t.Errorf("Expected default sizing %d/%d, got %d/%d",
			defaultMaxConns, defaultMinConns, pc.MaxConns, pc.MinConns)
	}
}

func TestNewPoolConfig_RejectsMalformedURL(t *testing.T) {
	if _, err := newPoolConfig(Config{URL: "://not-a-url"}); err == nil {
		t.Error("Expected error for malformed connection string")
	}
}
