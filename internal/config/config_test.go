package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "AUTH_MODE", "AUTO_CREATE_DOCUMENTS", "STORE_RETRY_DELAY_MS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.StoreDriver != "memory" {
		t.Fatalf("unexpected store driver %q", cfg.StoreDriver)
	}
	if cfg.AuthMode != AuthModeSoft {
		t.Fatalf("unexpected auth mode %q", cfg.AuthMode)
	}
	if !cfg.AutoCreate {
		t.Fatal("auto-create should default to on")
	}
	if cfg.StoreRetryDelay != 50*time.Millisecond {
		t.Fatalf("unexpected retry delay %v", cfg.StoreRetryDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("AUTH_MODE", "HARD")
	t.Setenv("AUTO_CREATE_DOCUMENTS", "false")
	t.Setenv("SEND_QUEUE_SIZE", "8")
	t.Setenv("STORE_RETRY_DELAY_MS", "5")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "not-a-number")

	cfg := Load()
	if cfg.StoreDriver != "redis" {
		t.Fatalf("unexpected store driver %q", cfg.StoreDriver)
	}
	if cfg.AuthMode != AuthModeHard {
		t.Fatalf("unexpected auth mode %q", cfg.AuthMode)
	}
	if cfg.AutoCreate {
		t.Fatal("expected auto-create to be disabled")
	}
	if cfg.SendQueueSize != 8 {
		t.Fatalf("unexpected queue size %d", cfg.SendQueueSize)
	}
	if cfg.StoreRetryDelay != 5*time.Millisecond {
		t.Fatalf("unexpected retry delay %v", cfg.StoreRetryDelay)
	}
	if cfg.MaxMessageBytes != 1<<20 {
		t.Fatalf("invalid values should fall back, got %d", cfg.MaxMessageBytes)
	}
}
