package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsSelectInProcessTiers(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty default", cfg.RedisURL)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.WindowCapacity != 4 {
		t.Fatalf("WindowCapacity = %d, want 4", cfg.WindowCapacity)
	}
	if cfg.KeyPointSpan != 8 || cfg.KeyPointCount != 5 {
		t.Fatalf("key point geometry = %d/%d, want 8/5", cfg.KeyPointSpan, cfg.KeyPointCount)
	}
	if cfg.CompactionMode != "sync" {
		t.Fatalf("CompactionMode = %q, want %q", cfg.CompactionMode, "sync")
	}
	if cfg.TransformMode != "auto" {
		t.Fatalf("TransformMode = %q, want %q", cfg.TransformMode, "auto")
	}
	if cfg.CacheTTL != 0 {
		t.Fatalf("CacheTTL = %v, want 0 (stateful mode)", cfg.CacheTTL)
	}
}

func TestLoadUsesExplicitTierURLs(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/memdb")
	t.Setenv("MEMORY_CACHE_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q, want explicit value", cfg.RedisURL)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/memdb" {
		t.Fatalf("DatabaseURL = %q, want explicit value", cfg.DatabaseURL)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Fatalf("CacheTTL = %v, want 30m", cfg.CacheTTL)
	}
}

func TestLoadRejectsWindowLargerThanProcessingSpan(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_WINDOW_CAPACITY", "10")
	t.Setenv("MEMORY_PROCESSING_SPAN", "4")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want span validation error")
	}
}

func TestLoadRejectsUnknownCompactionMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_COMPACTION_MODE", "eventually")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want mode validation error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"REDIS_URL",
		"DATABASE_URL",
		"MEMORY_CACHE_TTL",
		"MEMORY_WINDOW_CAPACITY",
		"MEMORY_PROCESSING_SPAN",
		"MEMORY_KEYPOINT_SPAN",
		"MEMORY_KEYPOINT_COUNT",
		"MEMORY_KEYPOINT_SPAN_UNIT",
		"MEMORY_COMPACTION_MODE",
		"MEMORY_COMPACT_RETRIES",
		"MEMORY_REDACT_PII",
		"TRANSFORM_MODE",
		"TRANSFORM_TIMEOUT",
		"TRANSFORM_MAX_TOKENS",
		"ANTHROPIC_API_KEY",
		"ANTHROPIC_MODEL",
		"TAVILY_API_KEY",
		"TAVILY_BASE_URL",
		"WEBSEARCH_MAX_RESULTS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
