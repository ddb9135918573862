package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory engine service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// Storage tiers. Empty URLs select the in-process adapters.
	RedisURL    string
	DatabaseURL string

	// CacheTTL > 0 enables stateless mode: every cache write carries the TTL
	// and sessions may expire without an explicit logout.
	CacheTTL time.Duration

	// Window and extraction geometry.
	WindowCapacity   int
	ProcessingSpan   int
	KeyPointSpan     int
	KeyPointCount    int
	KeyPointSpanUnit string

	// Compaction behavior.
	CompactionMode     string
	CompactRetryBudget int
	TransformTimeout   time.Duration

	RedactPII bool

	TransformMode      string
	AnthropicAPIKey    string
	AnthropicModel     string
	TransformMaxTokens int

	TavilyAPIKey        string
	TavilyBaseURL       string
	WebSearchMaxResults int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "shramai"),
		AllowAnyOrigin:           false,
		RedisURL:                 stringsTrimSpace("REDIS_URL"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		KeyPointSpanUnit:         envOrDefault("MEMORY_KEYPOINT_SPAN_UNIT", "turns"),
		CompactionMode:           envOrDefault("MEMORY_COMPACTION_MODE", "sync"),
		TransformMode:            envOrDefault("TRANSFORM_MODE", "auto"),
		AnthropicAPIKey:          stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:           envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		TavilyAPIKey:             stringsTrimSpace("TAVILY_API_KEY"),
		TavilyBaseURL:            envOrDefault("TAVILY_BASE_URL", "https://api.tavily.com"),
		WindowCapacity:           4,
		ProcessingSpan:           8,
		KeyPointSpan:             8,
		KeyPointCount:            5,
		CompactRetryBudget:       2,
		TransformMaxTokens:       512,
		WebSearchMaxResults:      3,
		RedactPII:                true,
		CacheTTL:                 0,
		TransformTimeout:         8 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL, err = durationFromEnv("MEMORY_CACHE_TTL", cfg.CacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TransformTimeout, err = durationFromEnv("TRANSFORM_TIMEOUT", cfg.TransformTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowCapacity, err = intFromEnv("MEMORY_WINDOW_CAPACITY", cfg.WindowCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.ProcessingSpan, err = intFromEnv("MEMORY_PROCESSING_SPAN", cfg.ProcessingSpan)
	if err != nil {
		return Config{}, err
	}
	cfg.KeyPointSpan, err = intFromEnv("MEMORY_KEYPOINT_SPAN", cfg.KeyPointSpan)
	if err != nil {
		return Config{}, err
	}
	cfg.KeyPointCount, err = intFromEnv("MEMORY_KEYPOINT_COUNT", cfg.KeyPointCount)
	if err != nil {
		return Config{}, err
	}
	cfg.CompactRetryBudget, err = intFromEnv("MEMORY_COMPACT_RETRIES", cfg.CompactRetryBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.TransformMaxTokens, err = intFromEnv("TRANSFORM_MAX_TOKENS", cfg.TransformMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.WebSearchMaxResults, err = intFromEnv("WEBSEARCH_MAX_RESULTS", cfg.WebSearchMaxResults)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.WindowCapacity <= 0 {
		return Config{}, fmt.Errorf("MEMORY_WINDOW_CAPACITY must be positive")
	}
	if cfg.ProcessingSpan < cfg.WindowCapacity {
		return Config{}, fmt.Errorf("MEMORY_PROCESSING_SPAN must be >= MEMORY_WINDOW_CAPACITY")
	}
	if cfg.KeyPointSpan <= 0 {
		return Config{}, fmt.Errorf("MEMORY_KEYPOINT_SPAN must be positive")
	}
	if cfg.KeyPointCount <= 0 {
		return Config{}, fmt.Errorf("MEMORY_KEYPOINT_COUNT must be positive")
	}
	if cfg.CompactRetryBudget < 0 {
		return Config{}, fmt.Errorf("MEMORY_COMPACT_RETRIES must be >= 0")
	}
	if cfg.CacheTTL < 0 {
		return Config{}, fmt.Errorf("MEMORY_CACHE_TTL must be >= 0")
	}
	if cfg.TransformMaxTokens <= 0 {
		return Config{}, fmt.Errorf("TRANSFORM_MAX_TOKENS must be positive")
	}
	if cfg.WebSearchMaxResults <= 0 {
		return Config{}, fmt.Errorf("WEBSEARCH_MAX_RESULTS must be positive")
	}
	switch cfg.KeyPointSpanUnit {
	case "turns", "session":
	default:
		return Config{}, fmt.Errorf("MEMORY_KEYPOINT_SPAN_UNIT must be turns or session")
	}
	switch cfg.CompactionMode {
	case "sync", "async":
	default:
		return Config{}, fmt.Errorf("MEMORY_COMPACTION_MODE must be sync or async")
	}
	switch cfg.TransformMode {
	case "auto", "anthropic", "static":
	default:
		return Config{}, fmt.Errorf("TRANSFORM_MODE must be auto, anthropic, or static")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
