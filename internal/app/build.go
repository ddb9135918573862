package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/agent"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/config"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/httpapi"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/memory"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/session"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/transform"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/websearch"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Gateway  *memory.Gateway
	Agent    *agent.Agent
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pools, cache connections, background workers).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cache, err := store.NewCache(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cache init failed: %w", err)
	}
	durable, err := store.NewDurable(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("durable store init failed: %w", err)
	}

	transformer, err := transform.NewTransformer(transform.Config{
		Mode:      cfg.TransformMode,
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.AnthropicModel,
		MaxTokens: cfg.TransformMaxTokens,
	})
	if err != nil {
		_ = durable.Close()
		_ = cache.Close()
		return nil, fmt.Errorf("transformer init failed: %w", err)
	}

	ledger := memory.NewLedger(durable, metrics)
	compactor := memory.NewCompactor(transformer, cfg.TransformTimeout, cfg.CompactRetryBudget, metrics)
	window := memory.NewWindow(cache, durable, ledger, compactor, memory.WindowConfig{
		Capacity:        cfg.WindowCapacity,
		CacheTTL:        cfg.CacheTTL,
		AsyncCompaction: cfg.CompactionMode == "async",
	}, metrics)
	extractor := memory.NewExtractor(transformer, cache, durable, ledger, memory.ExtractorConfig{
		Span:     cfg.KeyPointSpan,
		Count:    cfg.KeyPointCount,
		SpanUnit: cfg.KeyPointSpanUnit,
		CacheTTL: cfg.CacheTTL,
		Timeout:  cfg.TransformTimeout,
	}, metrics)
	gateway := memory.NewGateway(ledger, window, extractor, memory.GatewayConfig{
		RedactPII:      cfg.RedactPII,
		ProcessingSpan: cfg.ProcessingSpan,
	}, metrics)

	sessions := session.NewManager(ledger, window, extractor, cache, session.Config{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		RecordTTL:         cfg.CacheTTL,
	}, metrics)
	sessions.StartJanitor(ctx, 0)

	searcher := websearch.NewSearcher(websearch.Config{
		APIKey:     cfg.TavilyAPIKey,
		BaseURL:    cfg.TavilyBaseURL,
		MaxResults: cfg.WebSearchMaxResults,
	})

	ag := agent.New(gateway, searcher)
	api := httpapi.New(cfg, sessions, ag, gateway, ledger, metrics)

	cleanup := func() error {
		var errs []string
		// Gateway first so in-flight extraction goroutines finish, then the
		// window so queued compactions drain before the stores close.
		gateway.Close()
		window.Close()
		if err := cache.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := durable.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Gateway:  gateway,
		Agent:    ag,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
