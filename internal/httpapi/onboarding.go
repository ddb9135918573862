package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	TransformProvider string            `json:"transform_provider"`
	SearchProvider    string            `json:"search_provider"`
	CacheMode         string            `json:"cache_mode"`
	DurableMode       string            `json:"durable_mode"`
	StatelessSessions bool              `json:"stateless_sessions"`
	Checks            []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	transformProvider := s.transformProvider()
	searchProvider := "mock"
	if strings.TrimSpace(s.cfg.TavilyAPIKey) != "" {
		searchProvider = "tavily"
	}
	cacheMode := s.cacheMode()
	durableMode := s.durableMode()

	checks := make([]onboardingCheck, 0, 8)

	switch transformProvider {
	case "anthropic":
		checks = append(checks, onboardingCheck{
			ID:     "transform_provider",
			Status: "ok",
			Label:  "Summary and key-point transformer",
			Detail: fmt.Sprintf("anthropic (%s)", s.cfg.AnthropicModel),
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "transform_provider",
			Status: "warn",
			Label:  "Summary and key-point transformer",
			Detail: "static heuristics only",
			Fix:    "Set ANTHROPIC_API_KEY to enable model-backed summaries.",
		})
	}

	switch cacheMode {
	case "redis":
		checks = append(checks, onboardingCheck{
			ID:     "cache_tier",
			Status: "ok",
			Label:  "Short-term cache tier",
			Detail: "redis",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "cache_tier",
			Status: "warn",
			Label:  "Short-term cache tier",
			Detail: "in-process only; windows do not survive restarts without a flush",
			Fix:    "Set REDIS_URL to share working memory across instances.",
		})
	}

	switch durableMode {
	case "postgres":
		checks = append(checks, onboardingCheck{
			ID:     "durable_tier",
			Status: "ok",
			Label:  "Durable history tier",
			Detail: "postgres",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "durable_tier",
			Status: "warn",
			Label:  "Durable history tier",
			Detail: "in-memory only; full history is lost on restart",
			Fix:    "Set DATABASE_URL to persist the conversation ledger.",
		})
	}

	if searchProvider == "mock" {
		checks = append(checks, onboardingCheck{
			ID:     "web_search",
			Status: "warn",
			Label:  "Web search",
			Detail: "mock results only",
			Fix:    "Set TAVILY_API_KEY to answer current-information questions.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "web_search",
			Status: "ok",
			Label:  "Web search",
			Detail: "tavily",
		})
	}

	if s.cfg.CacheTTL > 0 {
		detail := fmt.Sprintf("record ttl %s", s.cfg.CacheTTL)
		if cacheMode != "redis" {
			checks = append(checks, onboardingCheck{
				ID:     "stateless_sessions",
				Status: "warn",
				Label:  "Stateless session records",
				Detail: detail + " on the in-process cache",
				Fix:    "Stateless mode needs REDIS_URL so restarted instances can adopt sessions.",
			})
		} else {
			checks = append(checks, onboardingCheck{
				ID:     "stateless_sessions",
				Status: "ok",
				Label:  "Stateless session records",
				Detail: detail,
			})
		}
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		TransformProvider: transformProvider,
		SearchProvider:    searchProvider,
		CacheMode:         cacheMode,
		DurableMode:       durableMode,
		StatelessSessions: s.cfg.CacheTTL > 0,
		Checks:            checks,
	})
}

func (s *Server) transformProvider() string {
	switch s.cfg.TransformMode {
	case "static":
		return "static"
	case "anthropic":
		return "anthropic"
	default:
		if strings.TrimSpace(s.cfg.AnthropicAPIKey) != "" {
			return "anthropic"
		}
		return "static"
	}
}
