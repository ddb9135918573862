package websearch

import (
	"context"
	"strings"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher answers current-information queries that memory cannot.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Config controls searcher construction.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// NewSearcher returns the Tavily client when a key is configured and the
// deterministic mock otherwise, so the chat path works in development.
func NewSearcher(cfg Config) Searcher {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewMockSearcher()
	}
	return NewTavilyClient(cfg)
}
