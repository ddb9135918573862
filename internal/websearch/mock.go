package websearch

import (
	"context"
	"fmt"
	"strings"
)

// MockSearcher provides deterministic local results when no search API key
// is configured.
type MockSearcher struct{}

func NewMockSearcher() *MockSearcher { return &MockSearcher{} }

func (s *MockSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	q := strings.TrimSpace(query)
	if q == "" {
		q = "that"
	}
	return []Result{
		{
			Title:   "Local search placeholder",
			URL:     "https://example.invalid/search",
			Content: fmt.Sprintf("Live web search is not configured, so I could not look up %q.", q),
		},
	}, nil
}
