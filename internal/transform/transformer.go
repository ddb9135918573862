package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TurnText is the role-tagged text handed to a transformation.
type TurnText struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transformer derives summaries and key points from conversation text.
// Implementations may fail or time out; callers own retry and fallback.
type Transformer interface {
	Summarize(ctx context.Context, priorSummary string, turn TurnText) (string, error)
	ExtractPoints(ctx context.Context, turns []TurnText, previous []string, k int) ([]string, error)
}

// Config controls transformer construction.
type Config struct {
	Mode      string
	APIKey    string
	Model     string
	MaxTokens int
}

func NewTransformer(cfg Config) (Transformer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewStaticTransformer(), nil
		}
		primary := NewAnthropicTransformer(cfg.APIKey, cfg.Model, cfg.MaxTokens)
		return NewFallbackTransformer(primary, NewStaticTransformer()), nil
	case "anthropic":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("anthropic api key is required for anthropic mode")
		}
		return NewAnthropicTransformer(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case "static":
		return NewStaticTransformer(), nil
	default:
		return nil, fmt.Errorf("unsupported transformer mode %q", cfg.Mode)
	}
}
