package transform

import (
	"context"
	"errors"
	"fmt"
)

// FallbackTransformer attempts a primary transformer first and falls back on
// provider errors. Cancellation and deadline expiry are not absorbed: the
// caller owns the retry budget for those.
type FallbackTransformer struct {
	primary  Transformer
	fallback Transformer
}

func NewFallbackTransformer(primary, fallback Transformer) *FallbackTransformer {
	return &FallbackTransformer{
		primary:  primary,
		fallback: fallback,
	}
}

func (t *FallbackTransformer) Summarize(ctx context.Context, priorSummary string, turn TurnText) (string, error) {
	out, err := t.primary.Summarize(ctx, priorSummary, turn)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if t.fallback == nil {
		return "", err
	}
	out, fallbackErr := t.fallback.Summarize(ctx, priorSummary, turn)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary transformer error: %w; fallback transformer error: %v", err, fallbackErr)
	}
	return out, nil
}

func (t *FallbackTransformer) ExtractPoints(ctx context.Context, turns []TurnText, previous []string, k int) ([]string, error) {
	out, err := t.primary.ExtractPoints(ctx, turns, previous, k)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if t.fallback == nil {
		return nil, err
	}
	out, fallbackErr := t.fallback.ExtractPoints(ctx, turns, previous, k)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary transformer error: %w; fallback transformer error: %v", err, fallbackErr)
	}
	return out, nil
}
