package transform

import (
	"context"
	"strings"
)

const (
	staticMaxTurnChars    = 240
	staticMaxSummaryChars = 4000
	staticMaxPointChars   = 120
)

// StaticTransformer produces deterministic summaries and key points without
// any external call. It is the terminal fallback and the test implementation.
type StaticTransformer struct{}

func NewStaticTransformer() *StaticTransformer { return &StaticTransformer{} }

func (t *StaticTransformer) Summarize(ctx context.Context, priorSummary string, turn TurnText) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return StaticFold(priorSummary, turn), nil
}

// StaticFold appends one turn to a summary deterministically. It is shared
// by the static transformer and the compactor's terminal fallback.
func StaticFold(priorSummary string, turn TurnText) string {
	clause := turn.Role + ": " + truncate(strings.TrimSpace(turn.Text), staticMaxTurnChars)
	summary := strings.TrimSpace(priorSummary)
	if summary == "" {
		summary = clause
	} else {
		summary = summary + "\n" + clause
	}
	return trimSummaryHead(summary, staticMaxSummaryChars)
}

func (t *StaticTransformer) ExtractPoints(ctx context.Context, turns []TurnText, previous []string, k int) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	points := make([]string, 0, k)
	// Prefer what the user said; agent turns restate it.
	for _, turn := range turns {
		if turn.Role != "user" {
			continue
		}
		text := truncate(strings.TrimSpace(turn.Text), staticMaxPointChars)
		if text != "" {
			points = append(points, text)
		}
	}
	if len(points) == 0 {
		for _, turn := range turns {
			text := truncate(strings.TrimSpace(turn.Text), staticMaxPointChars)
			if text != "" {
				points = append(points, text)
			}
		}
	}
	if len(points) > k {
		points = points[len(points)-k:]
	}
	return NormalizePoints(points, previous, k), nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// trimSummaryHead drops the oldest lines once the summary exceeds max,
// keeping whole lines so recent folds stay intact.
func trimSummaryHead(summary string, max int) string {
	if len(summary) <= max {
		return summary
	}
	lines := strings.Split(summary, "\n")
	for len(lines) > 1 {
		lines = lines[1:]
		candidate := strings.Join(lines, "\n")
		if len(candidate) <= max {
			return candidate
		}
	}
	return truncate(lines[0], max)
}
