package transform

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const summarizeSystem = "You maintain a rolling summary of a conversation. " +
	"Fold the new turn into the existing summary, preserving names, preferences, and decisions. " +
	"Reply with the updated summary only, two to three sentences, no preamble."

const extractSystem = "You distill durable facts about the user from a conversation. " +
	"Reply with exactly %d bullet points, one per line, each starting with \"- \". No other text."

// AnthropicTransformer derives summaries and key points via the Messages API.
type AnthropicTransformer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicTransformer(apiKey, model string, maxTokens int) *AnthropicTransformer {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicTransformer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (t *AnthropicTransformer) Summarize(ctx context.Context, priorSummary string, turn TurnText) (string, error) {
	prior := strings.TrimSpace(priorSummary)
	if prior == "" {
		prior = "(none)"
	}
	prompt := fmt.Sprintf("Current summary:\n%s\n\nNew turn:\n%s: %s", prior, turn.Role, turn.Text)

	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: t.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: summarizeSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}

	out := strings.TrimSpace(collectText(msg))
	if out == "" {
		return "", fmt.Errorf("anthropic summarize: empty completion")
	}
	return out, nil
}

func (t *AnthropicTransformer) ExtractPoints(ctx context.Context, turns []TurnText, previous []string, k int) ([]string, error) {
	var sb strings.Builder
	if len(previous) > 0 {
		sb.WriteString("Previous key points:\n")
		for _, p := range previous {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Recent conversation:\n")
	for _, turn := range turns {
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}

	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: t.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: fmt.Sprintf(extractSystem, k)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic extract points: %w", err)
	}

	points := ParsePoints(collectText(msg))
	if len(points) == 0 {
		return nil, fmt.Errorf("anthropic extract points: no bullet lines in completion")
	}
	return NormalizePoints(points, previous, k), nil
}

func collectText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ParsePoints pulls "- " bullet lines out of a completion.
func ParsePoints(text string) []string {
	points := make([]string, 0, 5)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		point := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if point != "" {
			points = append(points, point)
		}
	}
	return points
}

// NormalizePoints enforces the size contract: top up short lists from the
// previous set, then truncate to k.
func NormalizePoints(points, previous []string, k int) []string {
	if k <= 0 {
		return nil
	}
	seen := make(map[string]bool, len(points))
	out := make([]string, 0, k)
	for _, p := range points {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range previous {
		if len(out) >= k {
			break
		}
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}
