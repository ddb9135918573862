package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/policy"
)

var extractionDeadline = 30 * time.Second

// GatewayConfig tunes the per-turn pipeline.
type GatewayConfig struct {
	RedactPII      bool
	ProcessingSpan int
}

// Gateway is the single entry point for conversation turns. It routes on the
// raw text, redacts before anything is stored, appends to the ledger and the
// window under one conversation lock so the window always sees turns in
// sequence order, and kicks off key-point extraction off the request path.
type Gateway struct {
	ledger    *Ledger
	window    *Window
	extractor *Extractor
	cfg       GatewayConfig
	locks     *lockTable
	metrics   *observability.Metrics
	wg        sync.WaitGroup
}

func NewGateway(ledger *Ledger, window *Window, extractor *Extractor, cfg GatewayConfig, metrics *observability.Metrics) *Gateway {
	if cfg.ProcessingSpan <= 0 {
		cfg.ProcessingSpan = 8
	}
	return &Gateway{
		ledger:    ledger,
		window:    window,
		extractor: extractor,
		cfg:       cfg,
		locks:     newLockTable(),
		metrics:   metrics,
	}
}

// HandleTurn ingests one user turn and returns the assembled context for the
// reply. The ledger append is synchronous; if it fails the turn is rejected.
// Everything after the ledger write degrades rather than fails.
func (g *Gateway) HandleTurn(ctx context.Context, userID, conversationID, text string) (TurnContext, error) {
	start := time.Now()

	decision := policy.DecideRoute(text)
	content, redacted := text, false
	if g.cfg.RedactPII {
		content, redacted = policy.RedactPII(text)
	}

	stored, state, err := g.appendBoth(ctx, Turn{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           RoleUser,
		Content:        content,
		PIIRedacted:    redacted,
	})
	if err != nil {
		return TurnContext{}, err
	}

	points, perr := g.extractor.Current(ctx, userID)
	if perr != nil {
		log.Printf("gateway: key points unavailable for user %s: %v", userID, perr)
		points = KeyPointSet{}
	}

	g.triggerExtraction(ctx, userID, conversationID, stored.Sequence)

	if g.metrics != nil {
		g.metrics.ToolRoutes.WithLabelValues(string(decision.Route)).Inc()
		g.metrics.ObserveAppendLatency(time.Since(start))
	}
	g.metrics.ObserveStage("handle_turn_total", time.Since(start))

	return TurnContext{
		Sequence:  stored.Sequence,
		Recent:    state.Recent,
		Summary:   state.Summary,
		KeyPoints: points.Points,
		Route:     string(decision.Route),
	}, nil
}

// RecordAgentTurn appends the agent's reply through the same pipeline so the
// window and ledger stay a faithful transcript of both sides.
func (g *Gateway) RecordAgentTurn(ctx context.Context, userID, conversationID, text string) (Turn, error) {
	content, redacted := text, false
	if g.cfg.RedactPII {
		content, redacted = policy.RedactPII(text)
	}
	stored, _, err := g.appendBoth(ctx, Turn{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           RoleAgent,
		Content:        content,
		PIIRedacted:    redacted,
	})
	if err != nil {
		return Turn{}, err
	}
	g.triggerExtraction(ctx, userID, conversationID, stored.Sequence)
	return stored, nil
}

func (g *Gateway) appendBoth(ctx context.Context, turn Turn) (Turn, WindowState, error) {
	m := g.locks.acquire(turn.ConversationID)
	defer m.Unlock()

	ledgerStart := time.Now()
	stored, err := g.ledger.Append(ctx, turn)
	if err != nil {
		return Turn{}, WindowState{}, fmt.Errorf("append turn: %w", err)
	}
	g.metrics.ObserveStage("append_ledger", time.Since(ledgerStart))

	windowStart := time.Now()
	state, werr := g.window.Append(ctx, stored)
	if errors.Is(werr, ErrWindowNotHydrated) {
		state, werr = g.window.Rebuild(ctx, stored.ConversationID)
		if werr == nil && g.metrics != nil {
			g.metrics.Hydrations.WithLabelValues("rebuild").Inc()
		}
	}
	if werr != nil {
		// The turn is durable; serve this request from what we have.
		log.Printf("gateway: window unavailable for conversation %s: %v", stored.ConversationID, werr)
		state = WindowState{ConversationID: stored.ConversationID, UserID: stored.UserID, Recent: []Turn{stored}}
	}
	g.metrics.ObserveStage("append_window", time.Since(windowStart))

	return stored, state, nil
}

// SearchMemory answers "what do we know" for a conversation: recent turns
// from the ledger, the rolling summary, and the user's key points, plus a
// preformatted context block. It works against a cold window by rebuilding
// from the durable tier.
func (g *Gateway) SearchMemory(ctx context.Context, userID, conversationID string) (MemoryAnswer, error) {
	state, err := g.window.ReadContext(ctx, conversationID)
	if errors.Is(err, ErrWindowNotHydrated) {
		state, err = g.window.Rebuild(ctx, conversationID)
	}
	if err != nil {
		return MemoryAnswer{}, fmt.Errorf("search memory: %w", err)
	}

	recent, rerr := g.ledger.Latest(ctx, conversationID, g.cfg.ProcessingSpan)
	if rerr != nil {
		log.Printf("gateway: ledger read degraded for conversation %s: %v", conversationID, rerr)
		recent = state.Recent
	}

	points, perr := g.extractor.Current(ctx, userID)
	if perr != nil {
		log.Printf("gateway: key points unavailable for user %s: %v", userID, perr)
		points = KeyPointSet{}
	}

	answer := MemoryAnswer{
		Found:     len(recent) > 0 || state.Summary != "" || len(points.Points) > 0,
		Recent:    recent,
		Summary:   state.Summary,
		KeyPoints: points.Points,
	}
	answer.Context = FormatContext(state.Summary, points.Points, recent)
	return answer, nil
}

func (g *Gateway) triggerExtraction(ctx context.Context, userID, conversationID string, lastSequence int64) {
	if g.extractor == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ectx, cancel := context.WithTimeout(detached, extractionDeadline)
		defer cancel()
		if _, err := g.extractor.MaybeExtract(ectx, userID, conversationID, lastSequence); err != nil {
			log.Printf("gateway: key point extraction failed for user %s: %v", userID, err)
		}
	}()
}

// Close waits for in-flight extraction triggers.
func (g *Gateway) Close() {
	g.wg.Wait()
}

// FormatContext renders memory into the block handed to the agent prompt.
func FormatContext(summary string, points []string, recent []Turn) string {
	var b strings.Builder
	if len(points) > 0 {
		b.WriteString("Key points about the user:\n")
		for _, p := range points {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	if summary != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Conversation so far:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if len(recent) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent turns:\n")
		for _, t := range recent {
			b.WriteString(t.Role)
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
