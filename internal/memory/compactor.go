package memory

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/reliability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/transform"
)

var (
	compactBackoffBase = 100 * time.Millisecond
	compactBackoffCap  = 2 * time.Second
)

// Compactor folds evicted turns into a conversation's rolling summary via
// the text-transformation collaborator. A turn handed to Fold is never
// dropped: transient failures retry within a bounded budget and then take a
// deterministic fallback, and turns not yet folded sit in a per-conversation
// pending buffer that drains on the next call.
type Compactor struct {
	transformer transform.Transformer
	timeout     time.Duration
	retryBudget int
	metrics     *observability.Metrics

	mu      sync.Mutex
	pending map[string][]Turn
}

func NewCompactor(transformer transform.Transformer, timeout time.Duration, retryBudget int, metrics *observability.Metrics) *Compactor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if retryBudget < 0 {
		retryBudget = 0
	}
	return &Compactor{
		transformer: transformer,
		timeout:     timeout,
		retryBudget: retryBudget,
		metrics:     metrics,
		pending:     make(map[string][]Turn),
	}
}

// Fold absorbs the evicted turn, and any earlier pending turns for the same
// conversation, into the summary in sequence order. The returned summary
// covers every drained turn. On cancellation the unfolded remainder stays
// pending and the prior summary is returned unchanged for those turns.
func (c *Compactor) Fold(ctx context.Context, conversationID, summary string, evicted Turn) (string, error) {
	c.mu.Lock()
	c.pending[conversationID] = append(c.pending[conversationID], evicted)
	queue := c.pending[conversationID]
	c.pending[conversationID] = nil
	c.mu.Unlock()

	start := time.Now()
	for i, turn := range queue {
		next, err := c.foldOne(ctx, summary, turn)
		if err != nil {
			c.mu.Lock()
			c.pending[conversationID] = append(queue[i:], c.pending[conversationID]...)
			c.mu.Unlock()
			return summary, err
		}
		summary = next
	}
	if c.metrics != nil {
		c.metrics.ObserveStage("compact", time.Since(start))
	}
	return summary, nil
}

// foldOne tries the transformation within the retry budget, then falls back
// to the deterministic fold. Only caller cancellation aborts without a
// result.
func (c *Compactor) foldOne(ctx context.Context, summary string, turn Turn) (string, error) {
	text := transform.TurnText{Role: turn.Role, Text: turn.Content}

	var lastErr error
	for attempt := 0; attempt <= c.retryBudget; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.CompactionRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, compactBackoffBase, compactBackoffCap)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.transformer.Summarize(attemptCtx, summary, text)
		cancel()
		if err == nil {
			if c.metrics != nil {
				c.metrics.Compactions.WithLabelValues("transformed").Inc()
			}
			return out, nil
		}
		lastErr = err
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		if !reliability.IsRetryableTransformError(err) {
			break
		}
	}

	log.Printf("compactor: transformation failed for conversation %s seq %d, using deterministic fold: %v",
		turn.ConversationID, turn.Sequence, lastErr)
	if c.metrics != nil {
		c.metrics.Compactions.WithLabelValues("fallback").Inc()
		c.metrics.ObserveIndicator("compaction_fallback")
	}
	return transform.StaticFold(summary, text), nil
}

// PendingCount reports buffered, not-yet-folded turns for a conversation.
func (c *Compactor) PendingCount(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[conversationID])
}
