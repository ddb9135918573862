package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/transform"
)

// fakeTransformer answers Summarize from a scripted error queue, succeeding
// once the queue drains. ExtractPoints returns fixed points.
type fakeTransformer struct {
	mu            sync.Mutex
	summarizeErrs []error
	summarizes    int
	extracts      int
	points        []string
	extractErr    error
	extractGate   chan struct{}
}

func (f *fakeTransformer) Summarize(ctx context.Context, prior string, turn transform.TurnText) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.summarizes++
	var err error
	if len(f.summarizeErrs) > 0 {
		err = f.summarizeErrs[0]
		f.summarizeErrs = f.summarizeErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	clause := turn.Role + ": " + turn.Text
	if prior == "" {
		return clause, nil
	}
	return prior + "\n" + clause, nil
}

func (f *fakeTransformer) ExtractPoints(ctx context.Context, turns []transform.TurnText, previous []string, k int) ([]string, error) {
	if f.extractGate != nil {
		select {
		case <-f.extractGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.extracts++
	f.mu.Unlock()
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.points, nil
}

func (f *fakeTransformer) summarizeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summarizes
}

func (f *fakeTransformer) extractCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extracts
}

func fastBackoff(t *testing.T) {
	t.Helper()
	oldBase, oldCap := compactBackoffBase, compactBackoffCap
	compactBackoffBase = time.Millisecond
	compactBackoffCap = 2 * time.Millisecond
	t.Cleanup(func() {
		compactBackoffBase, compactBackoffCap = oldBase, oldCap
	})
}

func TestCompactorFoldTransforms(t *testing.T) {
	tr := &fakeTransformer{}
	c := NewCompactor(tr, time.Second, 2, nil)
	ctx := context.Background()

	summary, err := c.Fold(ctx, "c1", "", Turn{ConversationID: "c1", Sequence: 1, Role: RoleUser, Content: "one"})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if summary != "user: one" {
		t.Fatalf("Fold() = %q", summary)
	}

	summary, err = c.Fold(ctx, "c1", summary, Turn{ConversationID: "c1", Sequence: 2, Role: RoleUser, Content: "two"})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if summary != "user: one\nuser: two" {
		t.Fatalf("Fold() = %q", summary)
	}
	if c.PendingCount("c1") != 0 {
		t.Fatalf("PendingCount() = %d, want 0", c.PendingCount("c1"))
	}
}

func TestCompactorRetriesWithinBudget(t *testing.T) {
	fastBackoff(t)
	tr := &fakeTransformer{summarizeErrs: []error{fmt.Errorf("transform: %w", context.DeadlineExceeded)}}
	c := NewCompactor(tr, time.Second, 2, nil)

	summary, err := c.Fold(context.Background(), "c1", "", Turn{ConversationID: "c1", Sequence: 1, Role: RoleUser, Content: "one"})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if summary != "user: one" {
		t.Fatalf("Fold() after retry = %q", summary)
	}
	if got := tr.summarizeCalls(); got != 2 {
		t.Fatalf("Summarize called %d times, want 2", got)
	}
}

func TestCompactorFallsBackAfterBudgetExhausted(t *testing.T) {
	fastBackoff(t)
	timeoutErr := fmt.Errorf("transform: %w", context.DeadlineExceeded)
	tr := &fakeTransformer{summarizeErrs: []error{timeoutErr, timeoutErr, timeoutErr}}
	c := NewCompactor(tr, time.Second, 2, nil)

	turn := Turn{ConversationID: "c1", Sequence: 3, Role: RoleUser, Content: "remember the blue door"}
	summary, err := c.Fold(context.Background(), "c1", "user: earlier", turn)
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	// Budget of 2 means three attempts, then the deterministic fold. The
	// evicted turn's content must survive into the summary.
	if got := tr.summarizeCalls(); got != 3 {
		t.Fatalf("Summarize called %d times, want 3", got)
	}
	if !strings.Contains(summary, "remember the blue door") {
		t.Fatalf("fallback summary lost the turn: %q", summary)
	}
	if !strings.Contains(summary, "user: earlier") {
		t.Fatalf("fallback summary lost prior content: %q", summary)
	}
	if c.PendingCount("c1") != 0 {
		t.Fatalf("PendingCount() = %d, want 0", c.PendingCount("c1"))
	}
}

func TestCompactorCancellationKeepsTurnPending(t *testing.T) {
	tr := &fakeTransformer{}
	c := NewCompactor(tr, time.Second, 2, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	prior := "user: earlier"
	summary, err := c.Fold(canceled, "c1", prior, Turn{ConversationID: "c1", Sequence: 1, Role: RoleUser, Content: "one"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fold() error = %v, want context.Canceled", err)
	}
	if summary != prior {
		t.Fatalf("Fold() on cancel returned %q, want prior summary", summary)
	}
	if c.PendingCount("c1") != 1 {
		t.Fatalf("PendingCount() = %d, want 1", c.PendingCount("c1"))
	}

	// The next fold drains the pending turn first, in sequence order.
	summary, err = c.Fold(context.Background(), "c1", prior, Turn{ConversationID: "c1", Sequence: 2, Role: RoleUser, Content: "two"})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if summary != "user: earlier\nuser: one\nuser: two" {
		t.Fatalf("drained summary = %q", summary)
	}
	if c.PendingCount("c1") != 0 {
		t.Fatalf("PendingCount() = %d, want 0", c.PendingCount("c1"))
	}
}

func TestCompactorNonRetryableSkipsRetries(t *testing.T) {
	fastBackoff(t)
	tr := &fakeTransformer{summarizeErrs: []error{context.Canceled, context.Canceled, context.Canceled}}
	c := NewCompactor(tr, time.Second, 2, nil)

	summary, err := c.Fold(context.Background(), "c1", "", Turn{ConversationID: "c1", Sequence: 1, Role: RoleUser, Content: "one"})
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	// A non-retryable error goes straight to the deterministic fold.
	if got := tr.summarizeCalls(); got != 1 {
		t.Fatalf("Summarize called %d times, want 1", got)
	}
	if !strings.Contains(summary, "one") {
		t.Fatalf("fallback summary lost the turn: %q", summary)
	}
}
