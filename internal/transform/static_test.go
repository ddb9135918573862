package transform

import (
	"context"
	"strings"
	"testing"
)

func TestStaticSummarizeFoldsInOrder(t *testing.T) {
	tr := NewStaticTransformer()
	ctx := context.Background()

	s1, err := tr.Summarize(ctx, "", TurnText{Role: "user", Text: "my name is Asha"})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	s2, err := tr.Summarize(ctx, s1, TurnText{Role: "agent", Text: "nice to meet you Asha"})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	first := strings.Index(s2, "my name is Asha")
	second := strings.Index(s2, "nice to meet you Asha")
	if first < 0 || second < 0 {
		t.Fatalf("summary %q missing folded turn content", s2)
	}
	if first > second {
		t.Fatalf("summary %q folded turns out of order", s2)
	}
}

func TestStaticSummarizeBoundsGrowth(t *testing.T) {
	tr := NewStaticTransformer()
	ctx := context.Background()

	summary := ""
	long := strings.Repeat("x", 300)
	var err error
	for i := 0; i < 50; i++ {
		summary, err = tr.Summarize(ctx, summary, TurnText{Role: "user", Text: long})
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
	}
	if len(summary) > staticMaxSummaryChars {
		t.Fatalf("summary length = %d, want <= %d", len(summary), staticMaxSummaryChars)
	}
	// Most recent fold survives trimming.
	if !strings.Contains(summary, "user: "+long[:staticMaxTurnChars]) {
		t.Fatalf("summary lost the latest fold")
	}
}

func TestStaticExtractPointsPrefersUserTurns(t *testing.T) {
	tr := NewStaticTransformer()
	turns := []TurnText{
		{Role: "user", Text: "I live in Pune"},
		{Role: "agent", Text: "Noted."},
		{Role: "user", Text: "I prefer tea over coffee"},
	}

	points, err := tr.ExtractPoints(context.Background(), turns, nil, 5)
	if err != nil {
		t.Fatalf("ExtractPoints() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if points[0] != "I live in Pune" || points[1] != "I prefer tea over coffee" {
		t.Fatalf("points = %v, want user turns in order", points)
	}
}

func TestStaticExtractPointsTopsUpFromPrevious(t *testing.T) {
	tr := NewStaticTransformer()
	turns := []TurnText{{Role: "user", Text: "new fact"}}
	previous := []string{"old fact one", "old fact two"}

	points, err := tr.ExtractPoints(context.Background(), turns, previous, 3)
	if err != nil {
		t.Fatalf("ExtractPoints() error = %v", err)
	}
	want := []string{"new fact", "old fact one", "old fact two"}
	if len(points) != len(want) {
		t.Fatalf("len(points) = %d, want %d", len(points), len(want))
	}
	for i := range want {
		if points[i] != want[i] {
			t.Fatalf("points[%d] = %q, want %q", i, points[i], want[i])
		}
	}
}

func TestParsePoints(t *testing.T) {
	text := "Here are the points:\n- likes tea\n- lives in Pune\nnot a bullet\n-missing space\n- \n- last one"
	points := ParsePoints(text)
	want := []string{"likes tea", "lives in Pune", "last one"}
	if len(points) != len(want) {
		t.Fatalf("len(points) = %d, want %d (%v)", len(points), len(want), points)
	}
	for i := range want {
		if points[i] != want[i] {
			t.Fatalf("points[%d] = %q, want %q", i, points[i], want[i])
		}
	}
}

func TestNormalizePointsDeduplicatesAndTruncates(t *testing.T) {
	points := NormalizePoints(
		[]string{"a", "a", "b", "c", "d", "e", "f"},
		nil,
		5,
	)
	want := []string{"a", "b", "c", "d", "e"}
	if len(points) != len(want) {
		t.Fatalf("len(points) = %d, want %d", len(points), len(want))
	}
	for i := range want {
		if points[i] != want[i] {
			t.Fatalf("points[%d] = %q, want %q", i, points[i], want[i])
		}
	}
}
