package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/memory"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/policy"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/websearch"
)

// Reply is the agent's answer to one user turn.
type Reply struct {
	Text     string   `json:"text"`
	Route    string   `json:"route"`
	Sequence int64    `json:"sequence"`
	Sources  []string `json:"sources,omitempty"`
}

// Agent turns user text into replies. Every turn flows through the memory
// gateway first; the route decides whether the reply draws on assembled
// context, a memory search, or the web.
type Agent struct {
	gateway  *memory.Gateway
	searcher websearch.Searcher
}

func New(gateway *memory.Gateway, searcher websearch.Searcher) *Agent {
	return &Agent{gateway: gateway, searcher: searcher}
}

// Respond handles one user turn end to end and records the reply as the
// agent's side of the transcript. A failed web search degrades to answering
// from memory context rather than failing the turn.
func (a *Agent) Respond(ctx context.Context, userID, conversationID, text string) (Reply, error) {
	tc, err := a.gateway.HandleTurn(ctx, userID, conversationID, text)
	if err != nil {
		return Reply{}, err
	}

	var reply string
	var sources []string
	switch tc.Route {
	case string(policy.RouteMemory):
		answer, merr := a.gateway.SearchMemory(ctx, userID, conversationID)
		if merr != nil {
			log.Printf("agent: memory search failed for conversation %s: %v", conversationID, merr)
			reply = composeDirectReply(tc)
		} else {
			reply = composeMemoryReply(answer)
		}
	case string(policy.RouteWebSearch):
		results, serr := a.searcher.Search(ctx, text)
		if serr != nil {
			log.Printf("agent: web search failed: %v", serr)
			reply = composeDirectReply(tc)
		} else {
			reply = composeWebReply(text, results)
			for _, r := range results {
				if r.URL != "" {
					sources = append(sources, r.URL)
				}
			}
		}
	default:
		reply = composeDirectReply(tc)
	}

	if _, rerr := a.gateway.RecordAgentTurn(ctx, userID, conversationID, reply); rerr != nil {
		// The user still gets the reply; only the transcript is short one
		// agent turn.
		log.Printf("agent: failed to record reply for conversation %s: %v", conversationID, rerr)
	}

	return Reply{
		Text:     reply,
		Route:    tc.Route,
		Sequence: tc.Sequence,
		Sources:  sources,
	}, nil
}

func composeDirectReply(tc memory.TurnContext) string {
	last := ""
	if n := len(tc.Recent); n > 0 {
		last = strings.TrimSpace(tc.Recent[n-1].Content)
	}
	if last == "" {
		return "I am listening."
	}
	if len(tc.KeyPoints) > 0 {
		return fmt.Sprintf("I heard you: %s\nI also remember: %s", last, tc.KeyPoints[len(tc.KeyPoints)-1])
	}
	return fmt.Sprintf("I heard you: %s", last)
}

func composeMemoryReply(answer memory.MemoryAnswer) string {
	if !answer.Found {
		return "We have not talked about anything I can recall yet."
	}
	var b strings.Builder
	b.WriteString("Here is what I remember.\n")
	b.WriteString(answer.Context)
	return b.String()
}

func composeWebReply(query string, results []websearch.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("I could not find anything current about %q.", strings.TrimSpace(query))
	}
	var b strings.Builder
	b.WriteString("Here is what I found:\n")
	for _, r := range results {
		b.WriteString("- ")
		if r.Title != "" {
			b.WriteString(r.Title)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(r.Content))
		if r.URL != "" {
			b.WriteString(" (")
			b.WriteString(r.URL)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
