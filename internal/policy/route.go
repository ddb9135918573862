package policy

import (
	"regexp"
	"strings"
)

// Route is the tool path chosen for a user turn.
type Route string

const (
	RouteDirect    Route = "direct"
	RouteMemory    Route = "memory"
	RouteWebSearch Route = "web_search"
)

// RouteDecision explains a routing choice for logging and debug endpoints.
type RouteDecision struct {
	Route  Route
	Reason string
}

var (
	memoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bdo you (remember|recall|know)\b`),
		regexp.MustCompile(`(?i)\bwhat (did|have) (we|i|you) (discuss|discussed|say|said|talk|talked|mention|mentioned)\b`),
		regexp.MustCompile(`(?i)\bas i (told|mentioned|said)\b`),
		regexp.MustCompile(`(?i)\bwhat('?s| is) my\b`),
		regexp.MustCompile(`(?i)\bmy (name|favorite|favourite|preference|preferences)\b`),
		regexp.MustCompile(`(?i)\b(earlier|previous|last|our) (conversation|chat|session|discussion)\b`),
		regexp.MustCompile(`(?i)\bremind me\b`),
		regexp.MustCompile(`(?i)\babout me\b`),
	}
	webKeywords = []string{
		"latest", "news", "current", "today", "tonight", "tomorrow",
		"weather", "forecast", "price", "stock", "score", "match",
		"happening", "release date", "right now", "this week",
	}
	webPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(who|what|when|where|which) (is|are|was|were)\b`),
		regexp.MustCompile(`(?i)\bsearch (the )?(web|internet|online)\b`),
		regexp.MustCompile(`(?i)\blook (it |this )?up\b`),
	}
)

// DecideRoute classifies a user turn into a tool route. Memory patterns win
// over web patterns so questions like "what is my name" stay on the memory
// path; everything unmatched is answered directly from assembled context.
func DecideRoute(query string) RouteDecision {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return RouteDecision{Route: RouteDirect}
	}

	for _, re := range memoryPatterns {
		if re.MatchString(q) {
			return RouteDecision{
				Route:  RouteMemory,
				Reason: "recall phrasing",
			}
		}
	}

	for _, kw := range webKeywords {
		if strings.Contains(q, kw) {
			return RouteDecision{
				Route:  RouteWebSearch,
				Reason: "current-information keyword",
			}
		}
	}
	for _, re := range webPatterns {
		if re.MatchString(q) {
			return RouteDecision{
				Route:  RouteWebSearch,
				Reason: "factual-question phrasing",
			}
		}
	}

	return RouteDecision{Route: RouteDirect}
}
