package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTavilyClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.APIKey != "tvly-test" || req.Query != "go 1.24 release" || req.MaxResults != 2 {
			t.Errorf("unexpected request payload: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go 1.24","url":"https://go.dev/blog/go1.24","content":"Go 1.24 is released."},
			{"title":"Release notes","url":"https://go.dev/doc/go1.24","content":"Full release notes."},
			{"title":"Extra","url":"https://example.com","content":"Should be trimmed."}
		]}`))
	}))
	defer srv.Close()

	client := NewTavilyClient(Config{APIKey: "tvly-test", BaseURL: srv.URL, MaxResults: 2})
	results, err := client.Search(context.Background(), "go 1.24 release")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].Title != "Go 1.24" || results[0].URL != "https://go.dev/blog/go1.24" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestTavilyClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewTavilyClient(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := client.Search(context.Background(), "anything")
	if err == nil {
		t.Fatal("Search() with failing API: expected error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("Search() error = %v, want status in message", err)
	}
}

func TestNewSearcherFallsBackToMock(t *testing.T) {
	if _, ok := NewSearcher(Config{}).(*MockSearcher); !ok {
		t.Fatal("NewSearcher() without key did not return the mock")
	}
	if _, ok := NewSearcher(Config{APIKey: "tvly-x"}).(*TavilyClient); !ok {
		t.Fatal("NewSearcher() with key did not return the Tavily client")
	}
}

func TestMockSearcherMentionsQuery(t *testing.T) {
	results, err := NewMockSearcher().Search(context.Background(), "weather in pune")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "weather in pune") {
		t.Fatalf("mock results = %+v", results)
	}
}
