package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	conversationID string
	mode           string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Sequence int64  `json:"sequence"`
	Route    string `json:"route"`
}

type stageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

type perfSnapshot struct {
	WindowSize int          `json:"window_size"`
	Stages     []stageStats `json:"stages"`
}

var defaultUtterances = []string{
	"I am planning a trip to Jaipur next month.",
	"My favorite breakfast is poha with extra lemon.",
	"Work has been hectic because of the quarterly report.",
	"do you remember what I am planning?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "memory service base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic conversation")
	flag.StringVar(&cfg.conversationID, "conversation-id", "perf-conv", "conversation_id used for the synthetic conversation")
	flag.StringVar(&cfg.mode, "mode", "rest", "transport to drive: rest|ws")
	flag.IntVar(&cfg.turns, "turns", 20, "number of user turns to send")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 50, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for each reply in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	switch cfg.mode {
	case "rest", "ws":
	default:
		return options{}, fmt.Errorf("mode must be rest or ws")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	if err := login(ctx, httpClient, cfg); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		_ = logout(context.Background(), httpClient, cfg)
	}()

	if cfg.verbose {
		fmt.Printf("perfchat: mode=%s user=%s conversation=%s turns=%d\n", cfg.mode, cfg.userID, cfg.conversationID, cfg.turns)
	}

	var sendTurn func(ctx context.Context, text string) (chatResponse, error)
	switch cfg.mode {
	case "ws":
		wsTurn, closeWS, err := dialChatWS(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open websocket: %w", err)
		}
		defer closeWS()
		sendTurn = wsTurn
	default:
		sendTurn = func(ctx context.Context, text string) (chatResponse, error) {
			return restTurn(ctx, httpClient, cfg, text)
		}
	}

	latencies := make([]float64, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		turnCtx, turnCancel := context.WithTimeout(ctx, cfg.turnTimeout)
		start := time.Now()
		res, err := sendTurn(turnCtx, text)
		elapsed := time.Since(start)
		turnCancel()
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		latencies = append(latencies, float64(elapsed.Microseconds())/1000.0)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d seq=%d route=%s latency=%.1fms\n", i+1, cfg.turns, res.Sequence, res.Route, float64(elapsed.Microseconds())/1000.0)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printClientLatency(latencies)
	if err := printEngineStages(ctx, httpClient, cfg.baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: engine stage snapshot unavailable: %v\n", err)
	}
	return nil
}

func login(ctx context.Context, client *http.Client, cfg options) error {
	payload, err := json.Marshal(map[string]string{
		"user_id":         cfg.userID,
		"conversation_id": cfg.conversationID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/session/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func logout(ctx context.Context, client *http.Client, cfg options) error {
	payload, err := json.Marshal(map[string]string{"user_id": cfg.userID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/session/logout", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func restTurn(ctx context.Context, client *http.Client, cfg options, text string) (chatResponse, error) {
	payload, err := json.Marshal(chatRequest{
		UserID:         cfg.userID,
		ConversationID: cfg.conversationID,
		Message:        text,
	})
	if err != nil {
		return chatResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return chatResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return chatResponse{}, err
	}
	if res.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return chatResponse{}, err
	}
	return out, nil
}

func dialChatWS(ctx context.Context, cfg options) (func(context.Context, string) (chatResponse, error), func(), error) {
	u, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, nil, fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	replyCh := make(chan chatResponse, 32)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			switch env.Type {
			case protocol.TypeChatResponse:
				var res protocol.ChatResponse
				if err := json.Unmarshal(data, &res); err != nil {
					continue
				}
				select {
				case replyCh <- chatResponse{Response: res.Reply, Sequence: res.Sequence, Route: res.Route}:
				default:
				}
			case protocol.TypeErrorEvent:
				var evt protocol.ErrorEvent
				if err := json.Unmarshal(data, &evt); err != nil {
					continue
				}
				select {
				case errCh <- fmt.Errorf("error_event code=%s detail=%s", evt.Code, evt.Detail):
				default:
				}
			}
		}
	}()

	sendTurn := func(ctx context.Context, text string) (chatResponse, error) {
		msg := protocol.ChatMessage{
			Type:           protocol.TypeChatMessage,
			UserID:         cfg.userID,
			ConversationID: cfg.conversationID,
			Text:           text,
			TSMs:           time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return chatResponse{}, err
		}
		select {
		case res := <-replyCh:
			return res, nil
		case err := <-errCh:
			return chatResponse{}, err
		case <-ctx.Done():
			return chatResponse{}, ctx.Err()
		}
	}
	closeWS := func() { _ = conn.Close() }
	return sendTurn, closeWS, nil
}

func printClientLatency(latencies []float64) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	fmt.Printf("perfchat: client latency ms avg=%.1f p50=%.1f p95=%.1f p99=%.1f (n=%d)\n",
		sum/float64(len(sorted)),
		percentile(sorted, 0.50),
		percentile(sorted, 0.95),
		percentile(sorted, 0.99),
		len(sorted),
	)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printEngineStages(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/memory", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var snap perfSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return err
	}
	if len(snap.Stages) == 0 {
		fmt.Println("perfchat: no engine stage samples yet")
		return nil
	}
	fmt.Printf("perfchat: engine stages (window=%d)\n", snap.WindowSize)
	for _, st := range snap.Stages {
		fmt.Printf("  %-20s avg=%.2fms p50=%.2fms p95=%.2fms p99=%.2fms samples=%d\n",
			st.Stage, st.AvgMS, st.P50MS, st.P95MS, st.P99MS, st.Samples)
	}
	return nil
}
