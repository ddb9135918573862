package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/agent"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/config"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/memory"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/session"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	agent    *agent.Agent
	gateway  *memory.Gateway
	ledger   *memory.Ledger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, sessions *session.Manager, ag *agent.Agent, gateway *memory.Gateway, ledger *memory.Ledger, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		agent:    ag,
		gateway:  gateway,
		ledger:   ledger,
		metrics:  metrics,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's memory
				// session if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/session/login", s.handleLogin)
	r.Post("/v1/session/logout", s.handleLogout)
	r.Get("/v1/memory/{userID}/{conversationID}", s.handleMemoryState)
	r.Get("/v1/history/{userID}", s.handleHistory)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/memory", s.handlePerfMemory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"transform_mode":     s.cfg.TransformMode,
		"cache_mode":         s.cacheMode(),
		"durable_mode":       s.durableMode(),
		"stateless_sessions": s.cfg.CacheTTL > 0,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	Response       string    `json:"response"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Sequence       int64     `json:"sequence"`
	Route          string    `json:"route"`
	Sources        []string  `json:"sources,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ConversationID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and conversation_id are required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ctx := r.Context()
	if _, err := s.sessions.EnsureActive(ctx, req.UserID, req.ConversationID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "hydrate_failed", err.Error())
		return
	}

	reply, err := s.agent.Respond(ctx, req.UserID, req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "memory_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		Response:       reply.Text,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Sequence:       reply.Sequence,
		Route:          reply.Route,
		Sources:        reply.Sources,
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req session.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ConversationID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and conversation_id are required")
		return
	}

	sess, err := s.sessions.Login(r.Context(), req.UserID, req.ConversationID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "hydrate_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, session.LoginResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		ConversationID:  sess.ConversationID,
		Status:          sess.Status,
		HydratedFrom:    sess.HydratedFrom,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req session.LogoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	res, err := s.sessions.Logout(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "flush_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleMemoryState(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if userID == "" || conversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user and conversation ids are required")
		return
	}

	answer, err := s.gateway.SearchMemory(r.Context(), userID, conversationID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "memory_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":         userID,
		"conversation_id": conversationID,
		"memory_state":    answer,
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user id is required")
		return
	}
	offset := intQueryParam(r, "offset", 0)
	limit := intQueryParam(r, "limit", 20)

	turns, err := s.ledger.HistoryPage(r.Context(), userID, offset, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"turns":     turns,
		"count":     len(turns),
		"offset":    offset,
		"limit":     limit,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) cacheMode() string {
	if strings.TrimSpace(s.cfg.RedisURL) != "" {
		return "redis"
	}
	return "in-memory"
}

func (s *Server) durableMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

func intQueryParam(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
