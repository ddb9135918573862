package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/protocol"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/session"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

// handleChatWS runs one websocket chat connection. Inbound messages are
// processed serially by a per-connection worker so replies keep turn order;
// writes stay single-threaded through the outbound queue.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				switch m := msg.(type) {
				case protocol.ChatMessage:
					s.serveWSChat(ctx, m, outbound)
				case protocol.ClientControl:
					s.serveWSControl(ctx, m, outbound)
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveIndicator("ws_write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueOutbound(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) serveWSChat(ctx context.Context, msg protocol.ChatMessage, outbound chan<- any) {
	if _, err := s.sessions.EnsureActive(ctx, msg.UserID, msg.ConversationID); err != nil {
		s.queueOutbound(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			UserID:    msg.UserID,
			Code:      "hydrate_failed",
			Source:    "session",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}

	reply, err := s.agent.Respond(ctx, msg.UserID, msg.ConversationID, msg.Text)
	if err != nil {
		s.queueOutbound(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			UserID:    msg.UserID,
			Code:      "memory_unavailable",
			Source:    "memory",
			Retryable: errors.Is(err, store.ErrStoreUnavailable),
			Detail:    err.Error(),
		})
		return
	}

	s.queueOutbound(outbound, protocol.ChatResponse{
		Type:           protocol.TypeChatResponse,
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		Sequence:       reply.Sequence,
		Reply:          reply.Text,
		Route:          reply.Route,
		Sources:        reply.Sources,
	})
}

func (s *Server) serveWSControl(ctx context.Context, msg protocol.ClientControl, outbound chan<- any) {
	switch msg.Action {
	case "ping":
		s.queueOutbound(outbound, protocol.SystemEvent{
			Type:   protocol.TypeSystemEvent,
			UserID: msg.UserID,
			Code:   "pong",
		})
	case "logout":
		res, err := s.sessions.Logout(ctx, msg.UserID)
		if err != nil {
			code := "flush_failed"
			if errors.Is(err, session.ErrNotFound) {
				code = "session_not_found"
			}
			s.queueOutbound(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				UserID:    msg.UserID,
				Code:      code,
				Source:    "session",
				Retryable: code == "flush_failed",
				Detail:    err.Error(),
			})
			return
		}
		s.queueOutbound(outbound, protocol.SystemEvent{
			Type:   protocol.TypeSystemEvent,
			UserID: msg.UserID,
			Code:   "session_ended",
			Detail: fmt.Sprintf("flushed_through=%d", res.FlushedThrough),
		})
	default:
		s.queueOutbound(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			UserID:    msg.UserID,
			Code:      "invalid_control",
			Source:    "gateway",
			Retryable: false,
			Detail:    fmt.Sprintf("unknown action %q", msg.Action),
		})
	}
}

// queueOutbound never blocks the caller; a saturated outbound queue drops the
// message instead of stalling the worker.
func (s *Server) queueOutbound(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.metrics.ObserveIndicator("ws_outbound_drop")
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ChatResponse:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
