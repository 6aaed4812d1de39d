// Package api implements the local HTTP chat surface: a simple JSON
// endpoint for one-shot messages and a websocket for ongoing
// conversations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/nova-agent/internal/buildinfo"
	"github.com/nugget/nova-agent/internal/bus"
)

// Channel is the bus channel name for API conversations.
const Channel = "api"

// Processor handles an inbound message and returns the reply.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) string
}

// Server is the HTTP API server.
type Server struct {
	logger    *slog.Logger
	address   string
	port      int
	processor Processor
	server    *http.Server
	upgrader  websocket.Upgrader
}

// NewServer creates an API server.
func NewServer(logger *slog.Logger, address string, port int, processor Processor) *Server {
	return &Server{
		logger:    logger.With("component", "api"),
		address:   address,
		port:      port,
		processor: processor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local-only surface; the listener address is the access control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the route table. Split out so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/ws", s.handleWebsocket)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start runs the server until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // websocket conversations are long-lived
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v to w. Errors here usually mean the client went
// away mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"name":    "Nova",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, buildinfo.Info())
}

// ChatRequest is the body for POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
	// User attributes facts and sessions; defaults to "api".
	User string `json:"user,omitempty"`
	// ChatID continues an existing API conversation. Omit for a fresh
	// one-off exchange.
	ChatID string `json:"chat_id,omitempty"`
}

// ChatResponse is the reply for POST /v1/chat.
type ChatResponse struct {
	Reply  string `json:"reply"`
	ChatID string `json:"chat_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = newChatID()
	}
	user := req.User
	if user == "" {
		user = "api"
	}

	reply := s.processor.Process(r.Context(), bus.InboundMessage{
		Channel:  Channel,
		SenderID: user,
		ChatID:   chatID,
		Content:  req.Message,
	})

	s.writeJSON(w, ChatResponse{Reply: reply, ChatID: chatID})
}

// wsEvent is one websocket frame in either direction.
type wsEvent struct {
	Type    string `json:"type"` // message, reply, error
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	User    string `json:"user,omitempty"`
}

// handleWebsocket runs a persistent conversation: each message frame
// produces a reply frame on the same chat ID.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	chatID := newChatID()
	s.logger.Info("websocket conversation opened", "chat_id", chatID)

	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if ev.Type != "message" || ev.Content == "" {
			conn.WriteJSON(wsEvent{Type: "error", Content: "expected {\"type\":\"message\",\"content\":\"...\"}"})
			continue
		}

		user := ev.User
		if user == "" {
			user = "api"
		}
		reply := s.processor.Process(r.Context(), bus.InboundMessage{
			Channel:  Channel,
			SenderID: user,
			ChatID:   chatID,
			Content:  ev.Content,
		})

		if err := conn.WriteJSON(wsEvent{Type: "reply", Content: reply, ChatID: chatID}); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func newChatID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
