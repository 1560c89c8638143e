// Package http is the HTTP ingress of the engine: inbound chat messages,
// reset and inspection of conversations, SSE state diffs, health and metrics.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// Server exposes a ports.Engine over HTTP.
type Server struct {
	Engine  ports.Engine
	Streams *StreamManager

	gatherer     prometheus.Gatherer
	maxInputSize int
	logger       *slog.Logger
}

type Option func(*Server)

// WithStreams shares a StreamManager that is also registered as a state hook.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithGatherer serves /metrics from the given gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxInputSize bounds inbound message bodies.
func WithMaxInputSize(n int) Option {
	return func(s *Server) {
		s.maxInputSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// MessageRequest is the body of an inbound message.
type MessageRequest struct {
	EventID string `json:"event_id,omitempty"`
	Sender  string `json:"sender"`
	MsgType string `json:"msgtype,omitempty"`
	Body    string `json:"body"`
}

// StepResponse reports the outcome of a trigger.
type StepResponse struct {
	Conversation *domain.Conversation   `json:"conversation,omitempty"`
	Status       domain.ExecutionStatus `json:"status,omitempty"`
	Visited      []string               `json:"visited,omitempty"`
	Ignored      bool                   `json:"ignored,omitempty"`
	Warning      string                 `json:"warning,omitempty"`
}

// NewHandler creates the chi router for the engine.
func NewHandler(engine ports.Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:       engine,
		maxInputSize: DefaultMaxInputSize,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			s.conversationRoutes(r, func(r *http.Request) domain.ConversationKey {
				return domain.RoomKey(chi.URLParam(r, "roomID"))
			})
		})
		r.Route("/clients/{clientID}/rooms/{roomID}", func(r chi.Router) {
			s.conversationRoutes(r, func(r *http.Request) domain.ConversationKey {
				return domain.RouteKey(chi.URLParam(r, "clientID"), chi.URLParam(r, "roomID"))
			})
		})
	})
	return r
}

type keyFunc func(*http.Request) domain.ConversationKey

func (s *Server) conversationRoutes(r chi.Router, key keyFunc) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { s.GetConversation(w, r, key(r)) })
	r.Post("/start", func(w http.ResponseWriter, r *http.Request) { s.Start(w, r, key(r)) })
	r.Post("/messages", func(w http.ResponseWriter, r *http.Request) { s.PostMessage(w, r, key(r)) })
	r.Post("/reset", func(w http.ResponseWriter, r *http.Request) { s.Reset(w, r, key(r)) })
	r.Get("/events", func(w http.ResponseWriter, r *http.Request) { s.SubscribeEvents(w, r, key(r)) })
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetConversation returns the persisted conversation.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request, key domain.ConversationKey) {
	conv, err := s.Engine.Conversation(r.Context(), key)
	if err != nil {
		s.fail(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Start handles first contact (a trigger without a message).
func (s *Server) Start(w http.ResponseWriter, r *http.Request, key domain.ConversationKey) {
	s.process(w, r, key, nil)
}

// PostMessage handles an inbound chat message.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request, key domain.ConversationKey) {
	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PostMessage: invalid request body", "err", err)
		return
	}
	if body.Sender == "" {
		http.Error(w, "sender is required", http.StatusBadRequest)
		return
	}

	clean, err := SanitizeInput(body.Body, s.maxInputSize)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid input: %v", err), http.StatusBadRequest)
		s.logger.Warn("PostMessage: input rejected", "conversation_id", key.String(), "err", err, "size", len(body.Body))
		return
	}

	msgType := body.MsgType
	if msgType == "" {
		msgType = domain.MsgText
	}
	s.process(w, r, key, &domain.Message{
		EventID: body.EventID,
		Sender:  body.Sender,
		MsgType: msgType,
		Body:    clean,
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, key domain.ConversationKey, msg *domain.Message) {
	result, err := s.Engine.Process(r.Context(), key, msg)
	if err != nil && !(errors.Is(err, domain.ErrStepLimit) && result != nil) {
		s.fail(w, key, err)
		return
	}

	resp := StepResponse{
		Conversation: result.Conversation,
		Status:       result.Status,
		Visited:      result.Visited,
		Ignored:      result.Ignored,
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST .../reset?clear_variables=true.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request, key domain.ConversationKey) {
	clearVars := false
	if v := r.URL.Query().Get("clear_variables"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "clear_variables must be a boolean", http.StatusBadRequest)
			return
		}
		clearVars = parsed
	}
	if err := s.Engine.Reset(r.Context(), key, clearVars); err != nil {
		s.fail(w, key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents streams state diffs of a conversation (SSE).
// The optional watch query parameter filters by changed field: node, state, variables.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request, key domain.ConversationKey) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(key)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watchList []string
	if watch := r.URL.Query().Get("watch"); watch != "" {
		watchList = strings.Split(watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "conversation_id", key.String())
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !watched(msg, watchList) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func watched(msg string, fields []string) bool {
	var diff domain.StateDiff
	if err := json.Unmarshal([]byte(msg), &diff); err != nil {
		return true
	}
	for _, field := range fields {
		switch strings.TrimSpace(field) {
		case "node":
			if diff.NodeID != nil {
				return true
			}
		case "state":
			if diff.State != nil {
				return true
			}
		case "variables":
			if len(diff.Variables) > 0 {
				return true
			}
		}
	}
	return false
}

func (s *Server) fail(w http.ResponseWriter, key domain.ConversationKey, err error) {
	status := http.StatusInternalServerError
	var (
		persistence *domain.PersistenceError
		transport   *domain.TransportError
	)
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.As(err, &persistence):
		status = http.StatusServiceUnavailable
	case errors.As(err, &transport):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "conversation_id", key.String(), "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
