// Package api implements the HTTP API: chat, direct search, health,
// and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/kestrel-agent/internal/buildinfo"
	"github.com/kestrelworks/kestrel-agent/internal/events"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
	"github.com/kestrelworks/kestrel-agent/internal/retrieval"
	"github.com/kestrelworks/kestrel-agent/internal/session"
)

// SessionRunner runs one reasoning session over a conversation and
// returns the final answer. *agent.Controller satisfies this.
type SessionRunner interface {
	Run(ctx context.Context, sess *session.Session) (string, error)
}

// Searcher is the direct retrieval entry point. *retrieval.Engine
// satisfies this.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]retrieval.SearchResult, error)
}

// Models names the LLM models sessions run with.
type Models struct {
	Default string
	Alt     string
}

// conversation tracks one conversation's transcript and whether a
// reasoning session is currently running over it. At most one session
// per conversation is in flight at a time.
type conversation struct {
	messages []session.Message
	inFlight bool
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	runner   SessionRunner
	searcher Searcher
	bus      *events.Bus
	models   Models
	logger   *slog.Logger
	server   *http.Server

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewServer creates the API server.
func NewServer(address string, port int, runner SessionRunner, searcher Searcher, bus *events.Bus, models Models, logger *slog.Logger) *Server {
	return &Server{
		address:       address,
		port:          port,
		runner:        runner,
		searcher:      searcher,
		bus:           bus,
		models:        models,
		logger:        logger,
		conversations: make(map[string]*conversation),
	}
}

// routes builds the request mux. Split out so tests can exercise
// handlers without a listening socket.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	return mux
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // sessions and the event stream outlive any sane write budget
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
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

// writeJSON encodes v as JSON to w, logging failures at debug level.
// An error here usually means the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Kestrel",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	info["status"] = "healthy"
	writeJSON(w, info, s.logger)
}

// ChatRequest is the chat endpoint's request body.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// ChatResponse is the chat endpoint's response body.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Steps          int    `json:"steps"`
}

// handleChat runs one full reasoning session over the conversation.
// POST /api/chat {"message": "what did we decide about caching?"}
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

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	history, ok := s.acquireConversation(convID)
	if !ok {
		s.errorResponse(w, http.StatusConflict, "a session is already running for this conversation")
		return
	}

	sess := session.New(convID, s.models.Default, s.models.Alt, req.UserID)
	sess.Messages = history
	sess.AddMessage("user", req.Message)

	answer, err := s.runner.Run(r.Context(), sess)
	s.releaseConversation(convID, sess.Messages, err == nil)
	if err != nil {
		s.logger.Error("reasoning session failed", "conversation_id", convID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session failed: "+err.Error())
		return
	}

	writeJSON(w, ChatResponse{
		Response:       answer,
		ConversationID: convID,
		Steps:          sess.Config.Step,
	}, s.logger)
}

// acquireConversation marks the conversation in flight and returns a
// copy of its transcript. Returns ok=false when a session is already
// running for it.
func (s *Server) acquireConversation(id string) ([]session.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversations[id]
	if conv == nil {
		conv = &conversation{}
		s.conversations[id] = conv
	}
	if conv.inFlight {
		return nil, false
	}
	conv.inFlight = true
	history := make([]session.Message, len(conv.messages))
	copy(history, conv.messages)
	return history, true
}

// releaseConversation clears the in-flight mark and, on success, stores
// the updated transcript. A failed session leaves the transcript as it
// was so a retry starts from known-good state.
func (s *Server) releaseConversation(id string, messages []session.Message, keep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversations[id]
	if conv == nil {
		return
	}
	conv.inFlight = false
	if keep {
		conv.messages = messages
	}
}

// handleSearch is the direct retrieval entry point. Unlike the memory
// tool's recall path, failures here propagate to the caller.
// GET /api/search?q=...&limit=5&category=architecture
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	lexical := q.Get("lexical")
	if lexical == "" {
		lexical = query
	}

	req := retrieval.Request{
		VectorQuery:  query,
		LexicalQuery: lexical,
		Limit:        parseIntParam(r, "limit", 0),
		Filters: memory.Filters{
			Source:         q.Get("source"),
			SourceID:       q.Get("source_id"),
			ConversationID: q.Get("conversation_id"),
			ContentType:    memory.ContentType(q.Get("content_type")),
			Category:       q.Get("category"),
			Subcategory:    q.Get("subcategory"),
		},
	}

	results, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "search failed: "+err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"results": results,
		"count":   len(results),
		"query":   query,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
