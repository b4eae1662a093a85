package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"conectazap/internal/domain"
	"conectazap/internal/identity"
	"conectazap/internal/realtime"
	"conectazap/internal/repository"
	"conectazap/internal/usecase"
	"conectazap/internal/webhook"
)

// Server exposes the chat application over HTTP for the browser client.
// One ChatSession exists per signed-in agent; sessions are created lazily on
// the first authenticated request and dropped on auth failure.
type Server struct {
	verifier  identity.Verifier
	store     repository.Store
	directory repository.Directory
	suggest   *usecase.SuggestService
	hub       *realtime.Hub
	webhook   *webhook.Service
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*usecase.ChatSession
}

// Config carries the Server's collaborators.
type Config struct {
	Verifier  identity.Verifier
	Store     repository.Store
	Directory repository.Directory
	Suggest   *usecase.SuggestService
	Hub       *realtime.Hub
	Webhook   *webhook.Service
	Logger    *slog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("httpapi: verifier must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("httpapi: store must not be nil")
	}
	if cfg.Directory == nil {
		return nil, errors.New("httpapi: directory must not be nil")
	}
	if cfg.Suggest == nil {
		return nil, errors.New("httpapi: suggest service must not be nil")
	}
	if cfg.Webhook == nil {
		return nil, errors.New("httpapi: webhook service must not be nil")
	}
	if cfg.Hub == nil {
		cfg.Hub = realtime.NewHub()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		verifier:  cfg.Verifier,
		store:     cfg.Store,
		directory: cfg.Directory,
		suggest:   cfg.Suggest,
		hub:       cfg.Hub,
		webhook:   cfg.Webhook,
		log:       cfg.Logger,
		sessions:  make(map[string]*usecase.ChatSession),
	}, nil
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/webhook/whatsapp", s.handleWebhookVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook/whatsapp", s.handleWebhookEvent).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAgent)
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/select", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/draft", s.handleGetDraft).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/draft", s.handlePutDraft).Methods(http.MethodPut)
	api.HandleFunc("/suggest", s.handleSuggest).Methods(http.MethodPost)
	api.HandleFunc("/contacts", s.handleListContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.handlePutContact).Methods(http.MethodPost)
	api.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates", s.handlePutTemplate).Methods(http.MethodPost)
	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

// session returns the agent's ChatSession, creating it on first use.
func (s *Server) session(user domain.User) (*usecase.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[user.ID]; ok {
		return sess, nil
	}
	sess, err := usecase.NewChatSession(s.store, user, s.log)
	if err != nil {
		return nil, err
	}
	s.sessions[user.ID] = sess
	return sess, nil
}

// dropSession tears down an agent's session state on forced sign-out.
func (s *Server) dropSession(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- response helpers ----

type errorBody struct {
	Code   usecase.ErrorCode `json:"code"`
	Reason string            `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code usecase.ErrorCode, reason string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Reason: reason}})
}

// writeUsecaseError maps the error taxonomy onto HTTP statuses. Every code
// is recoverable; the client shows a notice and keeps its local state.
func (s *Server) writeUsecaseError(w http.ResponseWriter, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		s.log.Error("unclassified error", "err", err)
		writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error")
		return
	}
	status := http.StatusInternalServerError
	switch ue.Code {
	case usecase.ErrorAuth:
		status = http.StatusUnauthorized
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorSync, usecase.ErrorSuggestion, usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if ue.Code == usecase.ErrorSuggestion && ue.Reason == "no_customer_message" {
		// Local precondition, not an upstream failure.
		status = http.StatusBadRequest
	}
	s.log.Warn("request failed", "code", string(ue.Code), "reason", ue.Reason, "err", ue.Err)
	writeError(w, status, ue.Code, ue.Reason)
}
