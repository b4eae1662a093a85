package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"conectazap/internal/domain"
	"conectazap/internal/usecase"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
		return false
	}
	return true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	convs, err := sess.Refresh(r.Context())
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phone string `json:"phone"`
		Name  string `json:"name"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Phone) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "empty_phone")
		return
	}

	sess := sessionFrom(r)
	conv, isNew, err := sess.CreateOrGet(r.Context(), in.Phone, in.Name)
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	if isNew {
		s.hub.Broadcast(sess.User().ID, sess.Conversations())
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"conversation": conv, "isNew": isNew})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	msgs, draft, err := sess.Select(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "draft": draft})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	// Plain read: no selection event, no read marking. The session enforces
	// that the conversation belongs to the requesting agent.
	sess := sessionFrom(r)
	msgs, err := sess.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string             `json:"content"`
		Type    domain.MessageType `json:"type"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	sess := sessionFrom(r)
	msg, err := sess.Send(r.Context(), mux.Vars(r)["id"], in.Content, in.Type)
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	if msg.Type == domain.TypeMessage {
		s.hub.Broadcast(sess.User().ID, sess.Conversations())
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	draft, ok := sess.Draft(mux.Vars(r)["id"])
	if !ok {
		draft = domain.Draft{Type: domain.TypeMessage}
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": draft, "exists": ok})
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string             `json:"text"`
		Type domain.MessageType `json:"type"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Type != "" && in.Type != domain.TypeMessage && in.Type != domain.TypeNote {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "unknown_message_type")
		return
	}
	sess := sessionFrom(r)
	sess.SetDraft(mux.Vars(r)["id"], in.Text, in.Type)
	w.WriteHeader(http.StatusNoContent)
}

// handleSuggest generates a proposed reply from the last client-authored
// message of the selected conversation. The composer is never touched
// server-side; on any failure the client keeps what it had.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	inbound, ok := sess.LastInbound()
	if !ok {
		writeError(w, http.StatusBadRequest, usecase.ErrorSuggestion, "no_customer_message")
		return
	}
	reply, err := s.suggest.Suggest(r.Context(), inbound.Content)
	if err != nil {
		s.writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"suggestedResponse": reply})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.directory.ListContacts(r.Context())
	if err != nil {
		s.log.Warn("contact list failed", "err", err)
		writeError(w, http.StatusBadGateway, usecase.ErrorSync, "contact_list_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) handlePutContact(w http.ResponseWriter, r *http.Request) {
	var in domain.Contact
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Phone) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "empty_phone")
		return
	}
	if err := s.directory.PutContact(r.Context(), in); err != nil {
		s.log.Warn("contact write failed", "err", err)
		writeError(w, http.StatusBadGateway, usecase.ErrorSync, "contact_write_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"contact": in})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.directory.ListTemplates(r.Context())
	if err != nil {
		s.log.Warn("template list failed", "err", err)
		writeError(w, http.StatusBadGateway, usecase.ErrorSync, "template_list_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handlePutTemplate(w http.ResponseWriter, r *http.Request) {
	var in domain.Template
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "empty_title")
		return
	}
	stored, err := s.directory.PutTemplate(r.Context(), in)
	if err != nil {
		s.log.Warn("template write failed", "err", err)
		writeError(w, http.StatusBadGateway, usecase.ErrorSync, "template_write_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": stored})
}

func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := s.webhook.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = r.Body.Close() }()
	if err := s.webhook.HandleEvent(r.Context(), body); err != nil {
		s.log.Error("webhook event failed", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
