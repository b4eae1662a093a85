package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"conectazap/internal/domain"
	"conectazap/internal/identity"
	"conectazap/internal/realtime"
	"conectazap/internal/repository"
	"conectazap/internal/usecase"
	"conectazap/internal/webhook"
)

// memStore is an in-memory repository.Store with call accounting, used to
// drive the HTTP layer without DynamoDB.
type memStore struct {
	convs map[string]domain.Conversation // agentID + "|" + clientID
	msgs  map[string][]domain.Message

	clock time.Time
	calls int
}

func newMemStore() *memStore {
	return &memStore{
		convs: make(map[string]domain.Conversation),
		msgs:  make(map[string][]domain.Message),
		// Ahead of wall time so store-assigned message timestamps always
		// sort after conversation creation times.
		clock: time.Now().UTC().Add(time.Hour),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) key(agentID, clientID string) string { return agentID + "|" + clientID }

func (m *memStore) ListConversations(_ context.Context, agentID string) ([]domain.Conversation, error) {
	m.calls++
	var out []domain.Conversation
	for _, c := range m.convs {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) FindConversation(_ context.Context, agentID, clientID string) (domain.Conversation, bool, error) {
	m.calls++
	c, ok := m.convs[m.key(agentID, clientID)]
	return c, ok, nil
}

func (m *memStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	m.calls++
	k := m.key(conv.AgentID, conv.ClientID)
	if _, ok := m.convs[k]; ok {
		return repository.ErrConversationExists
	}
	m.convs[k] = conv
	return nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.calls++
	out := make([]domain.Message, len(m.msgs[conversationID]))
	copy(out, m.msgs[conversationID])
	return out, nil
}

func (m *memStore) SendMessage(_ context.Context, conv domain.Conversation, senderID, content string, typ domain.MessageType) (domain.Message, error) {
	m.calls++
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      m.tick(),
		Status:         domain.StatusSent,
		Type:           typ,
	}
	m.msgs[conv.ID] = append(m.msgs[conv.ID], msg)
	if typ == domain.TypeMessage {
		k := m.key(conv.AgentID, conv.ClientID)
		stored := m.convs[k]
		stored.UpdatedAt = msg.Timestamp
		stored.LastMessage = &domain.LastMessage{Content: content, Timestamp: msg.Timestamp, SenderID: senderID}
		m.convs[k] = stored
	}
	return msg, nil
}

func (m *memStore) MarkRead(_ context.Context, conversationID, readerID string) (int, error) {
	m.calls++
	n := 0
	msgs := m.msgs[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && msgs[i].Status != domain.StatusRead {
			msgs[i].Status = domain.StatusRead
			n++
		}
	}
	m.msgs[conversationID] = msgs
	return n, nil
}

// seedInbound appends a client-authored message directly to the store.
func (m *memStore) seedInbound(convID, senderID, content string) {
	m.msgs[convID] = append(m.msgs[convID], domain.Message{
		ID: uuid.NewString(), ConversationID: convID, SenderID: senderID,
		Content: content, Timestamp: m.tick(), Status: domain.StatusSent, Type: domain.TypeMessage,
	})
}

type memDirectory struct {
	contacts  []domain.Contact
	templates []domain.Template
}

func (d *memDirectory) ListContacts(context.Context) ([]domain.Contact, error) {
	return d.contacts, nil
}

func (d *memDirectory) PutContact(_ context.Context, c domain.Contact) error {
	d.contacts = append(d.contacts, c)
	return nil
}

func (d *memDirectory) ListTemplates(context.Context) ([]domain.Template, error) {
	return d.templates, nil
}

func (d *memDirectory) PutTemplate(_ context.Context, t domain.Template) (domain.Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	d.templates = append(d.templates, t)
	return t, nil
}

type stubSuggestionClient struct {
	reply     string
	calls     int
	lastInput string
}

func (s *stubSuggestionClient) Suggest(_ context.Context, customerMessage string) (string, error) {
	s.calls++
	s.lastInput = customerMessage
	return s.reply, nil
}

const testSecret = "test-session-secret"

type testEnv struct {
	server  *Server
	store   *memStore
	llm     *stubSuggestionClient
	hub     *realtime.Hub
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	llm := &stubSuggestionClient{reply: "Claro, posso ajudar."}
	suggestSvc, err := usecase.NewSuggestService(llm)
	require.NoError(t, err)
	hookSvc, err := webhook.NewService("verify-tok", nil, nil)
	require.NoError(t, err)
	hub := realtime.NewHub()

	srv, err := NewServer(Config{
		Verifier:  identity.NewJWTVerifier([]byte(testSecret)),
		Store:     store,
		Directory: &memDirectory{},
		Suggest:   suggestSvc,
		Hub:       hub,
		Webhook:   hookSvc,
	})
	require.NoError(t, err)
	return &testEnv{server: srv, store: store, llm: llm, hub: hub, handler: srv.Router()}
}

func (e *testEnv) token(t *testing.T, user domain.User) string {
	t.Helper()
	tok, err := identity.NewJWTVerifier([]byte(testSecret)).Generate(user, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) agentToken(t *testing.T) string {
	return e.token(t, domain.User{
		ID: "agent-1", Name: "Ana", Email: "ana@example.com",
		Role: domain.RoleAgent, EmailVerified: true,
	})
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/conversations", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, usecase.ErrorAuth, body["error"].Code)
	require.Equal(t, "missing_token", body["error"].Reason)
	require.Zero(t, env.store.calls)
}

func TestAPI_InvalidToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/conversations", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "invalid_token", body["error"].Reason)
}

func TestAPI_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	tok, err := identity.NewJWTVerifier([]byte(testSecret)).
		Generate(domain.User{ID: "agent-1", EmailVerified: true}, -time.Minute)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "expired_token", body["error"].Reason)
}

func TestAPI_UnverifiedEmailTreatedAsSignedOut(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, domain.User{ID: "agent-1", Email: "ana@example.com", EmailVerified: false})

	w := env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "email_not_verified", body["error"].Reason)
	require.Zero(t, env.store.calls, "no store traffic for an unverified account")
}

func TestCreateConversation_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/conversations", tok,
		map[string]string{"phone": "+5511999999999"})
	require.Equal(t, http.StatusCreated, w.Code)

	type createResp struct {
		Conversation domain.Conversation `json:"conversation"`
		IsNew        bool                `json:"isNew"`
	}
	first := decode[createResp](t, w)
	require.True(t, first.IsNew)
	require.Equal(t, "+5511999999999", first.Conversation.ClientID)
	require.Equal(t, "+5511999999999", first.Conversation.ClientName, "name falls back to the phone")
	require.Equal(t, domain.ConversationOpen, first.Conversation.Status)

	// Same phone again returns the same conversation, not a duplicate.
	w = env.do(t, http.MethodPost, "/api/conversations", tok,
		map[string]string{"phone": "+5511999999999"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[createResp](t, w)
	require.False(t, second.IsNew)
	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestCreateConversation_EmptyPhone(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/conversations", env.agentToken(t),
		map[string]string{"phone": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConversations_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+552"})

	// Sending on the older conversation moves it to the top.
	w := env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	type listResp struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	convs := decode[listResp](t, w).Conversations
	require.Len(t, convs, 2)

	older := convs[len(convs)-1]
	w = env.do(t, http.MethodPost, "/api/conversations/"+older.ID+"/messages", tok,
		map[string]string{"content": "oi", "type": "message"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	convs = decode[listResp](t, w).Conversations
	require.Equal(t, older.ID, convs[0].ID)
	require.NotNil(t, convs[0].LastMessage)
	require.Equal(t, "oi", convs[0].LastMessage.Content)
}

func TestSelect_ReturnsMessagesAndMarksRead(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation
	env.store.seedInbound(conv.ID, "+551", "preciso de ajuda")

	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/select", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	type selectResp struct {
		Messages []domain.Message `json:"messages"`
		Draft    domain.Draft     `json:"draft"`
	}
	got := decode[selectResp](t, w)
	require.Len(t, got.Messages, 1)
	require.Equal(t, domain.StatusRead, got.Messages[0].Status)
	require.Empty(t, got.Draft.Text)
}

func TestSelect_UnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/conversations/nope/select", env.agentToken(t), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSend_Note(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation

	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", tok,
		map[string]string{"content": "cliente vip", "type": "note"})
	require.Equal(t, http.StatusCreated, w.Code)
	msg := decode[struct {
		Message domain.Message `json:"message"`
	}](t, w).Message
	require.Equal(t, domain.TypeNote, msg.Type)

	// The note leaves the conversation preview untouched.
	stored := env.store.convs[env.store.key("agent-1", "+551")]
	require.Nil(t, stored.LastMessage)
}

func TestSend_EmptyContent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)
	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation

	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", tok,
		map[string]string{"content": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraft_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)
	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation

	w = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/draft", tok,
		map[string]string{"text": "hello", "type": "note"})
	require.Equal(t, http.StatusNoContent, w.Code)

	type draftResp struct {
		Draft  domain.Draft `json:"draft"`
		Exists bool         `json:"exists"`
	}
	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/draft", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[draftResp](t, w)
	require.True(t, got.Exists)
	require.Equal(t, "hello", got.Draft.Text)
	require.Equal(t, domain.TypeNote, got.Draft.Type)

	// A conversation that never had a draft reports a blank composer.
	w = env.do(t, http.MethodGet, "/api/conversations/other/draft", tok, nil)
	got = decode[draftResp](t, w)
	require.False(t, got.Exists)
	require.Empty(t, got.Draft.Text)
	require.Equal(t, domain.TypeMessage, got.Draft.Type)
}

func TestDraft_UnknownTypeRejected(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPut, "/api/conversations/c-1/draft", env.agentToken(t),
		map[string]string{"text": "x", "type": "bogus"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggest_NoCustomerMessage(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/suggest", env.agentToken(t), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "no_customer_message", body["error"].Reason)
	require.Zero(t, env.llm.calls)
}

func TestSuggest_UsesLastInboundMessage(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation
	env.store.seedInbound(conv.ID, "+551", "qual o prazo?")

	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/select", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/suggest", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]string](t, w)
	require.Equal(t, "Claro, posso ajudar.", got["suggestedResponse"])
	require.Equal(t, "qual o prazo?", env.llm.lastInput)
}

func TestContacts_PutAndList(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/contacts", tok,
		domain.Contact{Name: "Bruno", Phone: "+5511888888888"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/contacts", tok, domain.Contact{Name: "NoPhone"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/contacts", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Contacts []domain.Contact `json:"contacts"`
	}](t, w)
	require.Len(t, got.Contacts, 1)
}

func TestTemplates_PutAssignsID(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/templates", tok,
		domain.Template{Title: "Saudação", Content: "Olá! Como posso ajudar?"})
	require.Equal(t, http.StatusCreated, w.Code)
	got := decode[struct {
		Template domain.Template `json:"template"`
	}](t, w)
	require.NotEmpty(t, got.Template.ID)

	w = env.do(t, http.MethodPost, "/api/templates", tok, domain.Template{Content: "no title"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookVerify_HTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-tok&hub.challenge=4242", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "4242", w.Body.String())

	w = env.do(t, http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=4242", "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookEvent_HTTP(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
		strings.NewReader(`{"entry":[]}`))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"success"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("not json"))
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAPI_QueryTokenRejectedOffStream(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/conversations?token="+env.agentToken(t), "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "missing_token", body["error"].Reason)
}

func TestListConversations_CarriesUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	tok := env.agentToken(t)

	w := env.do(t, http.MethodPost, "/api/conversations", tok, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation
	env.store.seedInbound(conv.ID, "+551", "oi")
	env.store.seedInbound(conv.ID, "+551", "tem alguém?")

	w = env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	convs := decode[struct {
		Conversations []domain.Conversation `json:"conversations"`
	}](t, w).Conversations
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].UnreadCount)

	// Selecting marks everything read; the next list shows zero.
	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/select", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	convs = decode[struct {
		Conversations []domain.Conversation `json:"conversations"`
	}](t, w).Conversations
	require.Zero(t, convs[0].UnreadCount)
}

func TestListMessages_ScopedToOwningAgent(t *testing.T) {
	env := newTestEnv(t)
	tokA := env.token(t, domain.User{ID: "agent-a", Email: "a@example.com", EmailVerified: true})
	tokB := env.token(t, domain.User{ID: "agent-b", Email: "b@example.com", EmailVerified: true})

	w := env.do(t, http.MethodPost, "/api/conversations", tokA, map[string]string{"phone": "+551"})
	conv := decode[struct {
		Conversation domain.Conversation `json:"conversation"`
	}](t, w).Conversation
	env.store.seedInbound(conv.ID, "+551", "dados sigilosos")

	// The owner reads normally.
	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", tokA, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Another agent holding the raw id is turned away.
	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", tokB, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]errorBody](t, w)
	require.Equal(t, "unknown_conversation", body["error"].Reason)
}

func TestSessions_IsolatedPerAgent(t *testing.T) {
	env := newTestEnv(t)
	tokA := env.token(t, domain.User{ID: "agent-a", Email: "a@example.com", EmailVerified: true})
	tokB := env.token(t, domain.User{ID: "agent-b", Email: "b@example.com", EmailVerified: true})

	env.do(t, http.MethodPost, "/api/conversations", tokA, map[string]string{"phone": "+551"})

	w := env.do(t, http.MethodGet, "/api/conversations", tokB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Conversations []domain.Conversation `json:"conversations"`
	}](t, w)
	require.Empty(t, got.Conversations, "agent B never sees agent A's conversations")
}
