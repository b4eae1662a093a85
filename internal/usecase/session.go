package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"conectazap/internal/domain"
	"conectazap/internal/repository"
)

// ChatSession owns the signed-in agent's view of the store: the conversation
// list, the currently selected conversation and its message sequence, and
// the per-conversation drafts. It is created on successful authentication
// and torn down on sign-out; all state is session-local. A mutex guards the
// state because HTTP handlers call in concurrently, but there is no
// cross-session sharing.
type ChatSession struct {
	store repository.Store
	user  domain.User
	log   *slog.Logger

	mu            sync.Mutex
	conversations []domain.Conversation
	selectedID    string
	messages      []domain.Message
	drafts        map[string]domain.Draft

	// pending holds conversations this session created that the store's
	// list reads have not returned yet. An id is removed the first time a
	// refresh sees it upstream.
	pending map[string]domain.Conversation
}

// NewChatSession creates a session for the given agent.
func NewChatSession(store repository.Store, user domain.User, log *slog.Logger) (*ChatSession, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if user.ID == "" {
		return nil, errors.New("usecase: user id must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatSession{
		store:   store,
		user:    user,
		log:     log,
		drafts:  make(map[string]domain.Draft),
		pending: make(map[string]domain.Conversation),
	}, nil
}

// User returns the agent this session belongs to.
func (s *ChatSession) User() domain.User {
	return s.user
}

// Refresh reloads the conversation list from the store, with unread counts,
// ordered by recency. The authoritative list replaces the local one, with
// two adjustments: optimistic entries whose ids have not reached the store
// yet are carried over rather than dropped, and the current selection is
// preserved by id when still present, moved to the first conversation
// otherwise, or cleared when the list is empty.
func (s *ChatSession) Refresh(ctx context.Context) ([]domain.Conversation, error) {
	fresh, err := s.store.ListConversations(ctx, s.user.ID)
	if err != nil {
		return nil, newError(ErrorSync, "conversation_list_error", err)
	}
	for i := range fresh {
		msgs, err := s.store.ListMessages(ctx, fresh[i].ID)
		if err != nil {
			// The count stays at zero until the next refresh; the list
			// itself is still usable.
			s.log.Warn("unread count unavailable", "conversation", fresh[i].ID, "err", err)
			continue
		}
		fresh[i].UnreadCount = domain.UnreadFor(msgs, s.user.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Authoritative data wins once present; optimistic copies survive only
	// while the store has not caught up.
	for _, c := range fresh {
		delete(s.pending, c.ID)
	}
	for _, c := range s.pending {
		fresh = append(fresh, c)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].UpdatedAt.After(fresh[j].UpdatedAt)
	})
	s.conversations = fresh
	s.reconcileSelectionLocked()
	return s.snapshotLocked(), nil
}

// reconcileSelectionLocked applies the selection rule after any list change.
func (s *ChatSession) reconcileSelectionLocked() {
	if len(s.conversations) == 0 {
		s.selectedID = ""
		s.messages = nil
		return
	}
	if s.selectedID != "" {
		for _, c := range s.conversations {
			if c.ID == s.selectedID {
				return
			}
		}
	}
	s.selectedID = s.conversations[0].ID
	s.messages = nil
}

// CreateOrGet finds or creates the conversation for a client identifier.
// The lookup-then-create race is settled by the store's conditional put:
// the losing writer re-reads and both callers converge on one conversation.
// A newly created conversation is inserted into the local list immediately
// so it is visible before the next refresh.
func (s *ChatSession) CreateOrGet(ctx context.Context, clientID, displayName string) (domain.Conversation, bool, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.Conversation{}, false, newError(ErrorInvalidInput, "empty_client_identifier", nil)
	}

	existing, found, err := s.store.FindConversation(ctx, s.user.ID, clientID)
	if err != nil {
		return domain.Conversation{}, false, newError(ErrorSync, "conversation_lookup_error", err)
	}
	if found {
		return existing, false, nil
	}

	conv := repository.NewConversation(s.user.ID, clientID, displayName)
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrConversationExists) {
			winner, found, rerr := s.store.FindConversation(ctx, s.user.ID, clientID)
			if rerr != nil || !found {
				return domain.Conversation{}, false, newError(ErrorSync, "conversation_reread_error", rerr)
			}
			return winner, false, nil
		}
		// No optimistic insert on failure; local state stays as it was.
		return domain.Conversation{}, false, newError(ErrorSync, "conversation_create_error", err)
	}

	s.mu.Lock()
	s.pending[conv.ID] = conv
	s.conversations = append([]domain.Conversation{conv}, s.conversations...)
	if s.selectedID == "" {
		s.selectedID = conv.ID
	}
	s.mu.Unlock()
	return conv, true, nil
}

// Select makes a conversation the active one: the previous message sequence
// is discarded entirely, the new one is loaded ordered by timestamp, the
// draft swap happens implicitly (drafts are keyed by conversation id), and
// unread inbound messages are marked read. Read-marking failure does not
// undo the selection; it is logged and retried on the next selection event.
func (s *ChatSession) Select(ctx context.Context, conversationID string) ([]domain.Message, domain.Draft, error) {
	s.mu.Lock()
	conv, ok := s.findLocked(conversationID)
	s.mu.Unlock()
	if !ok {
		return nil, domain.Draft{}, newError(ErrorInvalidInput, "unknown_conversation", nil)
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, domain.Draft{}, newError(ErrorSync, "message_list_error", err)
	}

	marked := true
	if n, err := s.store.MarkRead(ctx, conv.ID, s.user.ID); err != nil {
		s.log.Warn("mark read failed", "conversation", conv.ID, "err", err)
		marked = false
	} else if n > 0 {
		// Reflect the batch update locally instead of re-reading.
		for i := range msgs {
			if msgs[i].SenderID != s.user.ID && msgs[i].Status != domain.StatusRead {
				msgs[i].Status = domain.StatusRead
			}
		}
	}

	s.mu.Lock()
	s.selectedID = conv.ID
	s.messages = msgs
	if marked {
		for i := range s.conversations {
			if s.conversations[i].ID == conv.ID {
				s.conversations[i].UnreadCount = 0
				break
			}
		}
	}
	draft := s.drafts[conv.ID]
	s.mu.Unlock()

	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, draft, nil
}

// Send persists a message on a conversation and reconciles local state: the
// draft for that conversation is cleared, the message is appended to the
// visible sequence when the conversation is selected, and for ordinary
// messages the conversation's preview and position move to the top of the
// list. Notes leave the conversation record untouched.
func (s *ChatSession) Send(ctx context.Context, conversationID, content string, typ domain.MessageType) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if typ == "" {
		typ = domain.TypeMessage
	}
	if typ != domain.TypeMessage && typ != domain.TypeNote {
		return domain.Message{}, newError(ErrorInvalidInput, "unknown_message_type", nil)
	}

	s.mu.Lock()
	conv, ok := s.findLocked(conversationID)
	s.mu.Unlock()
	if !ok {
		return domain.Message{}, newError(ErrorInvalidInput, "unknown_conversation", nil)
	}

	msg, err := s.store.SendMessage(ctx, conv, s.user.ID, content, typ)
	if err != nil {
		// The draft survives a failed send.
		return domain.Message{}, newError(ErrorSync, "message_send_error", err)
	}

	s.mu.Lock()
	delete(s.drafts, conv.ID)
	if s.selectedID == conv.ID {
		s.messages = append(s.messages, msg)
	}
	if typ == domain.TypeMessage {
		preview := &domain.LastMessage{
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			SenderID:  msg.SenderID,
		}
		for i := range s.conversations {
			if s.conversations[i].ID != conv.ID {
				continue
			}
			s.conversations[i].UpdatedAt = msg.Timestamp
			s.conversations[i].LastMessage = preview
			break
		}
		if c, ok := s.pending[conv.ID]; ok {
			c.UpdatedAt = msg.Timestamp
			c.LastMessage = preview
			s.pending[conv.ID] = c
		}
		sort.SliceStable(s.conversations, func(i, j int) bool {
			return s.conversations[i].UpdatedAt.After(s.conversations[j].UpdatedAt)
		})
	}
	s.mu.Unlock()
	return msg, nil
}

// Draft returns the stored draft for a conversation. ok is false when no
// draft exists; callers render a blank composer with type message.
func (s *ChatSession) Draft(conversationID string) (domain.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[conversationID]
	return d, ok
}

// SetDraft stores the in-progress composition for a conversation. Setting
// an empty text with the default type removes the draft.
func (s *ChatSession) SetDraft(conversationID, text string, typ domain.MessageType) {
	if typ == "" {
		typ = domain.TypeMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" && typ == domain.TypeMessage {
		delete(s.drafts, conversationID)
		return
	}
	s.drafts[conversationID] = domain.Draft{Text: text, Type: typ}
}

// Conversations returns a snapshot of the local conversation list.
func (s *ChatSession) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Selected returns the currently selected conversation, if any.
func (s *ChatSession) Selected() (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return domain.Conversation{}, false
	}
	return s.findLocked(s.selectedID)
}

// Messages returns a snapshot of the selected conversation's sequence.
func (s *ChatSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastInbound returns the most recent client-authored message in the
// selected conversation. ok is false when no such message exists, which
// callers must treat as a local condition rather than invoking the
// suggestion endpoint.
func (s *ChatSession) LastInbound() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.SenderID != s.user.ID && m.Type == domain.TypeMessage {
			return m, true
		}
	}
	return domain.Message{}, false
}

// History returns a conversation's message sequence without the selection
// side effects: no read marking, no local state change. The conversation
// must belong to this agent's list.
func (s *ChatSession) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	_, ok := s.findLocked(conversationID)
	s.mu.Unlock()
	if !ok {
		return nil, newError(ErrorInvalidInput, "unknown_conversation", nil)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorSync, "message_list_error", err)
	}
	return msgs, nil
}

func (s *ChatSession) findLocked(conversationID string) (domain.Conversation, bool) {
	for _, c := range s.conversations {
		if c.ID == conversationID {
			return c, true
		}
	}
	return domain.Conversation{}, false
}

func (s *ChatSession) snapshotLocked() []domain.Conversation {
	out := make([]domain.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}
