package domain

import "time"

// MessageStatus tracks delivery progress. Transitions only move forward;
// a message never regresses from read.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// statusRank orders statuses for the forward-only transition check.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a status change from s to next is allowed.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	a, ok := statusRank[s]
	if !ok {
		return false
	}
	b, ok := statusRank[next]
	if !ok {
		return false
	}
	return b >= a
}

// MessageType distinguishes ordinary client-visible messages from internal
// agent-only notes.
type MessageType string

const (
	TypeMessage MessageType = "message"
	TypeNote    MessageType = "note"
)

// Message is a single persisted conversation entry. Content is immutable
// after creation; only status moves.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status"`
	Type           MessageType   `json:"type"`
}

// Draft is unsent composer content, held per conversation in session memory
// only. Never persisted.
type Draft struct {
	Text string      `json:"text"`
	Type MessageType `json:"type"`
}
