package domain

import "time"

// ConversationStatus is the lifecycle state of a thread.
type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "open"
	ConversationPending ConversationStatus = "pending"
	ConversationClosed  ConversationStatus = "closed"
)

// LastMessage is the denormalized preview of the most recent ordinary
// message, shown in the conversation list. Notes never touch it.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId"`
}

// Conversation is a thread between exactly one agent and one client
// identity. At most one exists per (AgentID, ClientID) pair.
type Conversation struct {
	ID              string             `json:"id"`
	ClientID        string             `json:"clientId"`
	ClientName      string             `json:"clientName"`
	ClientAvatarURL string             `json:"clientAvatarUrl"`
	AgentID         string             `json:"agentId"`
	Status          ConversationStatus `json:"status"`
	Tags            []string           `json:"tags"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	LastMessage     *LastMessage       `json:"lastMessage"`
	UnreadCount     int                `json:"unreadCount"`
}

// UnreadFor counts the messages an agent has not yet read: sender is someone
// else, status is not read, and the entry is an ordinary message. Notes are
// excluded regardless of status.
func UnreadFor(msgs []Message, userID string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID == userID {
			continue
		}
		if m.Status == StatusRead {
			continue
		}
		if m.Type != TypeMessage {
			continue
		}
		n++
	}
	return n
}
