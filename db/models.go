package db

import (
	"errors"
	"time"
)

// ErrConversationNotFound is returned when a conversation id does not exist
var ErrConversationNotFound = errors.New("conversation not found")

// MessageType is the persisted kind of a message
type MessageType int

const (
	MessageSystem MessageType = iota
	MessageHuman
	MessageAI
	MessageTool
)

// String returns the upper-case name used in logs and exports
func (t MessageType) String() string {
	switch t {
	case MessageSystem:
		return "SYSTEM"
	case MessageHuman:
		return "HUMAN"
	case MessageAI:
		return "AI"
	case MessageTool:
		return "TOOL"
	}
	return "UNKNOWN"
}

// ParseMessageType is the inverse of MessageType.String
func ParseMessageType(s string) (MessageType, bool) {
	for _, t := range []MessageType{MessageSystem, MessageHuman, MessageAI, MessageTool} {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Conversation represents a chat conversation
type Conversation struct {
	ID          int64      `json:"conversation_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Active      bool       `json:"active"`
	Assistant   string     `json:"assistant"`
	Priority    int        `json:"priority"` // 0 = unpinned
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Messages    []*Message `json:"messages,omitempty"`
}

// Pinned reports whether the conversation is pinned on top of the list
func (c *Conversation) Pinned() bool {
	return c.Priority > 0
}

// Message represents a single message in a conversation
type Message struct {
	ID             int64       `json:"message_id"`
	ConversationID int64       `json:"conversation_id"`
	Type           MessageType `json:"type"`
	Text           string      `json:"message"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMessage is a message to be appended by AddMessages
type NewMessage struct {
	Type MessageType
	Text string
}

// ConversationUpdate carries the metadata fields to change; nil fields are left untouched
type ConversationUpdate struct {
	Name        *string
	Description *string
	Active      *bool
	Priority    *int
}

func (u ConversationUpdate) empty() bool {
	return u.Name == nil && u.Description == nil && u.Active == nil && u.Priority == nil
}
