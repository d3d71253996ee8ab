package models

import (
	"fmt"
	"time"
)

// DefaultTitle is the placeholder title of a thread until its first user message.
const DefaultTitle = "New chat"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Thread is the metadata record of one conversation.
// Its messages live in the conversation store, keyed by ID.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDefaultTitle reports whether the thread still carries the placeholder title.
func (t Thread) HasDefaultTitle() bool {
	return t.Title == "" || t.Title == DefaultTitle
}

// Message represents a single chat message within a thread.
type Message struct {
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(threadID string, role Role, content string) Message {
	return Message{
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
