package models

import (
	"errors"
	"fmt"
	"time"
)

// Chat represents a conversation container owned by the chat service. The client keeps a cached copy of
// it next to the locally assembled transcript.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message represents an individual entry of a conversation transcript. Messages are immutable once
// fully materialized; the only exception is the assistant message currently being streamed, whose
// Content grows as fragments arrive.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Comment string `json:"comment,omitempty"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an instruction message that is not shown as part of the conversation.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// UnmarshalText rejects unknown roles so a corrupted transcript is never silently accepted.
func (r *Role) UnmarshalText(text []byte) error {
	role := Role(text)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}

// ErrChatNotFound is returned by stores when a chat doesn't exist.
var ErrChatNotFound = errors.New("chat not found")
