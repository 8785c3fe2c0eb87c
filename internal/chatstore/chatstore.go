// Package chatstore persists conversations and their messages. It is plain
// CRUD storage beside the relay: the streamed event history lives in the
// relay's event log, while the final assistant text lands here once a
// generation job completes.
package chatstore

import (
	"context"
	"errors"
	"time"
)

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrConversationNotFound is returned for lookups of absent conversations.
var ErrConversationNotFound = errors.New("chatstore: conversation not found")

// ErrMessageNotFound is returned for updates of absent messages.
var ErrMessageNotFound = errors.New("chatstore: message not found")

// Conversation groups an ordered exchange of messages.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one user or assistant turn. Assistant messages are created
// empty as placeholders and finalized when their generation job finishes;
// JobID links the placeholder to its stream for reconnection.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Reasoning      string    `json:"reasoning,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store defines persistence behaviour for conversations and messages.
type Store interface {
	CreateConversation(ctx context.Context, title string) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	AddMessage(ctx context.Context, conversationID int64, role, content string) (Message, error)
	SetMessageJob(ctx context.Context, messageID int64, jobID string) error
	FinalizeAssistantMessage(ctx context.Context, messageID int64, content, reasoning string) error
	Close() error
}
