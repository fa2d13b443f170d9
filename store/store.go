// Package store persists conversation transcripts with bounded lifetime.
package store

import (
	"errors"
	"time"

	"concierge/config"
)

// DefaultTTL is how long a conversation stays readable after its last write.
const DefaultTTL = 24 * time.Hour

var (
	// ErrConversationNotFound is returned by Append for an unknown id.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTurnInProgress is returned by BeginTurn when another turn is
	// already running against the same conversation. Overlapping turns are
	// rejected rather than interleaved.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")
)

// ToolUseStatus is the lifecycle of one tool invocation inside a message.
type ToolUseStatus string

const (
	ToolUsePending  ToolUseStatus = "pending"
	ToolUseComplete ToolUseStatus = "complete"
	ToolUseError    ToolUseStatus = "error"
)

// ToolUse records one tool invocation made while producing a message.
type ToolUse struct {
	ToolName string        `json:"tool_name"`
	Status   ToolUseStatus `json:"status"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Message is one transcript entry. Immutable once appended; array order is
// the sequencing guarantee.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
}

// Conversation is an append-only transcript owned by one user.
type Conversation struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Role      config.Role `json:"role"`
	Messages  []Message   `json:"messages"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store is the conversation persistence boundary. Get returns (nil, nil) for
// an unknown id, an expired conversation, or an owner mismatch; the caller
// cannot distinguish the three, which is what keeps cross-user probing blind.
type Store interface {
	Create(userID string, role config.Role) (*Conversation, error)
	Get(id, userID string) (*Conversation, error)
	ListForUser(userID string, roleFilter config.Role, limit int) ([]*Conversation, error)
	Append(id string, msg Message) error
	Delete(id, userID string) error

	// BeginTurn reserves the conversation for one streaming turn; EndTurn
	// releases it. A second BeginTurn before EndTurn fails with
	// ErrTurnInProgress.
	BeginTurn(id string) error
	EndTurn(id string)

	Close() error
}
