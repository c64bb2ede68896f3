package model

import "time"

// Project is a logical project derived from the encoded directory beneath the
// monitored root. The decoded path is its durable identity; the display name
// is a presentation nicety and may be overridden.
type Project struct {
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	Conversations int       `json:"conversations"`
	Messages      int       `json:"messages"`
}

// ConversationStatus is the lifecycle state of a conversation. The only
// transition is active -> ended and it is terminal.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationEnded  ConversationStatus = "ended"
)

// Conversation is the reconstructed set of messages sharing a session id.
type Conversation struct {
	SessionId    string             `json:"session_id"`
	ProjectPath  string             `json:"project_path"`
	Status       ConversationStatus `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at,omitempty"`
	LastActivity time.Time          `json:"last_activity"`
	MessageCount int                `json:"message_count"`
	ToolCount    int                `json:"tool_count"`
	Summary      string             `json:"summary,omitempty"`
}

// ToolStatus is the completion state of a tool invocation. It only moves
// forward: pending -> {success, error, timeout}. Timeout is assigned when the
// owning conversation ends while the invocation is still pending.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
	ToolTimeout ToolStatus = "timeout"
)

// ToolUsage is one tool invocation, created when a tool_use block is observed
// and updated in place when the matching result arrives. MessageUuid is empty
// for orphaned results with no known invocation.
type ToolUsage struct {
	ID          string         `json:"id"`
	MessageUuid string         `json:"message_uuid,omitempty"`
	SessionId   string         `json:"session_id"`
	Name        string         `json:"name,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	Status      ToolStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration,omitempty"`
}

// Message is one assembled transcript message. Messages form a forest: a
// parent reference may be unresolved or point into another conversation, in
// which case it is kept as a plain reference without reparenting.
type Message struct {
	Uuid         string       `json:"uuid"`
	SessionId    string       `json:"session_id"`
	ParentUuid   string       `json:"parent_uuid,omitempty"`
	ParentLinked bool         `json:"parent_linked"`
	Kind         RecordKind   `json:"kind"`
	Position     int          `json:"position"`
	Timestamp    time.Time    `json:"timestamp"`
	Text         string       `json:"text,omitempty"`
	Sidechain    bool         `json:"sidechain,omitempty"`
	ToolUses     []*ToolUsage `json:"tool_uses,omitempty"`
}
