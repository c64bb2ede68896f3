package model

import "time"

// ChangeKind classifies a file system change notification.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeRemove ChangeKind = "remove"
	ChangeRename ChangeKind = "rename"
)

// FileEvent is one coalesced change notification emitted by the observer.
type FileEvent struct {
	Path string
	Kind ChangeKind
}

// DeltaType identifies what an incremental change event describes.
type DeltaType string

const (
	DeltaConversationStarted DeltaType = "conversation_started"
	DeltaMessageAdded        DeltaType = "message_added"
	DeltaToolUsageUpdated    DeltaType = "tool_usage_updated"
	DeltaConversationEnded   DeltaType = "conversation_ended"
)

// Delta is one incremental change event published to the broadcast hub. Only
// the payload field matching Type is populated; all payloads are snapshots
// and must not be mutated by subscribers.
type Delta struct {
	Type           DeltaType     `json:"type"`
	ConversationId string        `json:"conversation_id"`
	ProjectPath    string        `json:"project_path"`
	Project        *Project      `json:"project,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	MessageUuid    string        `json:"message_id,omitempty"`
	ToolUsage      *ToolUsage    `json:"tool_usage,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}
