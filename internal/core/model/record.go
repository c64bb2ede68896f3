package model

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// RecordKind is the top-level type tag of a transcript record.
type RecordKind string

const (
	RecordUser      RecordKind = "user"
	RecordAssistant RecordKind = "assistant"
	RecordSystem    RecordKind = "system"
	RecordSummary   RecordKind = "summary"
	RecordUnknown   RecordKind = "unknown"
)

// TranscriptLine mirrors one raw line of a conversation log file. Unknown
// fields are tolerated and dropped during decoding.
type TranscriptLine struct {
	Cwd           string      `json:"cwd,omitempty"`
	IsSidechain   bool        `json:"isSidechain,omitempty"`
	LeafUuid      string      `json:"leafUuid,omitempty"`
	Message       MessageBody `json:"message,omitempty"`
	ParentUuid    *string     `json:"parentUuid"`
	SessionId     string      `json:"sessionId"`
	Summary       string      `json:"summary,omitempty"`
	Timestamp     string      `json:"timestamp"`
	ToolUseID     string      `json:"toolUseID,omitempty"`
	ToolUseResult any         `json:"toolUseResult,omitempty"`
	Type          string      `json:"type"`
	UserType      string      `json:"userType,omitempty"`
	Uuid          string      `json:"uuid"`
	Version       string      `json:"version,omitempty"`
}

// MessageBody is the nested message payload of a transcript line.
type MessageBody struct {
	Content FlexibleContent `json:"content"`
	Id      string          `json:"id,omitempty"`
	Model   string          `json:"model,omitempty"`
	Role    string          `json:"role,omitempty"`
	Type    string          `json:"type,omitempty"`
}

// FlexibleContent accepts both the string and the block-array form of the
// content field.
type FlexibleContent []ContentItem

func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	// First try to parse as []ContentItem array
	var items []ContentItem
	if err := sonic.Unmarshal(data, &items); err == nil {
		*fc = items
		return nil
	}

	// If array parsing fails, try to parse as string
	var str string
	if err := sonic.Unmarshal(data, &str); err == nil {
		*fc = []ContentItem{{Type: "text", Text: str}}
		return nil
	}

	return fmt.Errorf("content must be either string or array of ContentItem")
}

// ContentItem is one block inside a message's content array. Tool inputs are
// kept opaque since their shape is owned by the upstream producer.
type ContentItem struct {
	Content   any            `json:"content,omitempty"`
	Id        string         `json:"id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Name      string         `json:"name,omitempty"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolUseId string         `json:"tool_use_id,omitempty"`
	Type      string         `json:"type"`
}

// RawRecord is one successfully parsed transcript line, classified and
// stripped down to the fields the assembler folds on. It is immutable once
// produced.
type RawRecord struct {
	Kind        RecordKind
	Uuid        string
	SessionId   string
	ParentUuid  string // empty when the record has no parent
	Timestamp   time.Time
	TimeGuessed bool // timestamp was unparseable, local processing time substituted
	Cwd         string
	Sidechain   bool
	Text        string
	Summary     string // summary records only
	LeafUuid    string // summary records only
	ToolUses    []ToolUseDelta
	ToolResults []ToolResultDelta
	SourcePath  string
}

// ToolUseDelta is a tool invocation extracted from an assistant record.
type ToolUseDelta struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultDelta is a tool result extracted from a record, matched to its
// invocation by ToolUseID.
type ToolResultDelta struct {
	ToolUseID string
	Output    string
	IsError   bool
}
