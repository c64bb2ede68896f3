// Package fixtures generates transcript JSONL content for tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Line is a loosely-typed transcript line builder. Fields left zero are
// omitted, mirroring the sparse shape of real transcript files.
type Line struct {
	Type        string         `json:"type"`
	Uuid        string         `json:"uuid,omitempty"`
	SessionId   string         `json:"sessionId,omitempty"`
	ParentUuid  *string        `json:"parentUuid,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Cwd         string         `json:"cwd,omitempty"`
	IsSidechain bool           `json:"isSidechain,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	LeafUuid    string         `json:"leafUuid,omitempty"`
	UserType    string         `json:"userType,omitempty"`
	Version     string         `json:"version,omitempty"`
	Message     map[string]any `json:"message,omitempty"`
}

// UserLine builds a plain user message line.
func UserLine(sessionId, uuid, text string, ts time.Time) Line {
	return Line{
		Type:      "user",
		Uuid:      uuid,
		SessionId: sessionId,
		Timestamp: ts.Format(time.RFC3339),
		UserType:  "human",
		Version:   "1.0",
		Message: map[string]any{
			"role":    "user",
			"content": text,
		},
	}
}

// AssistantLine builds an assistant message line with optional tool_use
// blocks.
func AssistantLine(sessionId, uuid, parentUuid, text string, ts time.Time, toolUses ...map[string]any) Line {
	content := []map[string]any{}
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	content = append(content, toolUses...)

	line := Line{
		Type:      "assistant",
		Uuid:      uuid,
		SessionId: sessionId,
		Timestamp: ts.Format(time.RFC3339),
		Version:   "1.0",
		Message: map[string]any{
			"role":    "assistant",
			"content": content,
		},
	}
	if parentUuid != "" {
		line.ParentUuid = &parentUuid
	}
	return line
}

// ToolUseBlock builds a tool_use content block for AssistantLine.
func ToolUseBlock(id, name string, input map[string]any) map[string]any {
	return map[string]any{
		"type":  "tool_use",
		"id":    id,
		"name":  name,
		"input": input,
	}
}

// ToolResultLine builds a system line carrying a tool result.
func ToolResultLine(sessionId, uuid, toolUseId, output string, isError bool, ts time.Time) Line {
	return Line{
		Type:      "system",
		Uuid:      uuid,
		SessionId: sessionId,
		Timestamp: ts.Format(time.RFC3339),
		Version:   "1.0",
		Message: map[string]any{
			"role": "user",
			"content": []map[string]any{
				{
					"type":        "tool_result",
					"tool_use_id": toolUseId,
					"content":     output,
					"is_error":    isError,
				},
			},
		},
	}
}

// SummaryLine builds a summary line pointing at a leaf message.
func SummaryLine(leafUuid, summary string) Line {
	return Line{
		Type:     "summary",
		Summary:  summary,
		LeafUuid: leafUuid,
	}
}

// Render serializes lines as JSONL content with a trailing newline.
func Render(lines ...Line) string {
	var b strings.Builder
	for _, line := range lines {
		data, err := sonic.Marshal(line)
		if err != nil {
			panic(fmt.Sprintf("fixture marshal failed: %v", err))
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteTranscript writes lines into an encoded project directory beneath
// baseDir, matching the on-disk layout the pipeline watches.
func WriteTranscript(baseDir, encodedProject, sessionId string, lines ...Line) (string, error) {
	dir := filepath.Join(baseDir, encodedProject)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, sessionId+".jsonl")
	if err := os.WriteFile(path, []byte(Render(lines...)), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// AppendTranscript appends lines to an existing transcript file.
func AppendTranscript(path string, lines ...Line) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(Render(lines...))
	return err
}
