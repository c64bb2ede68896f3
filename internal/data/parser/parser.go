package parser

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/util"
)

// Parser decodes raw transcript lines into typed records. It is a pure
// transformation: malformed lines are counted and skipped, never fatal.
type Parser struct {
	parsed    atomic.Int64
	malformed atomic.Int64
}

// New creates a new Parser instance.
func New() *Parser {
	return &Parser{}
}

// Stats returns the running counts of parsed and malformed lines.
func (p *Parser) Stats() (parsed, malformed int64) {
	return p.parsed.Load(), p.malformed.Load()
}

// ParseLine decodes one line into a RawRecord. It returns nil when the line
// is structurally invalid or carries no usable identity; such lines are
// counted, logged at debug level, and skipped. An unparseable timestamp falls
// back to the supplied processing time and is flagged so downstream ordering
// can still make a best-effort placement.
func (p *Parser) ParseLine(line []byte, processedAt time.Time) *model.RawRecord {
	var raw model.TranscriptLine
	if err := sonic.Unmarshal(line, &raw); err != nil {
		p.malformed.Add(1)
		util.LogDebugf("Skip invalid JSON line: %v", err)
		return nil
	}

	kind := classify(raw.Type)

	rec := &model.RawRecord{
		Kind:      kind,
		Uuid:      raw.Uuid,
		SessionId: raw.SessionId,
		Cwd:       raw.Cwd,
		Sidechain: raw.IsSidechain,
		Summary:   raw.Summary,
		LeafUuid:  raw.LeafUuid,
	}
	if raw.ParentUuid != nil {
		rec.ParentUuid = *raw.ParentUuid
	}

	if kind == model.RecordSummary {
		// Summary lines carry no session or uuid; they are routed by leafUuid.
		if raw.LeafUuid == "" {
			p.malformed.Add(1)
			util.LogDebug("Skip summary line without leafUuid")
			return nil
		}
	} else if raw.Uuid == "" || raw.SessionId == "" {
		p.malformed.Add(1)
		util.LogDebug("Skip line without record or session identity")
		return nil
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		rec.Timestamp = processedAt
		rec.TimeGuessed = true
	} else {
		rec.Timestamp = ts
	}

	rec.Text = extractText(raw.Message.Content)
	rec.ToolUses, rec.ToolResults = extractToolDeltas(raw)

	p.parsed.Add(1)
	return rec
}

// classify maps the raw type tag to a record kind, preserving unrecognized
// tags as unknown rather than rejecting them.
func classify(typ string) model.RecordKind {
	switch typ {
	case "user":
		return model.RecordUser
	case "assistant":
		return model.RecordAssistant
	case "system":
		return model.RecordSystem
	case "summary":
		return model.RecordSummary
	default:
		return model.RecordUnknown
	}
}

// parseTimestamp parses the record timestamp defensively.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", value)
}

// extractText concatenates the text blocks of a message.
func extractText(content model.FlexibleContent) string {
	var parts []string
	for _, item := range content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// extractToolDeltas scans the content payload for tool invocation and tool
// result sub-blocks, plus the line-level toolUseResult shortcut some
// producers emit.
func extractToolDeltas(raw model.TranscriptLine) ([]model.ToolUseDelta, []model.ToolResultDelta) {
	var uses []model.ToolUseDelta
	var results []model.ToolResultDelta

	for _, item := range raw.Message.Content {
		switch item.Type {
		case "tool_use":
			if item.Id == "" {
				continue
			}
			uses = append(uses, model.ToolUseDelta{
				ID:    item.Id,
				Name:  item.Name,
				Input: item.Input,
			})
		case "tool_result":
			if item.ToolUseId == "" {
				continue
			}
			results = append(results, model.ToolResultDelta{
				ToolUseID: item.ToolUseId,
				Output:    stringifyContent(item.Content),
				IsError:   item.IsError,
			})
		}
	}

	if raw.ToolUseID != "" && raw.ToolUseResult != nil {
		results = append(results, model.ToolResultDelta{
			ToolUseID: raw.ToolUseID,
			Output:    stringifyContent(raw.ToolUseResult),
		})
	}

	return uses, results
}

// stringifyContent renders an opaque result payload as display text.
func stringifyContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := sonic.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
