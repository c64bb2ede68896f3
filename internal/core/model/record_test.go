package model

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleContentStringForm(t *testing.T) {
	var body MessageBody
	err := sonic.Unmarshal([]byte(`{"role":"user","content":"plain text"}`), &body)
	require.NoError(t, err)

	require.Len(t, body.Content, 1)
	assert.Equal(t, "text", body.Content[0].Type)
	assert.Equal(t, "plain text", body.Content[0].Text)
}

func TestFlexibleContentArrayForm(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"text","text":"hello"},
		{"type":"tool_use","id":"T1","name":"Read","input":{"file":"a.go"}},
		{"type":"tool_result","tool_use_id":"T1","content":"package a","is_error":false}
	]}`

	var body MessageBody
	err := sonic.Unmarshal([]byte(raw), &body)
	require.NoError(t, err)

	require.Len(t, body.Content, 3)
	assert.Equal(t, "hello", body.Content[0].Text)
	assert.Equal(t, "T1", body.Content[1].Id)
	assert.Equal(t, "Read", body.Content[1].Name)
	assert.Equal(t, "a.go", body.Content[1].Input["file"])
	assert.Equal(t, "T1", body.Content[2].ToolUseId)
}

func TestFlexibleContentInvalidForm(t *testing.T) {
	var fc FlexibleContent
	err := fc.UnmarshalJSON([]byte(`42`))
	assert.Error(t, err)
}

func TestTranscriptLineDecode(t *testing.T) {
	raw := `{"type":"assistant","uuid":"a1","sessionId":"s1","parentUuid":"u1","timestamp":"2025-07-01T10:00:00Z","cwd":"/home/x","isSidechain":true,"version":"1.0","message":{"role":"assistant","content":"ok"}}`

	var line TranscriptLine
	require.NoError(t, sonic.Unmarshal([]byte(raw), &line))

	assert.Equal(t, "assistant", line.Type)
	assert.Equal(t, "a1", line.Uuid)
	assert.Equal(t, "s1", line.SessionId)
	require.NotNil(t, line.ParentUuid)
	assert.Equal(t, "u1", *line.ParentUuid)
	assert.True(t, line.IsSidechain)
	assert.Equal(t, "/home/x", line.Cwd)
}

func TestTranscriptLineNullParent(t *testing.T) {
	raw := `{"type":"user","uuid":"u1","sessionId":"s1","parentUuid":null,"timestamp":"2025-07-01T10:00:00Z"}`

	var line TranscriptLine
	require.NoError(t, sonic.Unmarshal([]byte(raw), &line))
	assert.Nil(t, line.ParentUuid)
}
