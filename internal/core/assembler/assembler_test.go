package assembler

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-claude-stream/internal/core/hub"
	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/core/project"
)

var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	asm *Assembler
	hub *hub.Hub
	res *project.Resolver
	sub *hub.Subscription

	proj *model.Project
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := hub.New(256)
	t.Cleanup(h.Close)

	root := t.TempDir()
	res := project.NewResolver(root)
	proj, err := res.Resolve(filepath.Join(root, "-Users-alice-dev-app", "s1.jsonl"), t0)
	require.NoError(t, err)

	return &harness{
		asm:  New(cfg, h, res),
		hub:  h,
		res:  res,
		sub:  h.Subscribe(hub.Filter{}),
		proj: proj,
	}
}

// drain collects everything currently queued on the subscription.
func (ha *harness) drain() []model.Delta {
	var out []model.Delta
	for {
		select {
		case d := <-ha.sub.Events():
			out = append(out, d)
		default:
			return out
		}
	}
}

func userRecord(session, uuid, text string, ts time.Time) *model.RawRecord {
	return &model.RawRecord{
		Kind:      model.RecordUser,
		Uuid:      uuid,
		SessionId: session,
		Timestamp: ts,
		Text:      text,
	}
}

func assistantRecord(session, uuid, parent, text string, ts time.Time, uses ...model.ToolUseDelta) *model.RawRecord {
	return &model.RawRecord{
		Kind:       model.RecordAssistant,
		Uuid:       uuid,
		SessionId:  session,
		ParentUuid: parent,
		Timestamp:  ts,
		Text:       text,
		ToolUses:   uses,
	}
}

func resultRecord(session, uuid, toolUseId, output string, isError bool, ts time.Time) *model.RawRecord {
	return &model.RawRecord{
		Kind:      model.RecordSystem,
		Uuid:      uuid,
		SessionId: session,
		Timestamp: ts,
		ToolResults: []model.ToolResultDelta{
			{ToolUseID: toolUseId, Output: output, IsError: isError},
		},
	}
}

func TestFoldConversationLifecycle(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(userRecord("s1", "u1", "list the files", t0), ha.proj)
	ha.asm.fold(assistantRecord("s1", "a1", "u1", "running ls", t0.Add(time.Second),
		model.ToolUseDelta{ID: "T1", Name: "Bash", Input: map[string]any{"command": "ls"}}), ha.proj)
	ha.asm.fold(resultRecord("s1", "r1", "T1", "file.txt", false, t0.Add(2*time.Second)), ha.proj)

	deltas := ha.drain()
	require.Len(t, deltas, 4)
	assert.Equal(t, model.DeltaConversationStarted, deltas[0].Type)
	assert.Equal(t, model.DeltaMessageAdded, deltas[1].Type)
	assert.Equal(t, "u1", deltas[1].Message.Uuid)
	assert.Equal(t, model.DeltaMessageAdded, deltas[2].Type)
	assert.Equal(t, "a1", deltas[2].Message.Uuid)
	assert.Equal(t, model.DeltaToolUsageUpdated, deltas[3].Type)
	assert.Equal(t, "T1", deltas[3].ToolUsage.ID)

	conv := ha.asm.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, model.ConversationActive, conv.Status)
	assert.Equal(t, 2, conv.MessageCount, "tool result record produces no message")
	assert.Equal(t, 1, conv.ToolCount)
	assert.Equal(t, t0, conv.StartedAt)
	assert.Equal(t, t0.Add(2*time.Second), conv.LastActivity)

	tu := ha.asm.ToolUsage("T1")
	require.NotNil(t, tu)
	assert.Equal(t, model.ToolSuccess, tu.Status)
	assert.Equal(t, "file.txt", tu.Output)
	assert.Equal(t, "a1", tu.MessageUuid)
	assert.Equal(t, time.Second, tu.Duration)

	snap := ha.res.Snapshot(ha.proj)
	assert.Equal(t, 1, snap.Conversations)
	assert.Equal(t, 2, snap.Messages)
}

func TestFoldMessagePositions(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(userRecord("s1", "u1", "one", t0), ha.proj)
	ha.asm.fold(assistantRecord("s1", "a1", "u1", "two", t0.Add(time.Second)), ha.proj)
	ha.asm.fold(userRecord("s1", "u2", "three", t0.Add(2*time.Second)), ha.proj)

	assert.Equal(t, 0, ha.asm.Message("u1").Position)
	assert.Equal(t, 1, ha.asm.Message("a1").Position)
	assert.Equal(t, 2, ha.asm.Message("u2").Position)
}

func TestFoldDeduplicatesReplayedRecords(t *testing.T) {
	ha := newHarness(t, Config{})

	rec := userRecord("s1", "u1", "hello", t0)
	ha.asm.fold(rec, ha.proj)
	ha.asm.fold(rec, ha.proj)
	ha.asm.fold(userRecord("s1", "u1", "hello", t0), ha.proj)

	conv := ha.asm.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, 1, conv.MessageCount)

	deltas := ha.drain()
	assert.Len(t, deltas, 2, "replays emit no additional deltas")
}

func TestFoldOrphanToolResult(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(resultRecord("s1", "r1", "T9", "late output", true, t0), ha.proj)

	tu := ha.asm.ToolUsage("T9")
	require.NotNil(t, tu)
	assert.Equal(t, model.ToolError, tu.Status)
	assert.Equal(t, "late output", tu.Output)
	assert.Empty(t, tu.MessageUuid, "orphan stays unlinked")

	conv := ha.asm.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, 0, conv.MessageCount)
	assert.Equal(t, 1, conv.ToolCount)
}

func TestFoldToolStatusNeverRegresses(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(assistantRecord("s1", "a1", "", "", t0,
		model.ToolUseDelta{ID: "T1", Name: "Bash"}), ha.proj)
	ha.asm.fold(resultRecord("s1", "r1", "T1", "first", false, t0.Add(time.Second)), ha.proj)
	ha.asm.fold(resultRecord("s1", "r2", "T1", "second", true, t0.Add(2*time.Second)), ha.proj)

	tu := ha.asm.ToolUsage("T1")
	require.NotNil(t, tu)
	assert.Equal(t, model.ToolSuccess, tu.Status, "a settled tool usage ignores later results")
	assert.Equal(t, "first", tu.Output)
}

func TestFoldUnresolvedParentStaysRoot(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(assistantRecord("s1", "a1", "missing-parent", "orphaned", t0), ha.proj)

	msg := ha.asm.Message("a1")
	require.NotNil(t, msg)
	assert.Equal(t, "missing-parent", msg.ParentUuid, "reference is preserved")
	assert.False(t, msg.ParentLinked)
}

func TestFoldCrossSessionParentLinks(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(userRecord("s1", "u1", "main thread", t0), ha.proj)
	side := assistantRecord("s2", "sc1", "u1", "sidechain reply", t0.Add(time.Second))
	side.Sidechain = true
	ha.asm.fold(side, ha.proj)

	msg := ha.asm.Message("sc1")
	require.NotNil(t, msg)
	assert.True(t, msg.ParentLinked, "parents may live in another conversation")
	assert.True(t, msg.Sidechain)
	assert.Equal(t, "s2", msg.SessionId, "message stays in its own session")
}

func TestFoldSummary(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(userRecord("s1", "u1", "hello", t0), ha.proj)
	ha.asm.fold(&model.RawRecord{
		Kind:     model.RecordSummary,
		Summary:  "Greeted the assistant",
		LeafUuid: "u1",
	}, ha.proj)

	conv := ha.asm.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, "Greeted the assistant", conv.Summary)
}

func TestFoldSummaryUnknownLeafIsSkipped(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(&model.RawRecord{
		Kind:     model.RecordSummary,
		Summary:  "Early summary",
		LeafUuid: "nobody",
	}, ha.proj)

	assert.Empty(t, ha.drain())
}

func TestSweepEndsIdleConversations(t *testing.T) {
	ha := newHarness(t, Config{LivenessWindow: time.Minute})

	ha.asm.fold(userRecord("s1", "u1", "hello", t0), ha.proj)
	ha.drain()

	// Still inside the window: nothing ends.
	ha.asm.sweep(t0.Add(30 * time.Second))
	assert.Empty(t, ha.drain())
	assert.Equal(t, model.ConversationActive, ha.asm.Conversation("s1").Status)

	// Past the window: the conversation ends exactly once.
	ha.asm.sweep(t0.Add(2 * time.Minute))
	deltas := ha.drain()
	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaConversationEnded, deltas[0].Type)
	assert.Equal(t, t0, deltas[0].Conversation.EndedAt, "ends at last activity, not sweep time")

	ha.asm.sweep(t0.Add(3 * time.Minute))
	assert.Empty(t, ha.drain(), "ending is terminal and emitted once")

	conv := ha.asm.Conversation("s1")
	assert.Equal(t, model.ConversationEnded, conv.Status)
}

func TestSweepTimesOutPendingTools(t *testing.T) {
	ha := newHarness(t, Config{LivenessWindow: time.Minute})

	ha.asm.fold(assistantRecord("s1", "a1", "", "working on it", t0,
		model.ToolUseDelta{ID: "T1", Name: "Bash"}), ha.proj)
	ha.drain()

	ha.asm.sweep(t0.Add(2 * time.Minute))

	deltas := ha.drain()
	require.Len(t, deltas, 2)
	assert.Equal(t, model.DeltaToolUsageUpdated, deltas[0].Type)
	assert.Equal(t, model.ToolTimeout, deltas[0].ToolUsage.Status)
	assert.Equal(t, model.DeltaConversationEnded, deltas[1].Type)

	tu := ha.asm.ToolUsage("T1")
	require.NotNil(t, tu)
	assert.Equal(t, model.ToolTimeout, tu.Status)
	assert.Equal(t, t0, tu.CompletedAt, "times out at the conversation's end")

	// A result straggling in after the timeout never overwrites it.
	ha.asm.fold(resultRecord("s1", "r1", "T1", "too late", false, t0.Add(3*time.Minute)), ha.proj)
	assert.Equal(t, model.ToolTimeout, ha.asm.ToolUsage("T1").Status)
}

func TestSweepLeavesSettledToolsAlone(t *testing.T) {
	ha := newHarness(t, Config{LivenessWindow: time.Minute})

	ha.asm.fold(assistantRecord("s1", "a1", "", "", t0,
		model.ToolUseDelta{ID: "T1", Name: "Bash"}), ha.proj)
	ha.asm.fold(resultRecord("s1", "r1", "T1", "done", false, t0.Add(time.Second)), ha.proj)
	ha.drain()

	ha.asm.sweep(t0.Add(2 * time.Minute))

	deltas := ha.drain()
	require.Len(t, deltas, 1, "only the conversation-ended delta")
	assert.Equal(t, model.DeltaConversationEnded, deltas[0].Type)
	assert.Equal(t, model.ToolSuccess, ha.asm.ToolUsage("T1").Status)
}

func TestFoldAfterEndedNeverResurrects(t *testing.T) {
	ha := newHarness(t, Config{LivenessWindow: time.Minute})

	ha.asm.fold(userRecord("s1", "u1", "hello", t0), ha.proj)
	ha.asm.sweep(t0.Add(2 * time.Minute))
	ha.drain()

	// A straggler record still folds into the ended conversation.
	ha.asm.fold(userRecord("s1", "u2", "late arrival", t0.Add(90*time.Second)), ha.proj)

	conv := ha.asm.Conversation("s1")
	assert.Equal(t, model.ConversationEnded, conv.Status)
	assert.Equal(t, 2, conv.MessageCount)

	deltas := ha.drain()
	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaMessageAdded, deltas[0].Type)
}

func TestAccessorsReturnCopies(t *testing.T) {
	ha := newHarness(t, Config{})

	ha.asm.fold(userRecord("s1", "u1", "hello", t0), ha.proj)

	conv := ha.asm.Conversation("s1")
	conv.MessageCount = 99
	assert.Equal(t, 1, ha.asm.Conversation("s1").MessageCount)

	assert.Nil(t, ha.asm.Conversation("unknown"))
	assert.Nil(t, ha.asm.Message("unknown"))
	assert.Nil(t, ha.asm.ToolUsage("unknown"))
}

func TestApplyConcurrentSessions(t *testing.T) {
	ha := newHarness(t, Config{Shards: 4, LivenessWindow: time.Hour})

	ha.asm.Start()

	const sessions = 10
	const perSession = 20
	for i := 0; i < perSession; i++ {
		for s := 0; s < sessions; s++ {
			session := fmt.Sprintf("s%d", s)
			uuid := fmt.Sprintf("%s-m%d", session, i)
			ha.asm.Apply(userRecord(session, uuid, "msg", t0.Add(time.Duration(i)*time.Second)), ha.proj)
		}
	}

	ha.asm.Close()

	for s := 0; s < sessions; s++ {
		conv := ha.asm.Conversation(fmt.Sprintf("s%d", s))
		require.NotNil(t, conv)
		assert.Equal(t, perSession, conv.MessageCount)
	}

	// Per-session delivery order is preserved end to end.
	positions := make(map[string]int)
	for _, d := range ha.drain() {
		if d.Type != model.DeltaMessageAdded {
			continue
		}
		last, seen := positions[d.ConversationId]
		if seen {
			assert.Greater(t, d.Message.Position, last,
				"messages of one conversation arrive in fold order")
		}
		positions[d.ConversationId] = d.Message.Position
	}
}
