package assembler

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/penwyp/go-claude-stream/internal/core/hub"
	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/core/project"
	"github.com/penwyp/go-claude-stream/internal/util"
)

const (
	defaultShards      = 8
	defaultShardBuffer = 128
)

// Config controls assembly behavior.
type Config struct {
	// LivenessWindow is how long a conversation may stay idle before it is
	// transitioned to ended.
	LivenessWindow time.Duration
	// SweepInterval is how often idle conversations are scanned. Defaults to
	// a quarter of the liveness window, capped at one second.
	SweepInterval time.Duration
	// Shards is the number of fold workers. Records for one session always
	// land on the same shard, so per-conversation mutation is single-writer.
	Shards int
}

type work struct {
	rec  *model.RawRecord
	proj *model.Project
}

// convState is the mutable assembly state of one conversation.
type convState struct {
	conv     *model.Conversation
	proj     *model.Project
	seen     map[string]struct{} // record uuids already folded
	messages map[string]*model.Message
	nextPos  int
}

// Assembler folds parsed records into conversation, message, and tool-usage
// state and emits a delta to the hub for exactly what changed. Records are
// dispatched to shards by session id; a background sweeper ends idle
// conversations.
type Assembler struct {
	cfg Config
	hub *hub.Hub
	res *project.Resolver

	mu            sync.Mutex
	conversations map[string]*convState
	messageIndex  map[string]*model.Message // global, for cross-session parent lookup
	tools         map[string]*model.ToolUsage

	shards []chan work
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates an Assembler publishing to h and counting project activity
// through res. Call Start before feeding records.
func New(cfg Config, h *hub.Hub, res *project.Resolver) *Assembler {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.LivenessWindow / 4
		if cfg.SweepInterval > time.Second {
			cfg.SweepInterval = time.Second
		}
	}

	a := &Assembler{
		cfg:           cfg,
		hub:           h,
		res:           res,
		conversations: make(map[string]*convState),
		messageIndex:  make(map[string]*model.Message),
		tools:         make(map[string]*model.ToolUsage),
		shards:        make([]chan work, cfg.Shards),
		done:          make(chan struct{}),
	}
	for i := range a.shards {
		a.shards[i] = make(chan work, defaultShardBuffer)
	}

	return a
}

// Start launches the shard workers and the liveness sweeper.
func (a *Assembler) Start() {
	for _, ch := range a.shards {
		a.wg.Add(1)
		go a.runShard(ch)
	}

	a.wg.Add(1)
	go a.runSweeper()
}

// Close drains in-flight records and stops the workers. No deltas are emitted
// after Close returns.
func (a *Assembler) Close() {
	a.closeOnce.Do(func() {
		for _, ch := range a.shards {
			close(ch)
		}
		close(a.done)
		a.wg.Wait()
	})
}

// Apply routes one record to its session's shard. It blocks when the shard is
// saturated, which backpressures the reading pipeline rather than dropping
// records.
func (a *Assembler) Apply(rec *model.RawRecord, proj *model.Project) {
	key := rec.SessionId
	if key == "" {
		key = rec.LeafUuid
	}
	a.shards[shardFor(key, len(a.shards))] <- work{rec: rec, proj: proj}
}

// FileTruncated notes that a source file was truncated or replaced. Assembled
// state is kept: the rewritten content is re-read from offset zero and the
// record-id dedup absorbs anything already folded.
func (a *Assembler) FileTruncated(path string) {
	util.LogWarnf("Source file truncated or replaced, re-reading from start: %s", path)
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

func (a *Assembler) runShard(ch <-chan work) {
	defer a.wg.Done()

	for w := range ch {
		a.fold(w.rec, w.proj)
	}
}

// fold applies one record. The per-shard routing guarantees records of a
// session arrive here sequentially; the mutex protects the shared maps from
// the sweeper and other shards.
func (a *Assembler) fold(rec *model.RawRecord, proj *model.Project) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec.Kind == model.RecordSummary {
		a.foldSummary(rec)
		return
	}

	st, created := a.conversation(rec, proj)

	// Idempotence on crash-recovery re-reads: a record id is folded once.
	if _, dup := st.seen[rec.Uuid]; dup {
		return
	}
	st.seen[rec.Uuid] = struct{}{}

	if created {
		a.res.Touch(proj, rec.Timestamp, 1, 0)
		a.publish(model.Delta{
			Type:           model.DeltaConversationStarted,
			ConversationId: st.conv.SessionId,
			ProjectPath:    st.conv.ProjectPath,
			Project:        a.res.Snapshot(proj),
			Timestamp:      rec.Timestamp,
		})
	}

	for _, res := range rec.ToolResults {
		a.foldToolResult(st, rec, res)
	}

	// A system record that only carries tool results updates usage in place
	// and produces no message of its own.
	if rec.Kind == model.RecordSystem && len(rec.ToolResults) > 0 && rec.Text == "" {
		a.touchActivity(st, rec.Timestamp)
		return
	}

	a.foldMessage(st, rec, proj)
}

// conversation resolves or creates the state for the record's session.
func (a *Assembler) conversation(rec *model.RawRecord, proj *model.Project) (*convState, bool) {
	st, ok := a.conversations[rec.SessionId]
	if ok {
		return st, false
	}

	st = &convState{
		conv: &model.Conversation{
			SessionId:    rec.SessionId,
			ProjectPath:  proj.Path,
			Status:       model.ConversationActive,
			StartedAt:    rec.Timestamp,
			LastActivity: rec.Timestamp,
		},
		proj:     proj,
		seen:     make(map[string]struct{}),
		messages: make(map[string]*model.Message),
	}
	a.conversations[rec.SessionId] = st
	return st, true
}

// foldSummary attaches summary text to the conversation owning the leaf
// message. An unknown leaf is skipped quietly; summaries can arrive before
// their conversation on out-of-order reads.
func (a *Assembler) foldSummary(rec *model.RawRecord) {
	leaf, ok := a.messageIndex[rec.LeafUuid]
	if !ok {
		util.LogDebugf("Summary for unknown leaf message %s, skipping", rec.LeafUuid)
		return
	}
	if st, ok := a.conversations[leaf.SessionId]; ok {
		st.conv.Summary = rec.Summary
	}
}

// foldToolResult matches a result to its pending invocation and updates it in
// place. An orphaned result becomes a standalone unlinked ToolUsage rather
// than being discarded.
func (a *Assembler) foldToolResult(st *convState, rec *model.RawRecord, res model.ToolResultDelta) {
	tu, ok := a.tools[res.ToolUseID]
	if !ok {
		tu = &model.ToolUsage{
			ID:        res.ToolUseID,
			SessionId: rec.SessionId,
			Status:    model.ToolPending,
			StartedAt: rec.Timestamp,
		}
		a.tools[res.ToolUseID] = tu
		st.conv.ToolCount++
		util.LogDebugf("Tool result %s has no matching invocation, keeping standalone", res.ToolUseID)
	}

	// Status only moves forward; a re-delivered result never regresses it.
	if tu.Status != model.ToolPending {
		return
	}

	tu.Output = res.Output
	tu.CompletedAt = rec.Timestamp
	if !tu.StartedAt.IsZero() && rec.Timestamp.After(tu.StartedAt) {
		tu.Duration = rec.Timestamp.Sub(tu.StartedAt)
	}
	if res.IsError {
		tu.Status = model.ToolError
	} else {
		tu.Status = model.ToolSuccess
	}

	snapshot := *tu
	a.publish(model.Delta{
		Type:           model.DeltaToolUsageUpdated,
		ConversationId: st.conv.SessionId,
		ProjectPath:    st.conv.ProjectPath,
		MessageUuid:    tu.MessageUuid,
		ToolUsage:      &snapshot,
		Timestamp:      rec.Timestamp,
	})
}

// foldMessage creates the message for a record, registers its tool
// invocations, and updates aggregates.
func (a *Assembler) foldMessage(st *convState, rec *model.RawRecord, proj *model.Project) {
	msg := &model.Message{
		Uuid:       rec.Uuid,
		SessionId:  rec.SessionId,
		ParentUuid: rec.ParentUuid,
		Kind:       rec.Kind,
		Position:   st.nextPos,
		Timestamp:  rec.Timestamp,
		Text:       rec.Text,
		Sidechain:  rec.Sidechain,
	}
	st.nextPos++

	// Parent linking: a resolvable parent may live in another conversation
	// (sidechains); the reference is recorded either way, never reparented.
	// An unresolved parent leaves the message as an unlinked root.
	if rec.ParentUuid != "" {
		if _, ok := a.messageIndex[rec.ParentUuid]; ok {
			msg.ParentLinked = true
		}
	}

	for _, use := range rec.ToolUses {
		tu, ok := a.tools[use.ID]
		if !ok {
			tu = &model.ToolUsage{
				ID:        use.ID,
				SessionId: rec.SessionId,
				Status:    model.ToolPending,
			}
			a.tools[use.ID] = tu
			st.conv.ToolCount++
		}
		tu.MessageUuid = msg.Uuid
		tu.Name = use.Name
		tu.Input = use.Input
		tu.StartedAt = rec.Timestamp
		msg.ToolUses = append(msg.ToolUses, tu)
	}

	st.messages[msg.Uuid] = msg
	a.messageIndex[msg.Uuid] = msg
	st.conv.MessageCount++
	a.touchActivity(st, rec.Timestamp)
	a.res.Touch(proj, rec.Timestamp, 0, 1)

	snapshot := a.snapshotMessage(msg)
	a.publish(model.Delta{
		Type:           model.DeltaMessageAdded,
		ConversationId: st.conv.SessionId,
		ProjectPath:    st.conv.ProjectPath,
		Message:        snapshot,
		Timestamp:      rec.Timestamp,
	})
}

func (a *Assembler) touchActivity(st *convState, at time.Time) {
	if at.After(st.conv.LastActivity) {
		st.conv.LastActivity = at
	}
	if at.Before(st.conv.StartedAt) {
		st.conv.StartedAt = at
	}
}

// snapshotMessage copies a message and its tool usages for publication.
func (a *Assembler) snapshotMessage(msg *model.Message) *model.Message {
	out := *msg
	if len(msg.ToolUses) > 0 {
		out.ToolUses = make([]*model.ToolUsage, len(msg.ToolUses))
		for i, tu := range msg.ToolUses {
			c := *tu
			out.ToolUses[i] = &c
		}
	}
	return &out
}

func (a *Assembler) publish(d model.Delta) {
	a.hub.Publish(d)
}

// runSweeper periodically ends conversations idle past the liveness window.
func (a *Assembler) runSweeper() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.sweep(time.Now())
		}
	}
}

// sweep transitions idle conversations to ended, emitting one final delta
// with the conversation's aggregates. The transition is terminal and happens
// exactly once per conversation.
func (a *Assembler) sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, st := range a.conversations {
		if st.conv.Status != model.ConversationActive {
			continue
		}
		if now.Sub(st.conv.LastActivity) <= a.cfg.LivenessWindow {
			continue
		}

		st.conv.Status = model.ConversationEnded
		st.conv.EndedAt = st.conv.LastActivity

		// Invocations still awaiting a result will never get one now; they
		// time out with the conversation. The forward-only status guard keeps
		// a straggling result from overwriting this.
		for _, tu := range a.tools {
			if tu.SessionId != st.conv.SessionId || tu.Status != model.ToolPending {
				continue
			}
			tu.Status = model.ToolTimeout
			tu.CompletedAt = st.conv.EndedAt

			toolSnapshot := *tu
			a.publish(model.Delta{
				Type:           model.DeltaToolUsageUpdated,
				ConversationId: st.conv.SessionId,
				ProjectPath:    st.conv.ProjectPath,
				MessageUuid:    tu.MessageUuid,
				ToolUsage:      &toolSnapshot,
				Timestamp:      now,
			})
		}

		snapshot := *st.conv
		a.publish(model.Delta{
			Type:           model.DeltaConversationEnded,
			ConversationId: st.conv.SessionId,
			ProjectPath:    st.conv.ProjectPath,
			Conversation:   &snapshot,
			Timestamp:      now,
		})
	}
}

// Conversation returns a copy of the assembled state for a session, or nil if
// unknown.
func (a *Assembler) Conversation(sessionId string) *model.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.conversations[sessionId]
	if !ok {
		return nil
	}
	out := *st.conv
	return &out
}

// Message returns a copy of an assembled message by record uuid, or nil.
func (a *Assembler) Message(uuid string) *model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, ok := a.messageIndex[uuid]
	if !ok {
		return nil
	}
	return a.snapshotMessage(msg)
}

// ToolUsage returns a copy of a tool usage by invocation id, or nil.
func (a *Assembler) ToolUsage(id string) *model.ToolUsage {
	a.mu.Lock()
	defer a.mu.Unlock()

	tu, ok := a.tools[id]
	if !ok {
		return nil
	}
	out := *tu
	return &out
}
