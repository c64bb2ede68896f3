package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/util"
)

// Filter selects which deltas a subscription receives. An empty field matches
// everything; populated fields are OR within themselves, AND across fields.
type Filter struct {
	Types    []model.DeltaType
	Projects []string
	Sessions []string
}

// Match reports whether the delta passes the filter.
func (f Filter) Match(d model.Delta) bool {
	if len(f.Types) > 0 && !containsType(f.Types, d.Type) {
		return false
	}
	if len(f.Projects) > 0 && !containsString(f.Projects, d.ProjectPath) {
		return false
	}
	if len(f.Sessions) > 0 && !containsString(f.Sessions, d.ConversationId) {
		return false
	}
	return true
}

func containsType(list []model.DeltaType, t model.DeltaType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Subscription is one consumer's handle on the hub: a filter plus a bounded
// delivery queue. It is never shared between consumers.
type Subscription struct {
	ID     string
	filter Filter

	// mu serializes queue manipulation so the drop-oldest shuffle cannot
	// reorder deliveries racing from different conversations.
	mu     sync.Mutex
	ch     chan model.Delta
	missed atomic.Bool
	closed bool
}

// Events returns the subscription's delivery channel. It is closed on
// unsubscribe or hub shutdown.
func (s *Subscription) Events() <-chan model.Delta {
	return s.ch
}

// Missed reports whether deliveries were dropped because the queue was full.
// A subscriber seeing this should trigger a full resync.
func (s *Subscription) Missed() bool {
	return s.missed.Load()
}

// ClearMissed resets the missed marker after a resync.
func (s *Subscription) ClearMissed() {
	s.missed.Store(false)
}

// deliver enqueues the delta without ever blocking the publisher. When the
// queue is full the oldest queued delta is dropped and the subscription is
// marked as having missed events.
func (s *Subscription) deliver(d model.Delta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- d:
		return false
	default:
	}

	// Queue full: drop the oldest entry, then retry once. The consumer may
	// drain the queue between the failed send and the drop, in which case
	// nothing is lost and the subscription is not marked.
	lost := false
	select {
	case <-s.ch:
		lost = true
	default:
	}
	select {
	case s.ch <- d:
	default:
		lost = true
	}

	if lost {
		s.missed.Store(true)
	}
	return lost
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans published deltas out to all matching subscriptions. Publish never
// blocks: a slow subscriber loses its own oldest events and nothing else.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	depth int

	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a Hub whose subscriptions buffer up to depth deltas each.
func New(depth int) *Hub {
	if depth <= 0 {
		depth = 64
	}
	return &Hub{
		subs:  make(map[string]*Subscription),
		depth: depth,
	}
}

// Subscribe registers a new subscription matching the filter.
func (h *Hub) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		filter: f,
		ch:     make(chan model.Delta, h.depth),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		sub.close()
	}
	h.mu.Unlock()
}

// Publish delivers the delta to every matching subscription. Deltas about a
// single conversation keep their publish order per subscriber; interleaving
// across conversations is unordered.
func (h *Hub) Publish(d model.Delta) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.Match(d) {
			continue
		}
		if sub.deliver(d) {
			h.dropped.Add(1)
			util.LogDebugf("Subscriber %s queue full, dropped oldest delta", sub.ID)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns the running counts of published and dropped deltas.
func (h *Hub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}

// Close tears down every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
}
