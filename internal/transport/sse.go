package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/penwyp/go-claude-stream/internal/core/hub"
	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/util"
)

const heartbeatInterval = 30 * time.Second

// SSEHandler streams hub deltas to live clients as Server-Sent Events. Query
// parameters map directly to hub filters: project, session, and type may each
// be repeated. The hub's drop-oldest policy applies per connection; when
// deliveries were dropped the client receives a "missed" event so it can
// trigger a full resync.
type SSEHandler struct {
	hub *hub.Hub
}

// NewSSEHandler creates a handler over the given hub.
func NewSSEHandler(h *hub.Hub) *SSEHandler {
	return &SSEHandler{hub: h}
}

func (s *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe(filterFromQuery(r))
	defer s.hub.Unsubscribe(sub)

	writeEvent(w, "connected", map[string]any{
		"subscription": sub.ID,
		"time":         time.Now().UTC(),
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			writeEvent(w, "heartbeat", map[string]any{"time": time.Now().UTC()})
			flusher.Flush()

		case delta, ok := <-sub.Events():
			if !ok {
				return
			}
			if sub.Missed() {
				sub.ClearMissed()
				writeEvent(w, "missed", map[string]any{"resync": true})
			}
			writeEvent(w, string(delta.Type), delta)
			flusher.Flush()
		}
	}
}

func filterFromQuery(r *http.Request) hub.Filter {
	q := r.URL.Query()

	var f hub.Filter
	f.Projects = q["project"]
	f.Sessions = q["session"]
	for _, t := range q["type"] {
		f.Types = append(f.Types, model.DeltaType(t))
	}
	return f
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		util.LogDebugf("Failed to marshal SSE payload: %v", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
