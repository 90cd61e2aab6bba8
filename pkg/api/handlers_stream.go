package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/steward/pkg/bus"
)

// StreamEvent is the websocket event envelope.
type StreamEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleEvents streams bus traffic over a websocket. Clients can narrow the
// firehose with a subject filter query param.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventBus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = "steward.>"
	}

	events := make(chan StreamEvent, 128)
	sub, err := s.cfg.EventBus.Subscribe(ctx, filter, func(msg *bus.Message) {
		event := StreamEvent{Type: msg.Subject, Timestamp: time.Now().UTC()}
		var payload map[string]any
		if json.Unmarshal(msg.Data, &payload) == nil {
			event.Data = payload
		}
		select {
		case events <- event:
		default:
			// Slow consumer; drop rather than block the bus.
		}
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer sub.Unsubscribe()

	connected := StreamEvent{
		Type:      "connected",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"filter": filter},
	}
	if err := wsjson.Write(ctx, conn, connected); err != nil {
		return
	}

	// Drain client frames so pings and closes are noticed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
