// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jontk/core-arbiter/internal/protocol"
	arberrors "github.com/jontk/core-arbiter/pkg/errors"
)

// dispatcherEvent is pushed as one JSON object per WebSocket text
// frame to every connected /v1/events client.
type dispatcherEvent struct {
	Type       string    `json:"type"`
	Kind       string    `json:"kind,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Value      int       `json:"value,omitempty"`
	DurationMS float64   `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// eventHub fans out dispatcherEvents to every registered connection.
// Broadcast is called from the dispatcher's own goroutine (via
// EventBroadcaster), so it must never block: a slow or wedged consumer
// has its event dropped rather than stall scheduling.
type eventHub struct {
	mu    sync.Mutex
	conns map[uuid.UUID]chan []byte
}

func newEventHub() *eventHub {
	return &eventHub{conns: make(map[uuid.UUID]chan []byte)}
}

func (h *eventHub) register() (uuid.UUID, chan []byte) {
	id := uuid.New()
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.conns[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *eventHub) unregister(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[id]; ok {
		close(ch)
		delete(h.conns, id)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.conns {
		close(ch)
		delete(h.conns, id)
	}
}

func (h *eventHub) broadcast(ev dispatcherEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- data:
		default:
		}
	}
}

// EventBroadcaster is the dispatcher.Observer-shaped sink the inspector
// hands to whatever composes the dispatcher's final Observer. It never
// blocks or touches dispatcher state directly — every call just
// serializes its arguments into a new JSON event and fans it out.
type EventBroadcaster struct {
	hub *eventHub
}

func (b *EventBroadcaster) OnMessage(k protocol.Kind) {
	b.hub.broadcast(dispatcherEvent{Type: "message", Kind: k.String(), Timestamp: time.Now()})
}

func (b *EventBroadcaster) OnHandlerDuration(k protocol.Kind, d time.Duration) {
	b.hub.broadcast(dispatcherEvent{
		Type: "handler_duration", Kind: k.String(),
		DurationMS: float64(d) / float64(time.Millisecond),
		Timestamp:  time.Now(),
	})
}

func (b *EventBroadcaster) OnError(err *arberrors.ArbiterError) {
	b.hub.broadcast(dispatcherEvent{
		Type: "error", Code: string(err.Code), Message: err.Error(),
		Timestamp: time.Now(),
	})
}

func (b *EventBroadcaster) OnDelayedAckDepth(n int) {
	b.hub.broadcast(dispatcherEvent{Type: "delayed_ack_depth", Value: n, Timestamp: time.Now()})
}

func (b *EventBroadcaster) OnAsyncInFlight(n int) {
	b.hub.broadcast(dispatcherEvent{Type: "async_in_flight", Value: n, Timestamp: time.Now()})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // local debug surface, not internet-facing
}

const eventPingInterval = 30 * time.Second

// handleEvents upgrades the request to a WebSocket and streams
// dispatcherEvents to it until the client disconnects. Grounded on the
// teacher's streaming.WebSocketServer.HandleWebSocket/keepAlive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("inspector: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch := s.hub.register()
	defer s.hub.unregister(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
