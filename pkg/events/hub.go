// Package events is the control plane's push channel. The hub broadcasts
// state-change events to WebSocket subscribers so the UI can react without
// polling. Delivery is best effort: a subscriber that cannot keep up is
// dropped and reconciles through the REST API on reconnect.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event types pushed to subscribers.
const (
	TypeProxyStatus        = "proxy:status"
	TypeCredentialsUpdated = "credentials:updated"
	TypeProvidersUpdated   = "providers:updated"
	TypeModelsUpdated      = "models:updated"
	TypeSettingsUpdated    = "settings:updated"
)

// Event is one push message.
type Event struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Payload is the event body, shaped per type.
	Payload interface{} `json:"payload,omitempty"`

	// Timestamp is server-assigned milliseconds, strictly monotonic across
	// all events so subscribers can order without trusting wall clocks.
	Timestamp int64 `json:"timestamp"`
}

// StatusFunc produces the current proxy status payload. The hub calls it to
// build the synthetic proxy:status event every new subscriber receives.
type StatusFunc func(ctx context.Context) interface{}

// subscriberBuffer bounds the per-subscriber queue. A full queue means the
// subscriber is slower than the event rate and gets dropped.
const subscriberBuffer = 64

// Hub fans events out to WebSocket subscribers.
//
// Publish must be called only after the state change it announces is
// committed to the database. Events are sequenced under one lock, so every
// subscriber observes them in commit order.
type Hub struct {
	status StatusFunc
	logger *slog.Logger

	mu          sync.Mutex
	lastStamp   int64
	subscribers map[*subscriber]struct{}
	closed      bool
}

type subscriber struct {
	ch   chan Event
	conn *websocket.Conn
}

// NewHub creates a hub. status may be nil, in which case new subscribers
// receive no synthetic status event.
func NewHub(status StatusFunc) *Hub {
	return &Hub{
		status:      status,
		logger:      slog.Default().With("component", "events"),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts an event to every subscriber. Call strictly after the
// database commit for the change being announced.
func (h *Hub) Publish(eventType string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	ev := Event{Type: eventType, Payload: payload, Timestamp: h.stampLocked()}
	for sub := range h.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop it rather than block the publisher.
			delete(h.subscribers, sub)
			close(sub.ch)
			h.logger.Warn("dropping slow event subscriber")
		}
	}
}

// stampLocked returns a strictly monotonic millisecond timestamp. Callers
// hold h.mu.
func (h *Hub) stampLocked() int64 {
	now := time.Now().UnixMilli()
	if now <= h.lastStamp {
		now = h.lastStamp + 1
	}
	h.lastStamp = now
	return now
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects. The channel is server-emitting only; inbound
// frames are read and discarded to service control messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The control plane already enforces CORS; the push channel accepts
		// the same origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		conn: conn,
	}

	// Resolve the status baseline before registering so the status call does
	// not run under the hub lock. Events committed in the meantime supersede
	// the snapshot anyway.
	var statusPayload interface{}
	if h.status != nil {
		statusPayload = h.status(ctx)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.subscribers[sub] = struct{}{}
	// Synthetic status event so a fresh subscriber has a baseline without a
	// REST round trip. Stamped under the lock to keep global ordering.
	if h.status != nil {
		sub.ch <- Event{
			Type:      TypeProxyStatus,
			Payload:   statusPayload,
			Timestamp: h.stampLocked(),
		}
	}
	h.mu.Unlock()

	go h.discardInbound(ctx, conn)
	h.writeLoop(ctx, sub)
}

// writeLoop relays queued events to the connection until it drops.
func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	defer h.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event", "error", err, "type", ev.Type)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = sub.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// discardInbound drains client frames so pings are serviced.
func (h *Hub) discardInbound(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// unsubscribe removes sub and closes its connection.
func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
	sub.conn.Close(websocket.StatusNormalClosure, "")
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close drops every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.ch)
		sub.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}
