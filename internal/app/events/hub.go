// Package events provides the fire-and-forget notification hub. Raffle
// notifications are observability signals only: they are never retried, and
// subscribers that fall behind are dropped.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/pkg/logger"
	"github.com/gorilla/websocket"
)

// Notification types emitted by the raffle service.
const (
	TypeEntryAccepted  = "entry.accepted"
	TypeDrawRequested  = "draw.requested"
	TypeWinnerSelected = "winner.selected"
)

// Event is a single notification.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Publisher emits notifications. Publishing must never block the caller.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

const subscriberBuffer = 64

// Hub fans events out to in-process subscribers and websocket clients.
type Hub struct {
	log *logger.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

var _ Publisher = (*Hub)(nil)

// NewHub constructs an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Hub{
		log:  log,
		subs: make(map[chan Event]struct{}),
	}
}

// Publish delivers the event to every subscriber without blocking. A
// subscriber with a full buffer misses the event.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.log.WithField("type", event.Type).Debug("subscriber buffer full; event dropped")
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	events, cancel := h.Subscribe()
	defer cancel()
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
