package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one message on the live feed.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Event types
const (
	EventHello          = "hello"
	EventRecommendation = "recommendation"
	EventModelReloaded  = "model_reloaded"
	EventRetrainQueued  = "retrain_queued"
)

const writeWait = 5 * time.Second

// EventHub fans events out to connected websocket clients. Publish never
// blocks; events are dropped when the buffer is full.
type EventHub struct {
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]bool
	clientsMu   sync.Mutex
	broadcast   chan Event
	stopChannel chan struct{}
	stopOnce    sync.Once
	started     sync.Once
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 100
	}
	return &EventHub{
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:     make(map[*websocket.Conn]bool),
		broadcast:   make(chan Event, buffer),
		stopChannel: make(chan struct{}),
	}
}

// Start launches the broadcaster goroutine. Calling it twice is a no-op.
func (h *EventHub) Start() {
	h.started.Do(func() { go h.clientBroadcaster() })
}

// Stop closes every client connection and ends the broadcaster.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChannel)

		h.clientsMu.Lock()
		for client := range h.clients {
			client.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
	})
}

// Publish queues ev for delivery.
func (h *EventHub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	default:
		log.Warn().Str("type", ev.Type).Msg("Event buffer full, dropping event")
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *EventHub) clientBroadcaster() {
	for {
		select {
		case ev := <-h.broadcast:
			h.broadcastToClients(ev)
		case <-h.stopChannel:
			return
		}
	}
}

func (h *EventHub) broadcastToClients(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event for broadcast")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Dropping websocket client")
			client.Close()
			delete(h.clients, client)
		}
	}
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// Greet before registering so the broadcaster stays the only writer.
	hello, _ := json.Marshal(Event{Type: EventHello, Timestamp: time.Now().UTC()})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
}
