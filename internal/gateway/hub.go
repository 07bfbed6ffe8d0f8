// Package gateway terminates WebSocket connections and routes game
// commands to the session layer. It is the only component that talks the
// wire protocol; everything behind it works with domain types.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/energosphere/game-engine/internal/metrics"
)

// Envelope is the wire frame in both directions: a type tag and an
// arbitrary JSON payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// client is one connected WebSocket session. Identity fields are set once
// on authentication and read by the hub's routing loop afterwards.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	playerID string
	guildID  string
}

// outbound is a routed broadcast: empty targets mean every client.
type outbound struct {
	payload  []byte
	playerID string
	guildID  string
}

// Hub tracks connected clients and fans broadcasts out to them. Slow
// clients get messages dropped rather than stalling the loop.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, 256),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketSessions.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketSessions.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if msg.playerID != "" && c.playerID != msg.playerID {
					continue
				}
				if msg.guildID != "" && c.guildID != msg.guildID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Drop if the client's buffer is full to avoid
					// blocking every other connection.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("ws payload marshal failed", "event", event, "err", err)
		return nil, false
	}
	frame, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		return nil, false
	}
	return frame, true
}

// BroadcastAll sends an event to every connected client. Implements the
// scheduler's Broadcaster.
func (h *Hub) BroadcastAll(event string, payload any) {
	frame, ok := encode(event, payload)
	if !ok {
		return
	}
	select {
	case h.broadcast <- outbound{payload: frame}:
	default:
	}
}

// BroadcastPlayer sends an event to every connection authenticated as the
// given player.
func (h *Hub) BroadcastPlayer(playerID, event string, payload any) {
	frame, ok := encode(event, payload)
	if !ok {
		return
	}
	select {
	case h.broadcast <- outbound{payload: frame, playerID: playerID}:
	default:
	}
}

// BroadcastGuild sends an event to every connection whose player belongs
// to the given guild.
func (h *Hub) BroadcastGuild(guildID, event string, payload any) {
	frame, ok := encode(event, payload)
	if !ok {
		return
	}
	select {
	case h.broadcast <- outbound{payload: frame, guildID: guildID}:
	default:
	}
}

// identify records a client's player identity under the hub lock so the
// routing loop never races the authenticate handler.
func (h *Hub) identify(c *client, playerID, guildID string) {
	h.mu.Lock()
	c.playerID = playerID
	c.guildID = guildID
	h.mu.Unlock()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
