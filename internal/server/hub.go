package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/events"
)

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub bridges bus events to WebSocket clients. Every frame is one
// JSON-encoded events.Event.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	snapshot    func() events.RecordingStatus
	unsubscribe func()
}

// NewHub creates a hub subscribed to every event on bus. snapshot supplies
// the status frame a client receives right after connecting.
func NewHub(bus *events.Bus, snapshot func() events.RecordingStatus) *Hub {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		snapshot: snapshot,
	}
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Msg("marshal event frame")
			return
		}
		h.broadcast(data)
	})
	return h
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	log.Info().Int("clients", len(h.clients)).Msg("ws client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Info().Int("clients", len(h.clients)).Msg("ws client disconnected")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local clients only; the server binds to loopback by default
	})
	if err != nil {
		log.Error().Err(err).Msg("ws accept")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	if h.snapshot != nil {
		if data, err := json.Marshal(events.StatusEvent(h.snapshot())); err == nil {
			client.send <- data
		}
	}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump drains the connection until the peer goes away. Clients send
// commands over HTTP, so incoming frames are ignored.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Debug().Int("status", int(status)).Msg("ws read closed")
			} else {
				log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
		close(c.send)
	}
}
