package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"conversation-transcriber-service/internal/models"
)

// client is one browser connection. An empty conversation receives every
// conversation's events.
type client struct {
	conn         *websocket.Conn
	conversation string
}

// Hub fans Kafka events out to WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan models.TranscriptEvent
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan models.TranscriptEvent, 100),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Info().Str("conversationId", c.conversation).Int("clients", h.count()).Msg("Client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			h.mu.Unlock()
			log.Info().Int("clients", h.count()).Msg("Client disconnected")

		case ev := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.conversation != "" && c.conversation != ev.ConversationID {
					continue
				}
				if err := c.conn.WriteJSON(ev); err != nil {
					log.Warn().Err(err).Msg("WebSocket write failed")
					c.conn.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

// wsHandler upgrades /ws. ?conversation=<id> restricts the feed to one
// conversation.
func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		c := &client{conn: conn, conversation: r.URL.Query().Get("conversation")}
		hub.register <- c

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- c
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
