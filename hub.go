package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub maintains one topic's set of active clients and broadcasts to them.
// Adapted from the teacher's single-topic Hub (hub.go) into a per-topic
// instance so the Telemetry Emitter's two feeds (/ws/price, /ws/status)
// can each carry only their own payload shape, mirroring the teacher's
// own publicHub/privateHub split in main.go.
type Hub struct {
	name      string
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
}

func NewHub(name string) *Hub {
	return &Hub{
		name:    name,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket manages one connection's lifecycle: upgrade, register,
// ping/pong keepalive, blocking read loop until disconnect.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("topic", h.name).Msg("hub: upgrade failed")
		return
	}

	h.register(conn)
	conn.WriteJSON(map[string]interface{}{
		"type":      "connection_init",
		"topic":     h.name,
		"timestamp": time.Now().UnixMilli(),
	})

	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	const (
		writeWait      = 10 * time.Second
		pongWait       = 60 * time.Second
		pingPeriod     = (pongWait * 9) / 10
		maxMessageSize = 512
	)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
	log.Info().Str("topic", h.name).Int("clients", len(h.clients)).Msg("hub: client connected")
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Info().Str("topic", h.name).Int("clients", len(h.clients)).Msg("hub: client disconnected")
	}
}

// HasSubscribers reports whether emission should continue — per spec.md
// §4.9, feeds run only while at least one consumer is present.
func (h *Hub) HasSubscribers() bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients) > 0
}

// Broadcast sends msg to every connected client on this topic.
func (h *Hub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("topic", h.name).Msg("hub: broadcast marshal failed")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}
