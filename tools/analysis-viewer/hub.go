package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// CallEvent is a call.ingested or call.analyzed message from Kafka.
type CallEvent struct {
	EventType    string          `json:"eventType"`
	CallID       string          `json:"callId"`
	Source       string          `json:"source,omitempty"`
	SegmentCount int             `json:"segmentCount,omitempty"`
	AnalysisID   string          `json:"analysisId,omitempty"`
	AnalysisType string          `json:"analysisType,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// Hub fans events out to connected browsers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan CallEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan CallEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", h.count())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", h.count())

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// describe renders a one-line log summary of an event.
func describe(ev CallEvent) string {
	switch ev.EventType {
	case "call.analyzed":
		var p struct {
			Summary       string `json:"summary"`
			SentimentHint string `json:"sentiment_hint"`
		}
		_ = json.Unmarshal(ev.Payload, &p)
		if p.Summary != "" {
			return ev.AnalysisType + ": " + truncate(p.Summary, 60)
		}
		return ev.AnalysisType + ": sentiment " + p.SentimentHint
	default:
		return ev.Source + " call"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
