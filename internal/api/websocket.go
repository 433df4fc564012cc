package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tapdesk/pos-agent/internal/core"
	"github.com/tapdesk/pos-agent/internal/logging"
	"github.com/tapdesk/pos-agent/internal/terminal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub manages all WebSocket connections and doubles as the terminal's
// event sink: operation progress (tap prompts, card events, outcomes) is
// broadcast to every connected UI.
type WSHub struct {
	terminal *terminal.Terminal
	factory  core.ContextFactory

	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(term *terminal.Terminal, factory core.ContextFactory) *WSHub {
	return &WSHub{
		terminal:   term,
		factory:    factory,
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// SetTerminal binds the terminal after construction; the hub must exist
// before the terminal so it can be passed in as the event sink.
func (h *WSHub) SetTerminal(term *terminal.Terminal) {
	h.terminal = term
}

// Emit implements terminal.EventSink. It never blocks: if the broadcast
// queue is full the event is dropped, since stalling a card session over a
// slow UI is worse than a missed progress update.
func (h *WSHub) Emit(ev terminal.Event) {
	payload, _ := json.Marshal(ev)
	msg, _ := json.Marshal(WSMessage{Type: "event", Payload: payload})
	select {
	case h.broadcast <- msg:
	default:
		logging.Debug(logging.CatWebSocket, "Event dropped, broadcast queue full", map[string]any{
			"event": ev.Type,
		})
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			// Write lock: a stalled client gets evicted from the map here.
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Handler returns the HTTP handler that upgrades connections.
func (h *WSHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"remoteAddr": r.RemoteAddr,
		})

		client := &WSClient{
			conn: conn,
			send: make(chan []byte, 256),
			hub:  h,
		}

		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "session_state":
		c.handleSessionState(msg.ID)
	case "version":
		c.handleVersion(msg.ID)
	case "health":
		c.handleHealth(msg.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.send <- responseBytes
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.send <- responseBytes
}

func (c *WSClient) handleListReaders(id string) {
	readers, err := core.ListReaders(c.hub.factory)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "readers", map[string]interface{}{
		"readers": readers,
		"active":  c.hub.terminal.Session().Reader(),
	})
}

func (c *WSClient) handleSessionState(id string) {
	c.sendResponse(id, "session_state", map[string]string{
		"state":  c.hub.terminal.Session().State().String(),
		"reader": c.hub.terminal.Session().Reader(),
	})
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (c *WSClient) handleHealth(id string) {
	readers, err := core.ListReaders(c.hub.factory)
	c.sendResponse(id, "health", map[string]interface{}{
		"status":      "ok",
		"radio":       err == nil,
		"readerCount": len(readers),
	})
}
