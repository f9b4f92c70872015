// Package realtime broadcasts Execution/node lifecycle events to
// websocket subscribers. Grounded on
// internal/gateway/handlers/websocket.go's Hub/Client pattern
// (register/unregister channels, per-client Send buffer, channel
// subscription set), trimmed to the one channel shape this binary
// actually needs: a shared "executions" topic and per-execution
// "execution:<id>" topics instead of the
// gateway's generic tenant/user channel namespace.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prana-run/prana/internal/platform/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageType names a websocket frame's purpose.
type MessageType string

const (
	MessageSubscribe   MessageType = "subscribe"
	MessageUnsubscribe MessageType = "unsubscribe"
	MessagePing        MessageType = "ping"
	MessagePong        MessageType = "pong"
	MessageEvent       MessageType = "event"
)

// Message is the wire frame exchanged over the websocket connection.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is one connected websocket subscriber.
type Client struct {
	id       string
	conn     *websocket.Conn
	channels map[string]bool
	send     chan []byte
	hub      *Hub
	mu       sync.RWMutex
}

// Hub fans event broadcasts out to subscribed clients.
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	logger     logger.Logger
	mu         sync.RWMutex
}

type broadcastMessage struct {
	channel string
	event   string
	data    interface{}
}

// NewHub builds an idle Hub; call Run to start its event loop.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		broadcast:  make(chan broadcastMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log,
	}
}

// Run drives the hub's register/unregister/broadcast loop; it never
// returns, so the caller typically runs this in its own goroutine for
// the process lifetime.
func (h *Hub) Run() {
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
				for channel := range client.channels {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg broadcastMessage) {
	h.mu.RLock()
	clients, ok := h.channels[msg.channel]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(msg.data)
	if err != nil {
		h.logger.Warn("realtime: failed to marshal event payload", "channel", msg.channel, "error", err)
		return
	}
	frame, err := json.Marshal(Message{Type: MessageEvent, Channel: msg.channel, Event: msg.event, Data: data, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	for client := range clients {
		select {
		case client.send <- frame:
		default:
			h.mu.RUnlock()
			h.unregister <- client
			h.mu.RLock()
		}
	}
	h.mu.RUnlock()
}

// Broadcast publishes an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel, event string, data interface{}) {
	select {
	case h.broadcast <- broadcastMessage{channel: channel, event: event, data: data}:
	default:
		h.logger.Warn("realtime: broadcast channel full, dropping event", "channel", channel, "event", event)
	}
}

// Subscribe adds client to channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.mu.Lock()
	client.channels[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes client from channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	client.mu.Lock()
	delete(client.channels, channel)
	client.mu.Unlock()
}

// ServeWS upgrades r into a websocket connection and registers a Client
// for it. The initial channel (usually "execution:<id>") comes from
// the request's "channel" query parameter so a caller can open a
// socket already subscribed to the run it cares about.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime: websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       uuid.New().String(),
		conn:     conn,
		channels: make(map[string]bool),
		send:     make(chan []byte, 256),
		hub:      h,
	}
	h.register <- client

	if channel := r.URL.Query().Get("channel"); channel != "" {
		h.Subscribe(client, channel)
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case MessageSubscribe:
			if msg.Channel != "" {
				c.hub.Subscribe(c, msg.Channel)
			}
		case MessageUnsubscribe:
			if msg.Channel != "" {
				c.hub.Unsubscribe(c, msg.Channel)
			}
		case MessagePing:
			if data, err := json.Marshal(Message{Type: MessagePong, Timestamp: time.Now()}); err == nil {
				c.send <- data
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
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
