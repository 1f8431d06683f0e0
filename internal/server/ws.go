package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/kinesis/internal/control"
)

// Websocket tuning.
const (
	sendBuffer = 8
	writeWait  = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI only
	},
}

// Message is the envelope sent to feedback clients.
type Message struct {
	Type      string             `json:"type"`
	Session   string             `json:"session,omitempty"`
	Feedback  []control.Feedback `json:"feedback,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Message types.
const (
	MessageHello    = "hello"
	MessageFeedback = "feedback"
)

type client struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
}

// FeedbackHub broadcasts per-frame feedback to websocket clients. Slow
// clients drop frames rather than stall the pipeline.
type FeedbackHub struct {
	clients map[*client]struct{}
	closed  bool
	mu      sync.RWMutex
}

// NewFeedbackHub creates an empty hub.
func NewFeedbackHub() *FeedbackHub {
	return &FeedbackHub{clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the request and registers the client. The first
// message on every connection is a hello carrying a session ID.
func (h *FeedbackHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		session: uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}

	hello, _ := json.Marshal(Message{Type: MessageHello, Session: c.session, Timestamp: time.Now().UnixMilli()})
	c.send <- hello

	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writeLoop()

	// Reads only detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *FeedbackHub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *FeedbackHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish sends feedback to every client.
func (h *FeedbackHub) Publish(feedback []control.Feedback) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(Message{Type: MessageFeedback, Feedback: feedback, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("feedback encode error: %v", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *FeedbackHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *FeedbackHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
