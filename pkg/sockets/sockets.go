// Package sockets fans messages out to websocket subscribers. The bridge
// pushes every state publish here so UIs get live updates without polling
// the broker.
package sockets

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	onConnected  func(id string)
	onError      func(err error)

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

func New(opts ...func(*Hub)) *Hub {
	h := &Hub{
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		sendBuffer:   16,
		conns:        make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle upgrades the request and keeps the connection subscribed until it
// drops or the hub closes.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is closed")
	}
	h.mu.Unlock()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	if h.onConnected != nil {
		h.onConnected(c.id)
	}
	go h.writer(c)
	go h.reader(c)
	return nil
}

// Broadcast queues payload for every subscriber. A subscriber that cannot keep
// up is dropped rather than allowed to stall the rest.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		select {
		case c.send <- payload:
		default:
			delete(h.conns, id)
			close(c.done)
			_ = c.ws.Close()
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.conns {
		delete(h.conns, id)
		close(c.done)
		_ = c.ws.Close()
	}
	return nil
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	close(c.done)
	_ = c.ws.Close()
}

func (h *Hub) writer(c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.fail(c, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.fail(c, err)
				return
			}
		}
	}
}

// reader drains inbound frames; subscribers are receive-only but the read loop
// is what notices a dropped peer.
func (h *Hub) reader(c *conn) {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			h.fail(c, err)
			return
		}
	}
}

func (h *Hub) fail(c *conn, err error) {
	if h.onError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.onError(err)
	}
	h.drop(c)
}
