package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ErrNotConnected is returned by Hub.Send when no connection is registered.
var ErrNotConnected = errors.New("ws: not connected")

// Conn serialises writes to a gorilla connection. Reads stay with the
// single goroutine that owns the connection.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewConn(c *websocket.Conn) *Conn {
	return &Conn{ws: c}
}

// Send writes v as a JSON text message.
func (c *Conn) Send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: map[string]*Conn{}}
}

// Add registers c for id, replacing any previous connection.
func (h *Hub) Add(id string, c *Conn) {
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
}

func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	return c, ok
}

// Remove drops id only if it still maps to c.
func (h *Hub) Remove(id string, c *Conn) {
	h.mu.Lock()
	if h.conns[id] == c {
		delete(h.conns, id)
	}
	h.mu.Unlock()
}

// Send writes v to the connection registered for id.
func (h *Hub) Send(id string, v any) error {
	c, ok := h.Get(id)
	if !ok {
		return ErrNotConnected
	}
	return c.Send(v)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
