// Package stream publishes render output to browser clients over websockets.
// Messages use the protobuf wire format; see Encode.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// sendBuffer is the number of messages queued per client before frames
	// are dropped.
	sendBuffer = 16
)

type client struct {
	id      string
	send    chan []byte
	dropped int
}

// Hub is a render.Surface that fans messages out to websocket clients. A
// client that falls behind loses frames instead of slowing the animation.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	// latest holds the last message of each kind per layer, replayed to new
	// clients.
	latest map[string]map[MessageKind][]byte
	closed bool
}

// NewHub returns a hub with no clients.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		latest:  make(map[string]map[MessageKind][]byte),
	}
}

func (h *Hub) SetPrimitives(id string, p *render.Primitives) {
	h.publish(PrimitivesMessage(id, p))
}

func (h *Hub) SetBins(id string, f render.BinFrame) {
	h.publish(BinsMessage(id, f))
}

func (h *Hub) UpdateOpacity(id string, buf *render.OpacityBuffer) {
	h.publish(OpacityMessage(id, buf))
}

func (h *Hub) publish(m *Message) {
	b := Encode(nil, m)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	kinds, ok := h.latest[m.Layer]
	if !ok {
		kinds = make(map[MessageKind][]byte)
		h.latest[m.Layer] = kinds
	}
	kinds[m.Kind] = b
	if m.Kind == KindPrimitives {
		delete(kinds, KindOpacity)
	}
	for _, c := range h.clients {
		h.sendLocked(c, b)
	}
}

func (h *Hub) sendLocked(c *client, b []byte) {
	select {
	case c.send <- b:
	default:
		c.dropped++
		if c.dropped%100 == 1 {
			monitoring.Logf("[stream] client %s is behind, dropped %d messages", c.id, c.dropped)
		}
	}
}

// register adds a client and queues the latest state of every layer.
func (h *Hub) register() *client {
	c := &client{id: uuid.NewString(), send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	for _, kinds := range h.latest {
		for _, k := range []MessageKind{KindPrimitives, KindBins, KindOpacity} {
			if b, ok := kinds[k]; ok {
				h.sendLocked(c, b)
			}
		}
	}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[stream] upgrade failed: %v", err)
		return
	}
	c := h.register()
	monitoring.Logf("[stream] client %s connected from %s", c.id, r.RemoteAddr)

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// readPump discards client messages; it exists to notice disconnects and
// answer pings.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		_ = conn.Close()
		monitoring.Logf("[stream] client %s disconnected", c.id)
	}()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
