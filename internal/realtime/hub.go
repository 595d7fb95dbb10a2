package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cabbooking/internal/api"
	"cabbooking/internal/events"
	"cabbooking/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Message is what clients receive for each booking change. Clients refetch their
// lists; no row data is pushed. ID is set only for the booking's own company and
// claiming vendor.
type Message struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id,omitempty"`
}

type client struct {
	actor identity.Actor
	conn  *websocket.Conn
	send  chan []byte
}

func (c *client) owns(ch events.Change) bool {
	switch {
	case c.actor.IsCompany():
		return ch.CompanyID != "" && ch.CompanyID == c.actor.OwnerID
	case c.actor.IsVendor():
		return ch.VendorID != "" && ch.VendorID == c.actor.OwnerID
	}
	return false
}

// Hub pushes booking change notifications to every connected dashboard.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	stop     func()

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(bus *events.Bus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		logger:  logger,
		clients: map[*client]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	h.stop = bus.Subscribe(events.TableBookings, h.broadcast)
	return h
}

// Close stops listening to the bus and disconnects every client.
func (h *Hub) Close() {
	h.stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades an authenticated request. SessionAuth must run first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	if a == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{actor: *a, conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("realtime client connected", "user_id", a.UserID, "role", string(a.Role))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) broadcast(ch events.Change) {
	owned, err := json.Marshal(Message{Table: ch.Table, Op: ch.Op, ID: ch.ID})
	if err != nil {
		h.logger.Error("encode realtime message", "err", err)
		return
	}
	anon, err := json.Marshal(Message{Table: ch.Table, Op: ch.Op})
	if err != nil {
		h.logger.Error("encode realtime message", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		msg := anon
		if c.owns(ch) {
			msg = owned
		}
		select {
		case c.send <- msg:
		default:
			// Too slow to keep up; it reconnects and refetches.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and keeps the read deadline alive.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("realtime client closed", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
