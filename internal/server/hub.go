package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

// Hub pushes decisions and unit status to connected dashboards
type Hub struct {
	upgrader  websocket.Upgrader
	authToken string
	registry  Registry
	logger    zerolog.Logger

	mutex   sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. registry may be nil; when set, every decision is
// followed by the unit's status and new clients get a snapshot.
func NewHub(authToken string, registry Registry, logger zerolog.Logger, allowedOrigins ...string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins, logger),
		},
		authToken: authToken,
		registry:  registry,
		logger:    logger,
		clients:   make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades a dashboard connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validToken(r, h.authToken) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade dashboard connection")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientSendSize)}
	if h.registry != nil {
		if data, err := encode(models.MessageTypeStatus, models.StatusMessage{Units: h.registry.Statuses()}); err == nil {
			c.send <- data
		}
	}

	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Dashboard connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and detects disconnects
func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("Dashboard WebSocket error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("Dashboard disconnected")
	}
}

// Broadcast sends a message to every client. Slow clients miss messages.
func (h *Hub) Broadcast(msgType models.MessageType, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msgType)).Msg("Failed to encode broadcast")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Dashboard too slow, dropping message")
		}
	}
}

// Observe implements wmc.Observer
func (h *Hub) Observe(d models.Decision) {
	h.Broadcast(models.MessageTypeDecision, d)
	if h.registry == nil {
		return
	}
	if s, err := h.registry.Status(d.UnitID); err == nil {
		h.Broadcast(models.MessageTypeStatus, models.StatusMessage{Units: []models.Status{s}})
	}
}

// Clients returns the number of connected dashboards
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func encode(msgType models.MessageType, payload interface{}) ([]byte, error) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// validToken accepts "Authorization: Bearer <token>" or, for browsers,
// a token query parameter. An empty configured token disables the check.
func validToken(r *http.Request, want string) bool {
	if want == "" {
		return true
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token == want
	}
	return r.URL.Query().Get("token") == want
}

// originChecker validates the request Origin against the allowlist.
// Requests without an Origin header are same-origin.
func originChecker(allowed []string, logger zerolog.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
		return false
	}
}
