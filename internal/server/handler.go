package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// Handler accepts WebSocket connections from controller nodes
type Handler struct {
	upgrader    websocket.Upgrader
	authToken   string
	store       DecisionStore
	logger      zerolog.Logger
	activeNodes map[string]*NodeConnection
	mutex       sync.RWMutex

	dbWriter DecisionWriter
	registry *RemoteRegistry
	hub      *Hub
}

// NodeConnection represents an active node connection
type NodeConnection struct {
	NodeID      string    `json:"node_id"`
	RemoteAddr  string    `json:"remote_addr"`
	Units       int       `json:"units"`
	BufferSize  int       `json:"buffer_size"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewHandler creates a new ingest handler
func NewHandler(authToken string, store DecisionStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins, logger),
		},
		authToken:   authToken,
		store:       store,
		logger:      logger,
		activeNodes: make(map[string]*NodeConnection),
	}
}

// SetDBWriter makes received decisions persistent
func (h *Handler) SetDBWriter(w DecisionWriter) {
	h.dbWriter = w
}

// SetRegistry records reported unit statuses
func (h *Handler) SetRegistry(r *RemoteRegistry) {
	h.registry = r
}

// SetHub forwards received data to dashboards
func (h *Handler) SetHub(hub *Hub) {
	h.hub = hub
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validToken(r, h.authToken) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()
	h.mutex.Lock()
	h.activeNodes[connKey] = &NodeConnection{
		NodeID:      connKey, // replaced by the first heartbeat
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeNode(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(conn, connKey, &msg)
	}
}

// handleMessage processes a single message from a node
func (h *Handler) handleMessage(conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	var err error
	switch msg.Type {
	case models.MessageTypeDecision:
		err = h.handleDecision(msg)
	case models.MessageTypeBatch:
		err = h.handleBatch(msg)
	case models.MessageTypeHeartbeat:
		err = h.handleHeartbeat(connKey, msg)
	case models.MessageTypeStatus:
		err = h.handleStatus(connKey, msg)
	default:
		if msg.Type.Known() {
			h.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring reply sent by node")
			return
		}
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.send(conn, models.MessageTypeError, models.Reject(msg, models.ErrorUnknownType, fmt.Errorf("unknown message type %q", msg.Type)))
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Failed to handle message")
		h.send(conn, models.MessageTypeError, models.Reject(msg, models.ErrorBadPayload, err))
		return
	}
	h.updateNodeLastSeen(connKey)
	h.send(conn, models.MessageTypeAck, models.Ack(msg))
}

// accept stores one decision and fans it out
func (h *Handler) accept(d models.Decision) bool {
	if d.UnitID == "" || d.Timestamp.IsZero() {
		return false
	}
	if d.Reading != nil && !d.Reading.IsValid() {
		return false
	}
	h.store.Add(&d)
	if h.dbWriter != nil {
		h.dbWriter.Write(d.Copy())
	}
	if h.hub != nil {
		h.hub.Broadcast(models.MessageTypeDecision, d)
	}
	return true
}

func (h *Handler) handleDecision(msg *models.Message) error {
	var d models.Decision
	if err := msg.UnmarshalPayload(&d); err != nil {
		return err
	}
	if !h.accept(d) {
		h.logger.Warn().Str("unit", d.UnitID).Msg("Decision ignored: invalid")
		return nil
	}
	h.logger.Debug().Str("unit", d.UnitID).Str("level", d.To.String()).Msg("Decision stored")
	return nil
}

func (h *Handler) handleBatch(msg *models.Message) error {
	var batch models.BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		return err
	}
	if err := batch.Check(); err != nil {
		return err
	}
	stored := 0
	for _, d := range batch.Decisions {
		if h.accept(d) {
			stored++
		}
	}
	h.logger.Info().Str("node_id", batch.NodeID).Int("count", batch.Count).Int("stored", stored).Msg("Batch stored")
	return nil
}

func (h *Handler) handleHeartbeat(connKey string, msg *models.Message) error {
	var heartbeat models.HeartbeatMessage
	if err := msg.UnmarshalPayload(&heartbeat); err != nil {
		return err
	}

	h.mutex.Lock()
	if node, ok := h.activeNodes[connKey]; ok {
		if heartbeat.NodeID != "" {
			node.NodeID = heartbeat.NodeID
		}
		node.Units = heartbeat.Units
		node.BufferSize = heartbeat.BufferSize
	}
	h.mutex.Unlock()

	h.logger.Debug().Str("node_id", heartbeat.NodeID).Int64("uptime", heartbeat.Uptime).Msg("Heartbeat received")
	return nil
}

func (h *Handler) handleStatus(connKey string, msg *models.Message) error {
	var status models.StatusMessage
	if err := msg.UnmarshalPayload(&status); err != nil {
		return err
	}
	nodeID := status.NodeID
	if nodeID == "" {
		nodeID = connKey
	}
	if h.registry != nil {
		h.registry.Update(nodeID, status.Units)
	}
	if h.hub != nil {
		h.hub.Broadcast(models.MessageTypeStatus, status)
	}
	return nil
}

// send writes a message to a node
func (h *Handler) send(conn *websocket.Conn, msgType models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("Failed to send message")
	}
}

func (h *Handler) updateNodeLastSeen(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if node, ok := h.activeNodes[connKey]; ok {
		node.LastSeen = time.Now()
	}
}

func (h *Handler) removeNode(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	nodeID := connKey
	if node, ok := h.activeNodes[connKey]; ok {
		nodeID = node.NodeID
	}
	delete(h.activeNodes, connKey)
	h.logger.Info().Str("node_id", nodeID).Msg("Node disconnected")
}

// GetActiveNodes returns the currently connected nodes
func (h *Handler) GetActiveNodes() []NodeConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	nodes := make([]NodeConnection, 0, len(h.activeNodes))
	for _, n := range h.activeNodes {
		nodes = append(nodes, *n)
	}
	return nodes
}

// HandleNodes lists the connected nodes
func (h *Handler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.GetActiveNodes())
}
