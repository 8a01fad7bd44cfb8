// Package client keeps a controller node connected to a remote monitor
// and streams its decisions and unit status over a WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// ErrNotConnected is returned when sending without a connection
var ErrNotConnected = errors.New("not connected")

const writeTimeout = 10 * time.Second

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// ConnectionConfig holds configuration for the connection. Zero durations
// take the defaults of applyDefaults.
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	NodeID               string
	HandshakeTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

func (c *ConnectionConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval < c.ReconnectInterval {
		c.MaxReconnectInterval = max(c.ReconnectInterval, time.Minute)
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
}

// ConnectionStats counts dial attempts since the connection was created
type ConnectionStats struct {
	Dials     int64     `json:"dials"`
	Failures  int64     `json:"failures"`
	Connected time.Time `json:"connected,omitempty"`
	State     string    `json:"state"`
}

// session is one live socket. Acks are tracked per session so that a
// dropped socket never vouches for the next one.
type session struct {
	ws      *websocket.Conn
	opened  time.Time
	writeMu sync.Mutex
	lastAck atomic.Int64
}

func newSession(ws *websocket.Conn) *session {
	s := &session{ws: ws, opened: time.Now()}
	s.acked()
	return s
}

func (s *session) write(msg *models.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteJSON(msg)
}

func (s *session) acked() { s.lastAck.Store(time.Now().UnixNano()) }

func (s *session) sinceAck() time.Duration {
	return time.Since(time.Unix(0, s.lastAck.Load()))
}

// shutdown says goodbye before closing the socket
func (s *session) shutdown() {
	s.writeMu.Lock()
	s.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	s.ws.Close()
}

// Connection dials the monitor, registers the node and keeps the link
// alive with acked heartbeats, redialing with capped exponential backoff.
type Connection struct {
	URL       string
	AuthToken string
	NodeID    string

	cfg     ConnectionConfig
	logger  zerolog.Logger
	started time.Time

	mu    sync.RWMutex
	state ConnectionState
	sess  *session

	dials    atomic.Int64
	failures atomic.Int64

	heartbeat func() models.HeartbeatMessage
	onConnect func()

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewConnection creates a disconnected Connection
func NewConnection(config ConnectionConfig, logger zerolog.Logger) *Connection {
	config.applyDefaults()
	c := &Connection{
		URL:       config.URL,
		AuthToken: config.AuthToken,
		NodeID:    config.NodeID,
		cfg:       config,
		logger:    logger,
		started:   time.Now(),
		stopChan:  make(chan struct{}),
	}
	c.heartbeat = func() models.HeartbeatMessage {
		return models.HeartbeatMessage{NodeID: c.NodeID, Uptime: c.Uptime()}
	}
	return c
}

// SetHeartbeat replaces the source of heartbeat payloads.
// Must be called before Run.
func (c *Connection) SetHeartbeat(fn func() models.HeartbeatMessage) {
	c.heartbeat = fn
}

// SetOnConnect registers a callback run after every successful connect.
// Must be called before Run.
func (c *Connection) SetOnConnect(fn func()) {
	c.onConnect = fn
}

// Uptime is the number of seconds since the connection was created
func (c *Connection) Uptime() int64 {
	return int64(time.Since(c.started).Seconds())
}

func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := ConnectionStats{
		Dials:    c.dials.Load(),
		Failures: c.failures.Load(),
		State:    c.state.String(),
	}
	if c.sess != nil {
		st.Connected = c.sess.opened
	}
	return st
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.logger.Debug().Str("state", state.String()).Msg("Connection state changed")
}

func (c *Connection) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return nil
	}
	return c.sess
}

// Connect dials the monitor once and registers the node with a first
// heartbeat. It does not start the read and heartbeat loops.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.dials.Add(1)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.AuthToken)

	ws, resp, err := dialer.DialContext(ctx, c.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.failures.Add(1)
		c.setState(StateDisconnected)
		return fmt.Errorf("dialing %s: %w", c.URL, err)
	}

	s := newSession(ws)
	c.mu.Lock()
	c.sess = s
	c.state = StateConnected
	c.mu.Unlock()

	if err := c.sendHeartbeat(s); err != nil {
		c.failures.Add(1)
		c.drop(s)
		return fmt.Errorf("registering node: %w", err)
	}
	c.logger.Info().Str("url", c.URL).Str("node_id", c.NodeID).Msg("Connected to monitor")

	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Run keeps the connection up until ctx is done or Close is called. It
// returns nil after Close and ctx.Err() otherwise.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := retry.Do(
			func() error { return c.Connect(ctx) },
			retry.Context(ctx),
			retry.Attempts(math.MaxUint32),
			retry.Delay(c.cfg.ReconnectInterval),
			retry.MaxDelay(c.cfg.MaxReconnectInterval),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				c.logger.Warn().Err(err).Uint("attempt", n+1).Msg("Connection failed")
			}),
		)
		if err == nil {
			c.serve(ctx)
		}
		if c.stopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}

		c.logger.Info().Dur("delay", c.cfg.ReconnectInterval).Msg("Connection lost, reconnecting")
		select {
		case <-time.After(c.cfg.ReconnectInterval):
		case <-ctx.Done():
		}
	}
}

func (c *Connection) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// serve runs the read and heartbeat loops of the current session until
// either ends or ctx is done, then drops the session.
func (c *Connection) serve(ctx context.Context) {
	s := c.current()
	if s == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop(s)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx, s)
	}()

	<-ctx.Done()
	// unblocks the reader
	s.ws.Close()
	wg.Wait()
	c.drop(s)
}

// drop forgets s if it is still the current session and closes it
func (c *Connection) drop(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	s.ws.Close()
	c.logger.Info().Dur("lasted", time.Since(s.opened)).Msg("Disconnected from monitor")
}

func (c *Connection) readLoop(s *session) {
	for {
		var msg models.Message
		if err := s.ws.ReadJSON(&msg); err != nil {
			c.logger.Debug().Err(err).Msg("Read loop ended")
			return
		}
		switch msg.Type {
		case models.MessageTypeAck:
			s.acked()
		case models.MessageTypeError:
			s.acked()
			var rejected models.ErrorMessage
			if err := msg.UnmarshalPayload(&rejected); err == nil {
				c.logger.Warn().Str("message_id", rejected.MessageID).Err(rejected).Msg("Monitor rejected message")
			}
		default:
			c.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
		}
	}
}

// heartbeatLoop gives up on the session once the monitor stops acking
func (c *Connection) heartbeatLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sinceAck() > c.cfg.PingInterval+c.cfg.PongTimeout {
				c.logger.Warn().Dur("since_ack", s.sinceAck()).Msg("Monitor stopped answering")
				return
			}
			if err := c.sendHeartbeat(s); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
		}
	}
}

func (c *Connection) sendHeartbeat(s *session) error {
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, c.heartbeat())
	if err != nil {
		return err
	}
	return s.write(msg)
}

func (c *Connection) send(msgType models.MessageType, payload interface{}) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return s.write(msg)
}

// Send sends a single decision to the monitor
func (c *Connection) Send(d *models.Decision) error {
	return c.send(models.MessageTypeDecision, d)
}

// SendBatch sends decisions in one message, oldest first
func (c *Connection) SendBatch(decisions []*models.Decision) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(decisions) == 0 {
		return nil
	}

	flat := make([]models.Decision, len(decisions))
	for i, d := range decisions {
		flat[i] = *d
	}
	if err := c.send(models.MessageTypeBatch, models.NewBatchMessage(c.NodeID, flat)); err != nil {
		return err
	}
	c.logger.Debug().Int("count", len(decisions)).Msg("Sent batch of decisions")
	return nil
}

// SendStatus reports the current status of the node's units
func (c *Connection) SendStatus(statuses []models.Status) error {
	return c.send(models.MessageTypeStatus, models.StatusMessage{NodeID: c.NodeID, Units: statuses})
}

// Close stops Run and closes the socket with a normal closure frame.
// It is safe to call more than once.
func (c *Connection) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if s != nil {
		s.shutdown()
		c.logger.Info().Msg("Connection closed")
	}
	return nil
}
