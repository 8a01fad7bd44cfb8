package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// StatusSource lists the status of the node's units
type StatusSource interface {
	Statuses() []models.Status
}

// Uplink buffers the decisions of a node and forwards them to the monitor
// in batches, together with periodic unit status.
type Uplink struct {
	conn          *Connection
	buffer        *DecisionBuffer
	units         StatusSource
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger
}

// NewUplink creates an uplink for the given node
func NewUplink(nodeID string, cfg config.UplinkConfig, buf config.BufferConfig, units StatusSource, logger zerolog.Logger) *Uplink {
	conn := NewConnection(ConnectionConfig{
		URL:                  cfg.URL,
		AuthToken:            cfg.AuthToken,
		NodeID:               nodeID,
		HandshakeTimeout:     cfg.ConnectTimeout,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
		PingInterval:         cfg.PingInterval,
		PongTimeout:          cfg.PongTimeout,
	}, logger.With().Str("component", "uplink").Logger())
	return newUplink(conn, NewDecisionBuffer(buf.Size, buf.DropOldest), units, cfg.BatchSize, cfg.FlushInterval, logger)
}

func newUplink(conn *Connection, buffer *DecisionBuffer, units StatusSource, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *Uplink {
	if batchSize < 1 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	u := &Uplink{
		conn:          conn,
		buffer:        buffer,
		units:         units,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
	conn.SetHeartbeat(u.heartbeat)
	conn.SetOnConnect(u.sendStatus)
	return u
}

// Observe implements wmc.Observer
func (u *Uplink) Observe(d models.Decision) {
	if !u.buffer.Push(d.Copy()) {
		u.logger.Warn().Str("unit", d.UnitID).Msg("Uplink buffer full, decision dropped")
	}
}

// Buffer returns the pending decisions buffer
func (u *Uplink) Buffer() *DecisionBuffer {
	return u.buffer
}

// Connected reports whether the monitor is reachable
func (u *Uplink) Connected() bool {
	return u.conn.IsConnected()
}

// Run connects to the monitor and flushes the buffer until ctx is done
func (u *Uplink) Run(ctx context.Context) error {
	// the connection outlives ctx until the final flush
	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		u.conn.Run(connCtx)
	}()

	ticker := time.NewTicker(u.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.Flush()
			cancelConn()
			u.conn.Close()
			<-done
			st := u.conn.Stats()
			u.logger.Info().
				Str("buffer", u.buffer.String()).
				Int64("dials", st.Dials).
				Int64("failed_dials", st.Failures).
				Msg("Uplink stopped")
			return ctx.Err()
		case <-ticker.C:
			if u.Flush() > 0 {
				u.sendStatus()
			}
		}
	}
}

// Flush sends buffered decisions while connected and returns how many
// were delivered. A failed batch goes back to the front of the buffer.
func (u *Uplink) Flush() int {
	sent := 0
	for u.conn.IsConnected() {
		batch := u.buffer.PopBatch(u.batchSize)
		if len(batch) == 0 {
			break
		}
		if err := u.conn.SendBatch(batch); err != nil {
			u.logger.Warn().Err(err).Int("count", len(batch)).Msg("Failed to send batch")
			u.buffer.Requeue(batch)
			break
		}
		sent += len(batch)
	}
	if sent > 0 {
		u.logger.Debug().Int("sent", sent).Int("pending", u.buffer.Size()).Msg("Flushed decisions")
	}
	return sent
}

func (u *Uplink) sendStatus() {
	if u.units == nil {
		return
	}
	if err := u.conn.SendStatus(u.units.Statuses()); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to send unit status")
	}
}

func (u *Uplink) heartbeat() models.HeartbeatMessage {
	units := 0
	if u.units != nil {
		units = len(u.units.Statuses())
	}
	return models.HeartbeatMessage{
		NodeID:     u.conn.NodeID,
		Uptime:     u.conn.Uptime(),
		BufferSize: u.buffer.Size(),
		Units:      units,
	}
}
