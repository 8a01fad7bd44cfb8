// Package modbus drives the fan relays of a unit through the coils of a
// Modbus-TCP relay board.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	gridx "github.com/grid-x/modbus"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ErrUnknownEntity is returned for a switch with no coil mapping
var ErrUnknownEntity = errors.New("no coil mapped for entity")

type coilWriter interface {
	WriteSingleCoil(ctx context.Context, address, value uint16) ([]byte, error)
}

// CoilSink implements controller.ActuatorSink on top of a relay board
type CoilSink struct {
	mu       sync.Mutex
	writer   coilWriter
	closer   io.Closer
	coils    map[string]uint16
	attempts uint
	logger   zerolog.Logger
}

// NewCoilSink wraps an already connected writer
func NewCoilSink(w coilWriter, coils map[string]uint16, logger zerolog.Logger) *CoilSink {
	return &CoilSink{
		writer:   w,
		coils:    coils,
		attempts: 2,
		logger:   logger,
	}
}

// Dial connects to the relay board described by cfg
func Dial(ctx context.Context, cfg config.ModbusConfig, logger zerolog.Logger) (*CoilSink, error) {
	address := strings.TrimPrefix(cfg.URL, "tcp://")
	handler := gridx.NewTCPClientHandler(address)
	handler.SlaveID = cfg.SlaveID
	handler.Timeout = cfg.Timeout
	handler.LinkRecoveryTimeout = 5 * time.Second
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond

	if err := handler.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to modbus device %s: %w", address, err)
	}
	logger.Info().Str("address", address).Uint8("slave_id", cfg.SlaveID).Msg("connected to modbus relay board")

	s := NewCoilSink(gridx.NewClient(handler), cfg.Coils, logger)
	s.closer = handler
	return s, nil
}

// SetSwitch writes the coil mapped to entity
func (s *CoilSink) SetSwitch(ctx context.Context, entity string, on bool) error {
	addr, ok := s.coils[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	value := coilOff
	if on {
		value = coilOn
	}

	err := retry.Do(
		func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, err := s.writer.WriteSingleCoil(ctx, addr, value)
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(isConnError),
	)
	if err != nil {
		return fmt.Errorf("writing coil %d for %s: %w", addr, entity, err)
	}

	s.logger.Debug().Str("entity", entity).Uint16("coil", addr).Bool("on", on).Msg("coil written")
	return nil
}

// Close releases the TCP connection
func (s *CoilSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// isConnError reports errors that a fresh attempt may cure. Modbus
// exceptions from the device are final.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "connection refused")
}
