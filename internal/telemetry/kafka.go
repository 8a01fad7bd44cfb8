package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

const (
	transitionQueueSize = 64
	kafkaWriteTimeout   = 10 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransitionEvent is published whenever a unit changes level
type TransitionEvent struct {
	EventID         string       `json:"event_id"`
	NodeID          string       `json:"node_id"`
	UnitID          string       `json:"unit_id"`
	From            models.Level `json:"from"`
	To              models.Level `json:"to"`
	Rule            models.Rule  `json:"rule"`
	Enabled         bool         `json:"enabled"`
	IndoorDewPoint  float64      `json:"indoor_dew_point"`
	OutdoorDewPoint float64      `json:"outdoor_dew_point"`
	Target          *float64     `json:"target,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// NewTransitionEvent builds the event for a decision
func NewTransitionEvent(nodeID string, d models.Decision) TransitionEvent {
	return TransitionEvent{
		EventID:         uuid.NewString(),
		NodeID:          nodeID,
		UnitID:          d.UnitID,
		From:            d.From,
		To:              d.To,
		Rule:            d.Rule,
		Enabled:         d.Enabled,
		IndoorDewPoint:  d.IndoorDewPoint,
		OutdoorDewPoint: d.OutdoorDewPoint,
		Target:          d.Target,
		Timestamp:       d.Timestamp,
	}
}

// TransitionPublisher sends level changes to a Kafka topic keyed by unit
type TransitionPublisher struct {
	nodeID string
	writer messageWriter
	logger zerolog.Logger

	queue    chan kafka.Message
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTransitionPublisher creates a publisher writing to cfg.Topic
func NewTransitionPublisher(nodeID string, cfg config.KafkaConfig, logger zerolog.Logger) *TransitionPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newTransitionPublisher(nodeID, w, logger)
}

func newTransitionPublisher(nodeID string, w messageWriter, logger zerolog.Logger) *TransitionPublisher {
	p := &TransitionPublisher{
		nodeID: nodeID,
		writer: w,
		logger: logger,
		queue:  make(chan kafka.Message, transitionQueueSize),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Observe implements wmc.Observer. Ticks that keep the level are ignored.
func (p *TransitionPublisher) Observe(d models.Decision) {
	if !d.Transitioned() {
		return
	}
	value, err := json.Marshal(NewTransitionEvent(p.nodeID, d))
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode transition")
		return
	}
	msg := kafka.Message{
		Key:   []byte(d.UnitID),
		Value: value,
		Time:  d.Timestamp,
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn().Str("unit", d.UnitID).Msg("transition queue full, dropping event")
	}
}

func (p *TransitionPublisher) loop() {
	defer p.wg.Done()
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.Error().Err(err).Str("unit", string(msg.Key)).Msg("failed to publish transition")
			continue
		}
		p.logger.Debug().Str("unit", string(msg.Key)).Msg("transition published")
	}
}

// Stop drains queued events and closes the writer
func (p *TransitionPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		if err := p.writer.Close(); err != nil {
			p.logger.Error().Err(err).Msg("failed to close kafka writer")
		}
	})
}
