// Package mqttbridge connects units to a home automation broker: entity
// states come in over statestream topics, switch commands and unit
// attributes go out.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// Client is the part of mqtt.Client the bridge uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// StateSetter stores incoming entity states
type StateSetter interface {
	Set(entity, value string)
}

// Registry is what the bridge needs from the running units
type Registry interface {
	Status(id string) (models.Status, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Reset(id string) error
}

// Bridge moves entity states, switch commands and unit attributes over MQTT
type Bridge struct {
	client  Client
	cfg     config.MQTTConfig
	states  StateSetter
	logger  zerolog.Logger
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler

	// commands run one at a time off paho's delivery goroutine, since they
	// publish and wait for the ack
	cmds      chan func(context.Context)
	startCmds sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a bridge. states may be nil when no entities are subscribed.
func New(client Client, cfg config.MQTTConfig, states StateSetter, logger zerolog.Logger) *Bridge {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:  client,
		cfg:     cfg,
		states:  states,
		logger:  logger,
		timeout: timeout,
		subs:    make(map[string]mqtt.MessageHandler),
		cmds:    make(chan func(context.Context), 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close stops running commands. Commands still queued are dropped.
func (b *Bridge) Close() {
	b.cancel()
}

func (b *Bridge) dispatch(cmd func(context.Context)) {
	if b.ctx.Err() != nil {
		return
	}
	b.startCmds.Do(func() { go b.runCommands() })
	select {
	case b.cmds <- cmd:
	case <-b.ctx.Done():
	}
}

func (b *Bridge) runCommands() {
	for {
		select {
		case cmd := <-b.cmds:
			if b.ctx.Err() != nil {
				return
			}
			cmd(b.ctx)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) subscribe(topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()

	token := b.client.Subscribe(topic, b.cfg.QoS, handler)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// Resubscribe restores every subscription, after a reconnect
func (b *Bridge) Resubscribe() {
	b.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(b.subs))
	for topic, h := range b.subs {
		subs[topic] = h
	}
	b.mu.Unlock()

	for topic, h := range subs {
		token := b.client.Subscribe(topic, b.cfg.QoS, h)
		go func(topic string, token mqtt.Token) {
			if token.WaitTimeout(b.timeout) && token.Error() != nil {
				b.logger.Error().Err(token.Error()).Str("topic", topic).Msg("resubscribe failed")
			}
		}(topic, token)
	}
}

// SubscribeStates feeds the state of each entity into the state setter
func (b *Bridge) SubscribeStates(entities []string) error {
	seen := make(map[string]bool)
	for _, entity := range entities {
		if seen[entity] {
			continue
		}
		seen[entity] = true

		topic, err := StateTopic(b.cfg.StatePrefix, entity)
		if err != nil {
			return err
		}
		if err := b.subscribe(topic, b.handleState); err != nil {
			return err
		}
		b.logger.Debug().Str("entity", entity).Str("topic", topic).Msg("subscribed to state")
	}
	return nil
}

func (b *Bridge) handleState(_ mqtt.Client, msg mqtt.Message) {
	entity, ok := EntityFromStateTopic(b.cfg.StatePrefix, msg.Topic())
	if !ok {
		b.logger.Warn().Str("topic", msg.Topic()).Msg("unexpected state topic")
		return
	}
	b.states.Set(entity, parseState(msg.Payload()))
}

// SubscribeCommands lets the broker enable, disable and reset units
func (b *Bridge) SubscribeCommands(reg Registry, unitIDs []string) error {
	for _, id := range unitIDs {
		err := b.subscribe(ModeTopic(b.cfg.CommandPrefix, id), func(_ mqtt.Client, msg mqtt.Message) {
			enabled, err := parseSwitch(msg.Payload())
			if err != nil {
				b.logger.Warn().Err(err).Str("unit", id).Msg("ignoring mode command")
				return
			}
			b.dispatch(func(ctx context.Context) {
				if err := reg.SetEnabled(ctx, id, enabled); err != nil {
					b.logger.Error().Err(err).Str("unit", id).Msg("mode command failed")
				}
			})
		})
		if err != nil {
			return err
		}

		err = b.subscribe(ResetTopic(b.cfg.CommandPrefix, id), func(_ mqtt.Client, _ mqtt.Message) {
			b.dispatch(func(context.Context) {
				if err := reg.Reset(id); err != nil {
					b.logger.Error().Err(err).Str("unit", id).Msg("reset command failed")
				}
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetSwitch implements controller.ActuatorSink by publishing ON or OFF
// to the entity's command topic.
func (b *Bridge) SetSwitch(ctx context.Context, entity string, on bool) error {
	topic, err := CommandTopic(b.cfg.CommandPrefix, entity)
	if err != nil {
		return err
	}
	payload := "OFF"
	if on {
		payload = "ON"
	}

	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.timeout):
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// AttributePublisher publishes a unit's status after each decision
type AttributePublisher struct {
	bridge   *Bridge
	registry Registry
}

// NewAttributePublisher creates a wmc.Observer publishing retained attributes
func NewAttributePublisher(b *Bridge, reg Registry) *AttributePublisher {
	return &AttributePublisher{bridge: b, registry: reg}
}

func (p *AttributePublisher) Observe(d models.Decision) {
	status, err := p.registry.Status(d.UnitID)
	if err != nil {
		p.bridge.logger.Warn().Err(err).Str("unit", d.UnitID).Msg("no status to publish")
		return
	}
	if err := p.bridge.PublishStatus(status); err != nil {
		p.bridge.logger.Warn().Err(err).Str("unit", d.UnitID).Msg("failed to publish attributes")
	}
}

// PublishStatus publishes the level and attributes of a unit, retained.
// It does not wait for the broker.
func (b *Bridge) PublishStatus(s models.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	prefix := b.cfg.AttributesPrefix
	b.client.Publish(LevelTopic(prefix, s.UnitID), b.cfg.QoS, true, s.Level.String())
	b.client.Publish(AttributesTopic(prefix, s.UnitID), b.cfg.QoS, true, payload)
	return nil
}
