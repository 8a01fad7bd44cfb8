package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// ActuatorSink switches an entity on or off
type ActuatorSink interface {
	SetSwitch(ctx context.Context, entity string, on bool) error
}

// Controller owns the state of one unit and turns level changes into
// switch commands. It is not safe for concurrent use.
type Controller struct {
	params    Params
	actuators Actuators
	sink      ActuatorSink
	state     State
	logger    zerolog.Logger

	commandErrors int
}

// New creates a controller starting at off
func New(p Params, a Actuators, sink ActuatorSink, logger zerolog.Logger) *Controller {
	p.TwoSpeed = a.TwoSpeed()
	return &Controller{
		params:    p,
		actuators: a,
		sink:      sink,
		logger:    logger,
	}
}

func (c *Controller) Params() Params {
	return c.params
}

func (c *Controller) Actuators() Actuators {
	return c.actuators
}

// State returns a copy of the current state
func (c *Controller) State() State {
	return c.state
}

// Restore replaces the state without sending commands. Call Sync afterwards
// to bring the switches in line.
func (c *Controller) Restore(st State) {
	if !st.Level.Running() {
		st.MinOnUntil = time.Time{}
		st.MaxOnUntil = time.Time{}
	}
	if !c.params.TwoSpeed && st.Level.Running() {
		st.Level = models.LevelOn
	}
	if c.params.TwoSpeed && st.Level == models.LevelOn {
		st.Level = models.LevelLow
	}
	c.state = st
}

// CommandErrors returns how many switch commands have failed
func (c *Controller) CommandErrors() int {
	return c.commandErrors
}

// Apply evaluates in against the current state and sends the resulting
// commands. Sink failures are logged; the state advances regardless.
func (c *Controller) Apply(ctx context.Context, in Input) Result {
	res := Evaluate(c.params, c.state, in)
	if res.Changed {
		c.send(ctx, Commands(c.actuators, c.state.Level, res.State.Level))
		c.logger.Info().
			Str("from", c.state.Level.String()).
			Str("to", res.State.Level.String()).
			Str("rule", string(res.Rule)).
			Float64("delta", res.Delta).
			Msg("level changed")
	}
	c.state = res.State
	return res
}

// Force moves to level outside the control rules
func (c *Controller) Force(ctx context.Context, level models.Level, rule models.Rule, now time.Time) Result {
	level = c.params.runLevel(level)
	res := transition(c.params, c.state, level, rule, now, 0)
	if res.Changed {
		c.send(ctx, Commands(c.actuators, c.state.Level, res.State.Level))
		c.logger.Info().
			Str("from", c.state.Level.String()).
			Str("to", res.State.Level.String()).
			Str("rule", string(rule)).
			Msg("level forced")
	}
	c.state = res.State
	return res
}

// Sync re-sends the switch states for the current level
func (c *Controller) Sync(ctx context.Context) {
	c.send(ctx, Desired(c.actuators, c.state.Level))
}

func (c *Controller) send(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		if err := c.sink.SetSwitch(ctx, cmd.Entity, cmd.On); err != nil {
			c.commandErrors++
			c.logger.Warn().Err(err).
				Str("entity", cmd.Entity).
				Bool("on", cmd.On).
				Msg("switch command failed")
		}
	}
}
