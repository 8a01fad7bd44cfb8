package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

type recordingSink struct {
	calls []Command
	err   error
}

func (s *recordingSink) SetSwitch(_ context.Context, entity string, on bool) error {
	s.calls = append(s.calls, Command{Entity: entity, On: on})
	return s.err
}

func newTestController(a Actuators) (*Controller, *recordingSink) {
	sink := &recordingSink{}
	p := Params{DeltaTrigger: 3, MinOnTime: 0, MaxOnTime: 2 * time.Hour}
	return New(p, a, sink, zerolog.Nop()), sink
}

func TestController_ApplySendsCommandsOnce(t *testing.T) {
	c, sink := newTestController(dual)
	ctx := context.Background()

	res := c.Apply(ctx, input(20, 10))
	require.True(t, res.Changed)
	assert.Equal(t, []Command{{"switch.wmc_low", false}, {"switch.wmc_high", true}}, sink.calls)

	res = c.Apply(ctx, input(20, 10))
	assert.False(t, res.Changed)
	assert.Len(t, sink.calls, 2, "re-asserting the same level sends nothing")
	assert.Equal(t, models.LevelHigh, c.State().Level)
}

func TestController_TwoSpeedFromActuators(t *testing.T) {
	c, _ := newTestController(single)
	assert.False(t, c.Params().TwoSpeed)

	res := c.Apply(context.Background(), input(20, 10))
	assert.Equal(t, models.LevelOn, res.State.Level)
}

func TestController_SinkErrorStillAdvances(t *testing.T) {
	c, sink := newTestController(dual)
	sink.err = errors.New("broker down")

	res := c.Apply(context.Background(), input(20, 10))

	assert.Equal(t, models.LevelHigh, c.State().Level)
	assert.Equal(t, res.State, c.State())
	assert.Equal(t, 2, c.CommandErrors())
}

func TestController_Sync(t *testing.T) {
	c, sink := newTestController(dual)
	c.Restore(State{Level: models.LevelLow, MinOnUntil: now, MaxOnUntil: now.Add(time.Hour)})

	c.Sync(context.Background())
	assert.Equal(t, []Command{{"switch.wmc_high", false}, {"switch.wmc_low", true}}, sink.calls)
}

func TestController_Restore(t *testing.T) {
	c, sink := newTestController(single)

	c.Restore(State{Level: models.LevelHigh, MinOnUntil: now, MaxOnUntil: now.Add(time.Hour)})
	assert.Equal(t, models.LevelOn, c.State().Level)
	assert.Empty(t, sink.calls)

	c.Restore(State{Level: models.LevelOff, MinOnUntil: now, MaxOnUntil: now.Add(time.Hour)})
	assert.True(t, c.State().MinOnUntil.IsZero())
	assert.True(t, c.State().MaxOnUntil.IsZero())
}

func TestController_Force(t *testing.T) {
	c, sink := newTestController(dual)
	ctx := context.Background()
	c.Apply(ctx, input(20, 10))
	sink.calls = nil

	res := c.Force(ctx, models.LevelOff, models.RuleDisabled, now)
	assert.True(t, res.Changed)
	assert.Equal(t, models.RuleDisabled, res.Rule)
	assert.Equal(t, State{}, c.State())
	assert.Equal(t, []Command{{"switch.wmc_low", false}, {"switch.wmc_high", false}}, sink.calls)

	res = c.Force(ctx, models.LevelOff, models.RuleDisabled, now)
	assert.False(t, res.Changed)
	assert.Len(t, sink.calls, 2)
}
