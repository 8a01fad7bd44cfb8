package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking76/homeassistant-generic-wmc/internal/dewpoint"
	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func twoSpeed() Params {
	return Params{
		DeltaTrigger: 3,
		MinOnTime:    10 * time.Minute,
		MaxOnTime:    2 * time.Hour,
		MinHumidity:  30,
		TwoSpeed:     true,
	}
}

func input(indoor, outdoor float64) Input {
	return Input{IndoorDewPoint: indoor, OutdoorDewPoint: outdoor, IndoorHumidity: 60, Now: now}
}

func TestEvaluate_ScenarioA(t *testing.T) {
	indoor, err := dewpoint.DewPoint(22, 65)
	require.NoError(t, err)
	outdoor, err := dewpoint.DewPoint(5, 80)
	require.NoError(t, err)

	in := Input{IndoorDewPoint: indoor, OutdoorDewPoint: outdoor, IndoorHumidity: 65, Now: now}
	res := Evaluate(twoSpeed(), State{}, in)

	assert.InDelta(t, 13.3, res.Delta, 0.05)
	assert.True(t, res.Changed)
	assert.Equal(t, models.RuleDeltaHigh, res.Rule)
	assert.Equal(t, models.LevelHigh, res.State.Level)
	assert.Equal(t, now.Add(10*time.Minute), res.State.MinOnUntil)
	assert.Equal(t, now.Add(2*time.Hour), res.State.MaxOnUntil)
}

func TestEvaluate_ScenarioB(t *testing.T) {
	indoor, _ := dewpoint.DewPoint(22, 20)
	outdoor, _ := dewpoint.DewPoint(5, 80)

	for _, level := range []models.Level{models.LevelOff, models.LevelLow} {
		st := State{Level: level}
		in := Input{IndoorDewPoint: indoor, OutdoorDewPoint: outdoor, IndoorHumidity: 20, Now: now}

		res := Evaluate(twoSpeed(), st, in)
		assert.False(t, res.Changed)
		assert.Equal(t, models.RuleBelowMinHumidity, res.Rule)
		assert.Equal(t, st, res.State)
	}
}

func TestEvaluate_ScenarioC(t *testing.T) {
	st := State{
		Level:      models.LevelHigh,
		MinOnUntil: now.Add(-time.Minute),
		MaxOnUntil: now.Add(time.Hour),
	}
	in := input(9.5, -5)
	in.Target = 10
	in.HasTarget = true

	res := Evaluate(twoSpeed(), st, in)

	assert.True(t, res.Changed)
	assert.Equal(t, models.RuleTargetReached, res.Rule)
	assert.Equal(t, models.LevelOff, res.State.Level)
	assert.True(t, res.State.MinOnUntil.IsZero())
	assert.True(t, res.State.MaxOnUntil.IsZero())
}

func TestEvaluate_TargetBoundaryIsInclusive(t *testing.T) {
	st := State{Level: models.LevelLow, MinOnUntil: now, MaxOnUntil: now.Add(time.Hour)}
	in := input(10, 0)
	in.Target = 10
	in.HasTarget = true

	res := Evaluate(twoSpeed(), st, in)
	assert.Equal(t, models.LevelOff, res.State.Level)
	assert.Equal(t, models.RuleTargetReached, res.Rule)
}

func TestEvaluate_UnsetTargetIsIgnored(t *testing.T) {
	in := input(9.5, 0)
	in.Target = 10

	res := Evaluate(twoSpeed(), State{}, in)
	assert.Equal(t, models.LevelHigh, res.State.Level)
}

func TestEvaluate_DeltaBands(t *testing.T) {
	tests := []struct {
		name  string
		delta float64
		want  models.Level
		rule  models.Rule
	}{
		{name: "well above trigger", delta: 8, want: models.LevelHigh, rule: models.RuleDeltaHigh},
		{name: "exactly trigger", delta: 3, want: models.LevelHigh, rule: models.RuleDeltaHigh},
		{name: "just below trigger", delta: 2.99, want: models.LevelLow, rule: models.RuleDeltaLow},
		{name: "exactly half trigger", delta: 1.5, want: models.LevelLow, rule: models.RuleDeltaLow},
		{name: "just below half trigger", delta: 1.49, want: models.LevelOff, rule: models.RuleDeltaNone},
		{name: "negative", delta: -4, want: models.LevelOff, rule: models.RuleDeltaNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(twoSpeed(), State{}, input(10+tt.delta, 10))
			assert.Equal(t, tt.want, res.State.Level)
			assert.Equal(t, tt.rule, res.Rule)
			assert.InDelta(t, tt.delta, res.Delta, 1e-9)
		})
	}
}

func TestEvaluate_SingleSpeed(t *testing.T) {
	p := twoSpeed()
	p.TwoSpeed = false

	res := Evaluate(p, State{}, input(20, 10))
	assert.Equal(t, models.LevelOn, res.State.Level)

	res = Evaluate(p, State{}, input(11.5, 10))
	assert.Equal(t, models.LevelOn, res.State.Level)

	// high band on a unit already on is not a change
	res = Evaluate(p, State{Level: models.LevelOn, MinOnUntil: now, MaxOnUntil: now.Add(time.Hour)}, input(20, 10))
	assert.False(t, res.Changed)
}

func TestEvaluate_Idempotent(t *testing.T) {
	p := twoSpeed()
	in := input(20, 10)

	first := Evaluate(p, State{}, in)
	require.True(t, first.Changed)

	second := Evaluate(p, first.State, in)
	assert.False(t, second.Changed)
	assert.Equal(t, first.State, second.State)
}

func TestEvaluate_SameLevelLeavesTimers(t *testing.T) {
	p := twoSpeed()
	st := State{Level: models.LevelHigh, MinOnUntil: now.Add(-time.Hour), MaxOnUntil: now.Add(time.Hour)}

	res := Evaluate(p, st, input(20, 10))
	assert.False(t, res.Changed)
	assert.Equal(t, st, res.State)
}

func TestEvaluate_LowToHighKeepsTimers(t *testing.T) {
	p := twoSpeed()
	st := State{Level: models.LevelLow, MinOnUntil: now.Add(-time.Minute), MaxOnUntil: now.Add(time.Hour)}

	res := Evaluate(p, st, input(20, 10))
	require.True(t, res.Changed)
	assert.Equal(t, models.LevelHigh, res.State.Level)
	assert.Equal(t, st.MinOnUntil, res.State.MinOnUntil)
	assert.Equal(t, st.MaxOnUntil, res.State.MaxOnUntil)
}

func TestEvaluate_AntiShortCycle(t *testing.T) {
	p := twoSpeed()
	start := Evaluate(p, State{}, input(20, 10)).State
	require.Equal(t, models.LevelHigh, start.Level)

	// everything says off while the min-on timer runs
	for m := 0; m < 10; m++ {
		in := input(5, 10)
		in.Now = now.Add(time.Duration(m) * time.Minute)
		in.Target = 100
		in.HasTarget = true

		res := Evaluate(p, start, in)
		assert.False(t, res.Changed, "minute %d", m)
		assert.Equal(t, models.RuleMinOnHold, res.Rule)
	}

	in := input(5, 10)
	in.Now = start.MinOnUntil
	res := Evaluate(p, start, in)
	assert.True(t, res.Changed)
	assert.Equal(t, models.LevelOff, res.State.Level)
}

func TestEvaluate_MaxOnGuard(t *testing.T) {
	p := twoSpeed()
	start := Evaluate(p, State{}, input(20, 10)).State

	in := input(20, 10)
	in.Now = start.MaxOnUntil
	res := Evaluate(p, start, in)
	assert.Equal(t, models.LevelHigh, res.State.Level, "max-on fires only once now is past the timer")

	in.Now = start.MaxOnUntil.Add(time.Second)
	res = Evaluate(p, start, in)
	assert.True(t, res.Changed)
	assert.Equal(t, models.RuleMaxOnElapsed, res.Rule)
	assert.Equal(t, models.LevelOff, res.State.Level)
	assert.True(t, res.State.MaxOnUntil.IsZero())
}

func TestEvaluate_MaxOnBeatsHumidityFloor(t *testing.T) {
	st := State{Level: models.LevelLow, MinOnUntil: now.Add(-2 * time.Hour), MaxOnUntil: now.Add(-time.Minute)}
	in := input(20, 10)
	in.IndoorHumidity = 10

	res := Evaluate(twoSpeed(), st, in)
	assert.Equal(t, models.LevelOff, res.State.Level)
	assert.Equal(t, models.RuleMaxOnElapsed, res.Rule)
}

func TestEvaluate_ZeroMinOnTime(t *testing.T) {
	p := twoSpeed()
	p.MinOnTime = 0

	st := Evaluate(p, State{}, input(20, 10)).State
	require.Equal(t, now, st.MinOnUntil)

	res := Evaluate(p, st, input(5, 10))
	assert.Equal(t, models.LevelOff, res.State.Level)
}
