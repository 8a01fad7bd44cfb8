// Package controller decides the ventilation level of a unit from its
// dew points and timers.
package controller

import (
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// Params are the tuning options of one unit
type Params struct {
	DeltaTrigger float64
	MinOnTime    time.Duration
	MaxOnTime    time.Duration
	MinHumidity  float64
	TwoSpeed     bool
}

// State is the level and timers of a unit. A zero time means the timer is unset.
type State struct {
	Level      models.Level `json:"level"`
	MinOnUntil time.Time    `json:"min_on_until"`
	MaxOnUntil time.Time    `json:"max_on_until"`
}

// Input is what a single evaluation looks at
type Input struct {
	IndoorDewPoint  float64
	OutdoorDewPoint float64
	Target          float64
	HasTarget       bool
	IndoorHumidity  float64
	Now             time.Time
}

// Result is the outcome of Evaluate
type Result struct {
	State   State
	Rule    models.Rule
	Delta   float64
	Changed bool
}

// Evaluate applies the control rules in order:
//
//  1. an unexpired min-on timer holds the current level
//  2. an indoor dew point at or below the target turns the unit off
//  3. an expired max-on timer turns the unit off
//  4. indoor humidity below the floor holds the current level
//  5. the dew point delta selects high, low or off
//
// A result at the current level changes nothing, timers included.
func Evaluate(p Params, st State, in Input) Result {
	delta := in.IndoorDewPoint - in.OutdoorDewPoint

	if !st.MinOnUntil.IsZero() && in.Now.Before(st.MinOnUntil) {
		return Result{State: st, Rule: models.RuleMinOnHold, Delta: delta}
	}
	if in.HasTarget && in.IndoorDewPoint <= in.Target {
		return transition(p, st, models.LevelOff, models.RuleTargetReached, in.Now, delta)
	}
	if !st.MaxOnUntil.IsZero() && in.Now.After(st.MaxOnUntil) {
		return transition(p, st, models.LevelOff, models.RuleMaxOnElapsed, in.Now, delta)
	}
	if in.IndoorHumidity < p.MinHumidity {
		return Result{State: st, Rule: models.RuleBelowMinHumidity, Delta: delta}
	}

	switch {
	case delta >= p.DeltaTrigger:
		return transition(p, st, p.runLevel(models.LevelHigh), models.RuleDeltaHigh, in.Now, delta)
	case delta >= p.DeltaTrigger/2:
		return transition(p, st, p.runLevel(models.LevelLow), models.RuleDeltaLow, in.Now, delta)
	default:
		return transition(p, st, models.LevelOff, models.RuleDeltaNone, in.Now, delta)
	}
}

// runLevel maps a two-speed level onto the levels the unit actually has
func (p Params) runLevel(l models.Level) models.Level {
	if !p.TwoSpeed && l.Running() {
		return models.LevelOn
	}
	return l
}

func transition(p Params, st State, to models.Level, rule models.Rule, now time.Time, delta float64) Result {
	if st.Level == to {
		return Result{State: st, Rule: rule, Delta: delta}
	}
	return Result{State: enter(p, st, to, now), Rule: rule, Delta: delta, Changed: true}
}

// enter moves st to level to. Timers start only if unset and are cleared on off.
func enter(p Params, st State, to models.Level, now time.Time) State {
	st.Level = to
	if !to.Running() {
		st.MinOnUntil = time.Time{}
		st.MaxOnUntil = time.Time{}
		return st
	}
	if st.MinOnUntil.IsZero() {
		st.MinOnUntil = now.Add(p.MinOnTime)
	}
	if st.MaxOnUntil.IsZero() {
		st.MaxOnUntil = now.Add(p.MaxOnTime)
	}
	return st
}
