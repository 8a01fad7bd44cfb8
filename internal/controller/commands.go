package controller

import "github.com/viking76/homeassistant-generic-wmc/internal/models"

// Actuators names the switch entities of a unit. HighSpeed is empty on
// single-speed units.
type Actuators struct {
	LowSpeed  string `yaml:"low_speed"`
	HighSpeed string `yaml:"high_speed"`
}

// TwoSpeed reports whether a high speed switch is configured
func (a Actuators) TwoSpeed() bool {
	return a.HighSpeed != ""
}

// Command sets one switch
type Command struct {
	Entity string
	On     bool
}

// Desired returns the switch states for level, offs first so two speeds
// are never on at the same time.
func Desired(a Actuators, level models.Level) []Command {
	switch level {
	case models.LevelLow:
		if !a.TwoSpeed() {
			return []Command{{Entity: a.LowSpeed, On: true}}
		}
		return []Command{{Entity: a.HighSpeed, On: false}, {Entity: a.LowSpeed, On: true}}
	case models.LevelHigh:
		if !a.TwoSpeed() {
			return []Command{{Entity: a.LowSpeed, On: true}}
		}
		return []Command{{Entity: a.LowSpeed, On: false}, {Entity: a.HighSpeed, On: true}}
	case models.LevelOn:
		cmds := []Command{}
		if a.TwoSpeed() {
			cmds = append(cmds, Command{Entity: a.HighSpeed, On: false})
		}
		return append(cmds, Command{Entity: a.LowSpeed, On: true})
	default:
		cmds := []Command{{Entity: a.LowSpeed, On: false}}
		if a.TwoSpeed() {
			cmds = append(cmds, Command{Entity: a.HighSpeed, On: false})
		}
		return cmds
	}
}

// Commands returns what must be sent to go from one level to another.
// Nothing is sent when the level does not change.
func Commands(a Actuators, from, to models.Level) []Command {
	if from == to {
		return nil
	}
	return Desired(a, to)
}
